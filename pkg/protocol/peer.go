// ABOUTME: Peer records and full-table snapshots
// ABOUTME: Snapshots are value copies the owner can keep and diff
package protocol

import (
	"bytes"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
)

// Peer is another worker, resolved to a concrete location
type Peer struct {
	ID       uint32 `json:"-"`
	Hostname string `json:"hostname"`
	Port     uint16 `json:"port"`
	// Payload is the peer's descriptor without its length byte, e.g. "type=chat"
	Payload []byte `json:"payload"`
}

// Addr returns host:port with any trailing root dot removed from the host
func (p Peer) Addr() string {
	return net.JoinHostPort(strings.TrimSuffix(p.Hostname, "."), strconv.Itoa(int(p.Port)))
}

// CapabilityType returns the text after "type=" in the payload, or "" when absent
func (p Peer) CapabilityType() string {
	s := string(p.Payload)
	if !strings.HasPrefix(s, "type=") {
		return ""
	}
	return s[len("type="):]
}

// Equal compares every field
func (p Peer) Equal(o Peer) bool {
	return p.ID == o.ID &&
		p.Hostname == o.Hostname &&
		p.Port == o.Port &&
		bytes.Equal(p.Payload, o.Payload)
}

// Clone returns a copy that shares no memory with p
func (p Peer) Clone() Peer {
	p.Payload = bytes.Clone(p.Payload)
	return p
}

func (p Peer) String() string {
	return fmt.Sprintf("0x%x@%s", p.ID, p.Addr())
}

// Snapshot is the whole peer table at one moment, keyed by peer id
type Snapshot map[uint32]Peer

// Clone deep-copies the snapshot
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for id, p := range s {
		out[id] = p.Clone()
	}
	return out
}

// IDs returns the peer ids in ascending order
func (s Snapshot) IDs() []uint32 {
	ids := make([]uint32, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Equal reports whether both snapshots hold the same peers
func (s Snapshot) Equal(o Snapshot) bool {
	if len(s) != len(o) {
		return false
	}
	for id, p := range s {
		q, ok := o[id]
		if !ok || !p.Equal(q) {
			return false
		}
	}
	return true
}

// Diff lists the ids that appear in next but not prev, and the reverse.
// Owners that want change events derive them from consecutive snapshots.
func Diff(prev, next Snapshot) (added, removed []uint32) {
	for _, id := range next.IDs() {
		if _, ok := prev[id]; !ok {
			added = append(added, id)
		}
	}
	for _, id := range prev.IDs() {
		if _, ok := next[id]; !ok {
			removed = append(removed, id)
		}
	}
	return added, removed
}
