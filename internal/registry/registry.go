// ABOUTME: Peer registry keyed by peer id
// ABOUTME: First-seen wins on add, removal is idempotent
package registry

import "github.com/Talker-Protocol/talker-go/pkg/protocol"

// Registry holds at most one record per peer id.
// It is owned by the worker's run loop and is not safe for concurrent use.
type Registry struct {
	peers map[uint32]protocol.Peer
}

// New creates an empty registry
func New() *Registry {
	return &Registry{peers: make(map[uint32]protocol.Peer)}
}

// Add stores p unless its id is already present. It reports whether the registry changed.
func (r *Registry) Add(p protocol.Peer) bool {
	if _, ok := r.peers[p.ID]; ok {
		return false
	}
	r.peers[p.ID] = p.Clone()
	return true
}

// Remove deletes the record for id. It reports whether the registry changed.
func (r *Registry) Remove(id uint32) bool {
	if _, ok := r.peers[id]; !ok {
		return false
	}
	delete(r.peers, id)
	return true
}

// Get returns the record for id
func (r *Registry) Get(id uint32) (protocol.Peer, bool) {
	p, ok := r.peers[id]
	return p, ok
}

// Len returns the number of peers
func (r *Registry) Len() int {
	return len(r.peers)
}

// IDs returns the peer ids in ascending order
func (r *Registry) IDs() []uint32 {
	return protocol.Snapshot(r.peers).IDs()
}

// Snapshot returns a deep copy of the table
func (r *Registry) Snapshot() protocol.Snapshot {
	return protocol.Snapshot(r.peers).Clone()
}
