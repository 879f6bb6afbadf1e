// ABOUTME: Tests for peer snapshots and the control message codec
// ABOUTME: Verifies copies, diffs, and the quit/snapshot wire forms
package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() Snapshot {
	return Snapshot{
		0xAAAA1111: {ID: 0xAAAA1111, Hostname: "hostA.local.", Port: 41000, Payload: []byte("type=chat")},
		0xBBBB2222: {ID: 0xBBBB2222, Hostname: "hostB.local.", Port: 52000, Payload: []byte("type=chat")},
	}
}

func TestPeerAccessors(t *testing.T) {
	p := sample()[0xAAAA1111]

	if p.Addr() != "hostA.local:41000" {
		t.Errorf("expected hostA.local:41000, got %s", p.Addr())
	}
	if p.CapabilityType() != "chat" {
		t.Errorf("expected capability chat, got %q", p.CapabilityType())
	}
	if (Peer{Payload: []byte("path=/")}).CapabilityType() != "" {
		t.Error("foreign payload should have no capability type")
	}
}

func TestSnapshotCloneIsDeep(t *testing.T) {
	snap := sample()
	clone := snap.Clone()
	require.True(t, snap.Equal(clone))

	clone[0xAAAA1111].Payload[0] = 'X'
	delete(clone, 0xBBBB2222)

	assert.Equal(t, byte('t'), snap[0xAAAA1111].Payload[0])
	assert.Len(t, snap, 2)
}

func TestSnapshotIDsSorted(t *testing.T) {
	assert.Equal(t, []uint32{0xAAAA1111, 0xBBBB2222}, sample().IDs())
	assert.Empty(t, Snapshot{}.IDs())
}

func TestDiff(t *testing.T) {
	prev := sample()
	next := sample()
	delete(next, 0xAAAA1111)
	next[0xCCCC3333] = Peer{ID: 0xCCCC3333, Hostname: "hostC", Port: 40000}

	added, removed := Diff(prev, next)
	assert.Equal(t, []uint32{0xCCCC3333}, added)
	assert.Equal(t, []uint32{0xAAAA1111}, removed)

	added, removed = Diff(next, next)
	assert.Empty(t, added)
	assert.Empty(t, removed)
}

func TestSnapshotMessageCopies(t *testing.T) {
	snap := sample()
	msg := SnapshotMessage(snap)
	delete(snap, 0xAAAA1111)

	assert.Equal(t, KindSnapshot, msg.Kind)
	assert.Len(t, msg.Snapshot, 2)
}

func TestQuitWireForm(t *testing.T) {
	data, err := Encode(QuitMessage())
	require.NoError(t, err)
	assert.Equal(t, `"quit"`, string(data))

	msg, err := Decode([]byte(` "quit"`))
	require.NoError(t, err)
	assert.Equal(t, KindQuit, msg.Kind)
}

func TestSnapshotWireForm(t *testing.T) {
	data, err := Encode(SnapshotMessage(sample()))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"snapshot"`)
	assert.Contains(t, string(data), `"2863272209":`)

	msg, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, KindSnapshot, msg.Kind)
	assert.True(t, sample().Equal(msg.Snapshot), "decoded %v", msg.Snapshot)
	assert.Equal(t, uint32(0xBBBB2222), msg.Snapshot[0xBBBB2222].ID)
}

func TestEmptySnapshotWireForm(t *testing.T) {
	data, err := Encode(SnapshotMessage(Snapshot{}))
	require.NoError(t, err)

	msg, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, KindSnapshot, msg.Kind)
	assert.NotNil(t, msg.Snapshot)
	assert.Empty(t, msg.Snapshot)
}

func TestDecodeUnknownKind(t *testing.T) {
	msg, err := Decode([]byte(`"hello"`))
	require.NoError(t, err)
	assert.Equal(t, Kind("hello"), msg.Kind)

	msg, err = Decode([]byte(`{"type":"ping","payload":{}}`))
	require.NoError(t, err)
	assert.Equal(t, Kind("ping"), msg.Kind)
}

func TestDecodeErrors(t *testing.T) {
	for _, in := range []string{`{`, `{"type":"snapshot","payload":{"x":{}}}`, `{"type":"snapshot","payload":[]}`} {
		_, err := Decode([]byte(in))
		assert.Error(t, err, "input %s", in)
	}

	_, err := Encode(Message{Kind: "bogus"})
	assert.Error(t, err)
}
