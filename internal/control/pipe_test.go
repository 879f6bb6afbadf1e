// ABOUTME: Tests for the in-process control pipe
// ABOUTME: Covers coalescing, poll timing, quit delivery, and closure
package control

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Talker-Protocol/talker-go/pkg/protocol"
)

func snapWith(ids ...uint32) protocol.Snapshot {
	snap := protocol.Snapshot{}
	for _, id := range ids {
		snap[id] = protocol.Peer{ID: id, Hostname: "h", Port: 40000}
	}
	return snap
}

func TestPollAndReceive(t *testing.T) {
	owner, worker := NewPipe(0)

	assert.False(t, owner.Poll(0))

	worker.Publish(snapWith(1))
	assert.True(t, owner.Poll(0))
	assert.True(t, owner.Poll(time.Second), "poll does not consume")

	snap, err := owner.Receive()
	require.NoError(t, err)
	assert.True(t, snapWith(1).Equal(snap))
	assert.False(t, owner.Poll(0))
}

func TestPollWaitsForPublish(t *testing.T) {
	owner, worker := NewPipe(0)

	go func() {
		time.Sleep(20 * time.Millisecond)
		worker.Publish(snapWith(1, 2))
	}()

	assert.True(t, owner.Poll(2*time.Second))
	snap, err := owner.Receive()
	require.NoError(t, err)
	assert.Len(t, snap, 2)
}

func TestPollTimesOut(t *testing.T) {
	owner, _ := NewPipe(0)

	start := time.Now()
	assert.False(t, owner.Poll(30*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestPublishDropsOldest(t *testing.T) {
	owner, worker := NewPipe(2)

	assert.Equal(t, 0, worker.Publish(snapWith(1)))
	assert.Equal(t, 0, worker.Publish(snapWith(1, 2)))
	assert.Equal(t, 1, worker.Publish(snapWith(1, 2, 3)))

	first, err := owner.Receive()
	require.NoError(t, err)
	assert.Len(t, first, 2)

	second, err := owner.Receive()
	require.NoError(t, err)
	assert.Len(t, second, 3)
}

func TestPublishCopies(t *testing.T) {
	owner, worker := NewPipe(0)
	snap := snapWith(1)
	worker.Publish(snap)
	delete(snap, 1)

	got, err := owner.Receive()
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestReceiveDrainsAfterWorkerClose(t *testing.T) {
	owner, worker := NewPipe(0)
	worker.Publish(snapWith(1))
	require.NoError(t, worker.Close())

	_, err := owner.Receive()
	require.NoError(t, err)

	_, err = owner.Receive()
	assert.True(t, errors.Is(err, ErrClosed))
	assert.False(t, owner.Poll(10*time.Millisecond))

	select {
	case <-owner.Closed():
	default:
		t.Error("Closed should be closed")
	}
}

func TestQuitReachesWorker(t *testing.T) {
	owner, worker := NewPipe(0)

	require.NoError(t, owner.Quit())

	select {
	case msg := <-worker.Inbox():
		assert.Equal(t, protocol.KindQuit, msg.Kind)
	case <-time.After(time.Second):
		t.Fatal("quit not delivered")
	}
}

func TestSendAfterClose(t *testing.T) {
	owner, worker := NewPipe(0)
	worker.Close()
	assert.True(t, errors.Is(owner.Quit(), ErrClosed))

	owner2, worker2 := NewPipe(0)
	require.NoError(t, owner2.Close())
	require.NoError(t, owner2.Close())
	assert.True(t, errors.Is(owner2.Quit(), ErrClosed))

	select {
	case <-worker2.OwnerGone():
	default:
		t.Error("OwnerGone should be closed")
	}
}
