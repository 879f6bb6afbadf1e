// ABOUTME: Tests for the example owner loop
// ABOUTME: Uses a scripted owner and a real talker on the in-memory network
package app

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Talker-Protocol/talker-go/internal/descriptor"
	"github.com/Talker-Protocol/talker-go/pkg/discovery"
	"github.com/Talker-Protocol/talker-go/pkg/protocol"
	"github.com/Talker-Protocol/talker-go/pkg/talker"
)

// scriptedOwner hands out queued snapshots and then ends with err
type scriptedOwner struct {
	mu      sync.Mutex
	queue   []protocol.Snapshot
	err     error
	done    chan struct{}
	once    sync.Once
	stopped int
}

func newScriptedOwner(err error, snaps ...protocol.Snapshot) *scriptedOwner {
	return &scriptedOwner{queue: snaps, err: err, done: make(chan struct{})}
}

func (o *scriptedOwner) Poll(time.Duration) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.queue) == 0 {
		o.once.Do(func() { close(o.done) })
		return false
	}
	return true
}

func (o *scriptedOwner) Receive() (protocol.Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.queue) == 0 {
		if o.err != nil {
			return nil, o.err
		}
		return nil, talker.ErrClosed
	}
	snap := o.queue[0]
	o.queue = o.queue[1:]
	return snap, nil
}

func (o *scriptedOwner) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopped++
	return o.err
}

func (o *scriptedOwner) Done() <-chan struct{} {
	return o.done
}

func TestLoopReportsSnapshots(t *testing.T) {
	snap := protocol.Snapshot{
		0xbbbb2222: {ID: 0xbbbb2222, Hostname: "hostB.local.", Port: 52000, Payload: []byte("type=chat")},
	}
	owner := newScriptedOwner(nil, snap, protocol.Snapshot{})

	var out bytes.Buffer
	err := New(Config{Owner: owner, Out: &out}).Run(context.Background())
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "1 peers")
	assert.Contains(t, text, "0 peers")
	assert.Contains(t, text, "hostB.local:52000")
	assert.GreaterOrEqual(t, strings.Count(text, "Doing something important now"), 2)
	assert.Equal(t, 1, owner.stopped)
}

func TestLoopReturnsTalkerError(t *testing.T) {
	boom := errors.New("registration conflict")
	owner := newScriptedOwner(boom)

	var out bytes.Buffer
	err := New(Config{Owner: owner, Out: &out}).Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, owner.stopped)
}

func TestRunRequiresOwner(t *testing.T) {
	assert.Error(t, New(Config{}).Run(context.Background()))
}

func TestLoopStopsTalkerOnCancel(t *testing.T) {
	net := discovery.NewNetwork()
	txt, err := descriptor.Encode("chat")
	require.NoError(t, err)
	reg, err := net.Substrate("hostB").Register(discovery.Service{
		Instance: "0xbbbb2222",
		Category: discovery.DefaultCategory,
		Port:     52000,
		Text:     txt,
	})
	require.NoError(t, err)
	defer reg.Close()

	tk, err := talker.New(talker.Config{Type: "chat", Backend: net.Substrate("hostA")})
	require.NoError(t, err)
	require.NoError(t, tk.Start())

	out := &syncBuffer{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- New(Config{Owner: tk, Out: out, PollInterval: 20 * time.Millisecond}).Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "0xbbbb2222")
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("owner loop did not stop")
	}
	assert.NotContains(t, net.Services(discovery.DefaultCategory), tk.Instance())
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
