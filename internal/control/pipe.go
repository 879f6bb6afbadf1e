// ABOUTME: In-process control channel between a worker and its owner
// ABOUTME: Snapshots flow through a bounded buffer that keeps the newest
package control

import (
	"errors"
	"sync"
	"time"

	"github.com/Talker-Protocol/talker-go/pkg/protocol"
)

// DefaultBuffer is how many snapshots wait for the owner before the oldest is dropped
const DefaultBuffer = 16

// ErrClosed is returned once the other end has gone away
var ErrClosed = errors.New("control: channel closed")

type pipe struct {
	mu        sync.Mutex
	snapshots []protocol.Snapshot
	buffer    int
	ready     chan struct{}

	inbox chan protocol.Message

	workerDone chan struct{}
	workerOnce sync.Once
	ownerGone  chan struct{}
	ownerOnce  sync.Once
}

// NewPipe connects an owner and a worker. A buffer below one means DefaultBuffer.
func NewPipe(buffer int) (*OwnerEnd, *WorkerEnd) {
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	p := &pipe{
		buffer:     buffer,
		ready:      make(chan struct{}, 1),
		inbox:      make(chan protocol.Message, 4),
		workerDone: make(chan struct{}),
		ownerGone:  make(chan struct{}),
	}
	return &OwnerEnd{p: p}, &WorkerEnd{p: p}
}

// WorkerEnd is the worker's side of the pipe
type WorkerEnd struct {
	p *pipe
}

// Inbox delivers messages sent by the owner
func (w *WorkerEnd) Inbox() <-chan protocol.Message {
	return w.p.inbox
}

// OwnerGone is closed when the owner closes its end
func (w *WorkerEnd) OwnerGone() <-chan struct{} {
	return w.p.ownerGone
}

// Publish queues a copy of snap for the owner without blocking.
// It returns how many older snapshots were discarded to make room.
func (w *WorkerEnd) Publish(snap protocol.Snapshot) int {
	p := w.p
	snap = snap.Clone()

	p.mu.Lock()
	dropped := 0
	for len(p.snapshots) >= p.buffer {
		p.snapshots = p.snapshots[1:]
		dropped++
	}
	p.snapshots = append(p.snapshots, snap)
	p.mu.Unlock()

	p.signal()
	return dropped
}

// Close tells the owner no more snapshots will come
func (w *WorkerEnd) Close() error {
	w.p.workerOnce.Do(func() {
		close(w.p.workerDone)
	})
	return nil
}

// OwnerEnd is the owner's side of the pipe
type OwnerEnd struct {
	p *pipe
}

// Send delivers msg to the worker
func (o *OwnerEnd) Send(msg protocol.Message) error {
	p := o.p
	select {
	case <-p.workerDone:
		return ErrClosed
	case <-p.ownerGone:
		return ErrClosed
	default:
	}

	select {
	case p.inbox <- msg:
		return nil
	case <-p.workerDone:
		return ErrClosed
	}
}

// Quit asks the worker to stop
func (o *OwnerEnd) Quit() error {
	return o.Send(protocol.QuitMessage())
}

// Poll reports whether a snapshot is ready, waiting up to timeout for one
func (o *OwnerEnd) Poll(timeout time.Duration) bool {
	p := o.p
	if p.pending() {
		return true
	}
	if timeout <= 0 {
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-p.ready:
			if p.pending() {
				// Leave the token for the Receive that follows
				p.signal()
				return true
			}
		case <-p.workerDone:
			return p.pending()
		case <-timer.C:
			return p.pending()
		}
	}
}

// Receive returns the oldest queued snapshot, blocking until one arrives.
// Once the worker has closed and nothing is queued it returns ErrClosed.
func (o *OwnerEnd) Receive() (protocol.Snapshot, error) {
	p := o.p
	for {
		if snap, ok := p.pop(); ok {
			return snap, nil
		}

		select {
		case <-p.ready:
		case <-p.workerDone:
			if snap, ok := p.pop(); ok {
				return snap, nil
			}
			return nil, ErrClosed
		}
	}
}

// Closed is closed once the worker side has closed
func (o *OwnerEnd) Closed() <-chan struct{} {
	return o.p.workerDone
}

// Close abandons the owner side. The worker treats this as a quit request.
func (o *OwnerEnd) Close() error {
	o.p.ownerOnce.Do(func() {
		close(o.p.ownerGone)
	})
	return nil
}

func (p *pipe) signal() {
	select {
	case p.ready <- struct{}{}:
	default:
	}
}

func (p *pipe) pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.snapshots) > 0
}

func (p *pipe) pop() (protocol.Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.snapshots) == 0 {
		return nil, false
	}
	snap := p.snapshots[0]
	p.snapshots = p.snapshots[1:]
	return snap, true
}
