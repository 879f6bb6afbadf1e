// ABOUTME: Owner-facing API for a background discovery worker
// ABOUTME: Start, poll for peer snapshots, and stop with join semantics
package talker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Talker-Protocol/talker-go/internal/control"
	"github.com/Talker-Protocol/talker-go/internal/descriptor"
	"github.com/Talker-Protocol/talker-go/internal/identity"
	"github.com/Talker-Protocol/talker-go/internal/worker"
	"github.com/Talker-Protocol/talker-go/pkg/discovery"
	"github.com/Talker-Protocol/talker-go/pkg/protocol"
)

type (
	// Snapshot is the full peer table, keyed by peer id
	Snapshot = protocol.Snapshot
	// Peer is one resolved peer
	Peer = protocol.Peer
	// State is the worker's run loop phase
	State = worker.State

	PayloadTooLargeError       = descriptor.PayloadTooLargeError
	ServiceRegistrationError   = worker.ServiceRegistrationError
	ServiceBrowseError         = worker.ServiceBrowseError
	ServiceResolveError        = worker.ServiceResolveError
	NameResolutionTimeoutError = worker.NameResolutionTimeoutError
)

var (
	// ErrNotStarted is returned when stopping a talker that never started
	ErrNotStarted = errors.New("talker: not started")
	// ErrAlreadyStarted is returned by a second Start
	ErrAlreadyStarted = errors.New("talker: already started")
	// ErrClosed is returned by Receive after a clean stop
	ErrClosed = control.ErrClosed
)

// Owner is what a process holding a talker, local or remote, can do
type Owner interface {
	Poll(timeout time.Duration) bool
	Receive() (Snapshot, error)
	Stop() error
	Done() <-chan struct{}
}

// Config configures a Talker
type Config struct {
	// Type is the capability this process offers, e.g. "chat" (required)
	Type string

	// Category is the service category shared by all talkers (default: "_talker._tcp")
	Category string

	// Backend is the discovery substrate (default: multicast DNS via hashicorp/mdns)
	Backend discovery.Substrate

	// ResolveTimeout bounds each peer resolution (default: 5s)
	ResolveTimeout time.Duration

	// SnapshotBuffer is how many unread snapshots are kept (default: 16)
	SnapshotBuffer int

	// ID and Port pin the announced identity; zero picks them at random
	ID   uint32
	Port uint16

	Logger *zap.Logger
	Clock  clock.Clock
}

// Talker runs a discovery worker on its own goroutine and reports peers to its owner
type Talker struct {
	ident  identity.Identity
	worker *worker.Worker
	owner  *control.OwnerEnd
	logger *zap.Logger

	mu      sync.Mutex
	started bool
	err     error
	done    chan struct{}
}

// New validates cfg and prepares a talker. Nothing touches the network until Start.
func New(cfg Config) (*Talker, error) {
	if _, err := descriptor.Encode(cfg.Type); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	var opts []identity.Option
	if cfg.ID != 0 {
		opts = append(opts, identity.WithID(cfg.ID))
	}
	if cfg.Port != 0 {
		opts = append(opts, identity.WithPort(cfg.Port))
	}
	ident := identity.New(cfg.Type, opts...)

	backend := cfg.Backend
	if backend == nil {
		var err error
		backend, err = discovery.New(discovery.BackendMDNS, discovery.Options{Logger: cfg.Logger})
		if err != nil {
			return nil, err
		}
	}

	owner, end := control.NewPipe(cfg.SnapshotBuffer)
	w, err := worker.New(worker.Config{
		Identity:       ident,
		Category:       cfg.Category,
		Substrate:      backend,
		Channel:        end,
		ResolveTimeout: cfg.ResolveTimeout,
		Clock:          cfg.Clock,
		Logger:         cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create worker: %w", err)
	}

	return &Talker{
		ident:  ident,
		worker: w,
		owner:  owner,
		logger: cfg.Logger,
		done:   make(chan struct{}),
	}, nil
}

// Start launches the worker
func (t *Talker) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return ErrAlreadyStarted
	}
	t.started = true

	go func() {
		err := t.worker.Run(context.Background())

		t.mu.Lock()
		t.err = err
		t.mu.Unlock()
		close(t.done)
	}()
	return nil
}

// Poll reports whether a snapshot is ready, waiting up to timeout for one
func (t *Talker) Poll(timeout time.Duration) bool {
	return t.owner.Poll(timeout)
}

// Receive returns the next snapshot, blocking until one arrives. Once the
// worker has ended and nothing is queued it returns the worker's error, or
// ErrClosed after a clean stop.
func (t *Talker) Receive() (Snapshot, error) {
	snap, err := t.owner.Receive()
	if errors.Is(err, control.ErrClosed) {
		<-t.done
		if werr := t.Err(); werr != nil {
			return nil, werr
		}
	}
	return snap, err
}

// Quit asks the worker to stop without waiting for it
func (t *Talker) Quit() error {
	return t.owner.Quit()
}

// Stop asks the worker to stop and waits until it has withdrawn its
// announcement. It returns the worker's error, nil after a clean stop.
// A resolution in progress is allowed to finish first.
func (t *Talker) Stop() error {
	t.mu.Lock()
	started := t.started
	t.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	if err := t.owner.Quit(); err != nil && !errors.Is(err, control.ErrClosed) {
		t.logger.Warn("failed to send quit", zap.Error(err))
	}
	<-t.done
	return t.Err()
}

// Done is closed once the worker has ended
func (t *Talker) Done() <-chan struct{} {
	return t.done
}

// Err returns why the worker ended; nil while running or after a clean stop
func (t *Talker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// ID returns the announced peer id
func (t *Talker) ID() uint32 {
	return t.ident.ID
}

// Port returns the announced port
func (t *Talker) Port() uint16 {
	return t.ident.Port
}

// Instance returns the announced instance name
func (t *Talker) Instance() string {
	return t.ident.InstanceName()
}

// State returns the worker's run loop phase
func (t *Talker) State() State {
	return t.worker.State()
}

// With starts a talker, runs fn, and always stops the talker afterwards,
// even if fn panics. The result joins fn's error with the stop error.
func With(cfg Config, fn func(*Talker) error) (err error) {
	t, err := New(cfg)
	if err != nil {
		return err
	}
	if err := t.Start(); err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, t.Stop())
	}()
	return fn(t)
}
