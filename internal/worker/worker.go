// ABOUTME: Discovery worker run loop
// ABOUTME: Announces itself, browses for peers, resolves them, and reports snapshots
package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Talker-Protocol/talker-go/internal/descriptor"
	"github.com/Talker-Protocol/talker-go/internal/identity"
	"github.com/Talker-Protocol/talker-go/internal/metrics"
	"github.com/Talker-Protocol/talker-go/internal/registry"
	"github.com/Talker-Protocol/talker-go/pkg/discovery"
	"github.com/Talker-Protocol/talker-go/pkg/protocol"
)

// DefaultResolveTimeout bounds each peer resolution
const DefaultResolveTimeout = 5 * time.Second

// State is the run loop's phase
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Channel is the worker's end of the control channel
type Channel interface {
	Inbox() <-chan protocol.Message
	OwnerGone() <-chan struct{}
	Publish(snap protocol.Snapshot) int
	Close() error
}

// Config holds worker configuration
type Config struct {
	Identity identity.Identity

	// Category is the shared service category (default: discovery.DefaultCategory)
	Category string

	Substrate discovery.Substrate
	Channel   Channel

	// ResolveTimeout bounds each resolution (default: 5s)
	ResolveTimeout time.Duration

	Clock  clock.Clock
	Logger *zap.Logger
}

// Worker owns the peer registry and the substrate handles. Everything runs on the Run goroutine.
type Worker struct {
	cfg        Config
	descriptor []byte
	instance   string
	log        *zap.Logger

	registry *registry.Registry
	owners   map[uint32]string // id to the instance name that added it
	state    atomic.Int32
	quit     bool

	registration discovery.Registration
	browser      discovery.Browser
	regEvents    <-chan discovery.RegisterEvent
	browseEvents <-chan discovery.BrowseEvent
}

// New validates cfg and builds a worker. A capability type too long for one
// TXT string is reported as *descriptor.PayloadTooLargeError.
func New(cfg Config) (*Worker, error) {
	desc, err := descriptor.Encode(cfg.Identity.Type)
	if err != nil {
		return nil, err
	}
	if cfg.Substrate == nil {
		return nil, errors.New("worker: substrate is required")
	}
	if cfg.Channel == nil {
		return nil, errors.New("worker: control channel is required")
	}

	if cfg.Category == "" {
		cfg.Category = discovery.DefaultCategory
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = DefaultResolveTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	instance := cfg.Identity.InstanceName()

	return &Worker{
		cfg:        cfg,
		descriptor: desc,
		instance:   instance,
		log:        cfg.Logger.With(zap.String("worker", instance)),
		registry:   registry.New(),
		owners:     make(map[uint32]string),
	}, nil
}

// Instance returns the announced instance name
func (w *Worker) Instance() string {
	return w.instance
}

// State returns the current phase. Safe to call from any goroutine.
func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
	metrics.State.WithLabelValues(w.instance).Set(float64(s))
}

// Run announces, browses, and serves the control channel until a quit
// request, ctx cancellation, the owner going away, or a substrate fault.
// The announcement is withdrawn and the channel closed on every path.
// Metric series for the worker are dropped once it has stopped.
func (w *Worker) Run(ctx context.Context) error {
	metrics.Register(w.instance)
	defer w.cfg.Channel.Close()
	defer metrics.Unregister(w.instance)
	defer w.setState(StateStopped)
	defer w.drain()

	w.setState(StateStarting)
	if err := w.start(); err != nil {
		w.log.Error("worker failed to start", zap.Error(err))
		return err
	}
	w.setState(StateRunning)

	for !w.quit {
		if err := w.step(ctx); err != nil {
			w.log.Error("worker stopped on fault", zap.Error(err))
			return err
		}
	}

	w.log.Info("worker stopping")
	return nil
}

func (w *Worker) start() error {
	reg, err := w.cfg.Substrate.Register(discovery.Service{
		Instance: w.instance,
		Category: w.cfg.Category,
		Port:     w.cfg.Identity.Port,
		Text:     w.descriptor,
	})
	if err != nil {
		return &ServiceRegistrationError{Instance: w.instance, Err: err}
	}
	w.registration = reg
	w.regEvents = reg.Events()

	browser, err := w.cfg.Substrate.Browse(w.cfg.Category)
	if err != nil {
		return &ServiceBrowseError{Category: w.cfg.Category, Err: err}
	}
	w.browser = browser
	w.browseEvents = browser.Events()

	w.log.Info("worker started",
		zap.String("category", w.cfg.Category),
		zap.String("type", w.cfg.Identity.Type),
		zap.Uint16("port", w.cfg.Identity.Port))
	return nil
}

// drain withdraws the announcement and stops browsing. Both are always attempted.
func (w *Worker) drain() {
	w.setState(StateDraining)

	var err error
	if w.registration != nil {
		err = multierr.Append(err, w.registration.Close())
	}
	if w.browser != nil {
		err = multierr.Append(err, w.browser.Close())
	}
	if err != nil {
		w.log.Warn("teardown incomplete", zap.Error(err))
	}
}

// step waits for one ready source and handles what it has
func (w *Worker) step(ctx context.Context) error {
	select {
	case <-ctx.Done():
		w.log.Info("context cancelled")
		w.quit = true
		return nil

	case <-w.cfg.Channel.OwnerGone():
		w.log.Info("owner went away")
		w.quit = true
		return nil

	case msg := <-w.cfg.Channel.Inbox():
		w.handleMessage(msg)
		return nil

	case ev, ok := <-w.regEvents:
		if !ok {
			w.regEvents = nil
			return nil
		}
		return w.handleRegister(ev)

	case ev, ok := <-w.browseEvents:
		if !ok {
			return &ServiceBrowseError{Category: w.cfg.Category, Err: discovery.ErrClosed}
		}
		if err := w.handleBrowse(ev); err != nil {
			return err
		}
		return w.drainBrowse()
	}
}

// drainBrowse handles browse events that are already waiting
func (w *Worker) drainBrowse() error {
	for {
		select {
		case ev, ok := <-w.browseEvents:
			if !ok {
				return &ServiceBrowseError{Category: w.cfg.Category, Err: discovery.ErrClosed}
			}
			if err := w.handleBrowse(ev); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (w *Worker) handleMessage(msg protocol.Message) {
	switch msg.Kind {
	case protocol.KindQuit:
		w.log.Info("got quit message")
		w.quit = true
	default:
		w.log.Debug("ignoring control message", zap.String("kind", string(msg.Kind)))
	}
}

func (w *Worker) handleRegister(ev discovery.RegisterEvent) error {
	if ev.Err != nil {
		return &ServiceRegistrationError{Instance: w.instance, Err: ev.Err}
	}
	w.log.Info("registered service")
	return nil
}

func (w *Worker) handleBrowse(ev discovery.BrowseEvent) error {
	if ev.Err != nil {
		return &ServiceBrowseError{Category: w.cfg.Category, Err: ev.Err}
	}
	if ev.Instance == w.instance {
		return nil
	}

	log := w.log.With(zap.String("instance", ev.Instance))
	id, err := identity.ParseID(ev.Instance)
	if err != nil {
		log.Warn("ignoring instance without a talker id", zap.Error(err))
		return nil
	}

	if !ev.Added {
		log.Debug("browse: instance removed")
		w.removePeer(ev.Instance, id)
		return nil
	}

	log.Debug("browse: instance added")
	return w.resolve(ev.Instance, id)
}

// resolve waits up to ResolveTimeout for the instance's location
func (w *Worker) resolve(instance string, id uint32) error {
	timer := w.cfg.Clock.Timer(w.cfg.ResolveTimeout)
	defer timer.Stop()

	res, err := w.cfg.Substrate.Resolve(instance, w.cfg.Category)
	if err != nil {
		metrics.Resolutions.WithLabelValues(w.instance, metrics.ResultFault).Inc()
		return &ServiceResolveError{Instance: instance, Err: err}
	}
	defer func() {
		if err := res.Close(); err != nil {
			w.log.Debug("failed to release resolution", zap.String("instance", instance), zap.Error(err))
		}
	}()

	select {
	case ev, ok := <-res.Events():
		if !ok {
			metrics.Resolutions.WithLabelValues(w.instance, metrics.ResultFault).Inc()
			return &ServiceResolveError{Instance: instance, Err: discovery.ErrClosed}
		}
		if ev.Err != nil {
			metrics.Resolutions.WithLabelValues(w.instance, metrics.ResultFault).Inc()
			return &ServiceResolveError{Instance: instance, Err: ev.Err}
		}
		metrics.Resolutions.WithLabelValues(w.instance, metrics.ResultOK).Inc()

		w.addPeer(instance, protocol.Peer{
			ID:       id,
			Hostname: ev.Host,
			Port:     ev.Port,
			Payload:  descriptor.Payload(ev.Text),
		})
		return nil

	case <-timer.C:
		metrics.Resolutions.WithLabelValues(w.instance, metrics.ResultTimeout).Inc()
		return &NameResolutionTimeoutError{Instance: instance, Timeout: w.cfg.ResolveTimeout}
	}
}

func (w *Worker) addPeer(instance string, p protocol.Peer) {
	log := w.log.With(zap.String("instance", instance), zap.String("addr", p.Addr()))

	if p.ID == w.cfg.Identity.ID {
		log.Warn("peer announces our id, ignoring it")
		metrics.PeerEvents.WithLabelValues(w.instance, metrics.EventCollision).Inc()
		return
	}

	if existing, ok := w.registry.Get(p.ID); ok {
		if existing.Hostname != p.Hostname || existing.Port != p.Port {
			log.Warn("peer id already taken by another host, keeping the first",
				zap.String("first", existing.Addr()))
			metrics.PeerEvents.WithLabelValues(w.instance, metrics.EventCollision).Inc()
			return
		}
		log.Debug("peer already known")
		metrics.PeerEvents.WithLabelValues(w.instance, metrics.EventDuplicate).Inc()
		return
	}

	w.registry.Add(p)
	w.owners[p.ID] = instance
	log.Info("added peer", zap.String("type", p.CapabilityType()))
	metrics.PeerEvents.WithLabelValues(w.instance, metrics.EventAdded).Inc()
	w.publish()
}

// removePeer drops id only when instance is the announcement that added it.
// A rejected collider going away leaves the first record in place.
func (w *Worker) removePeer(instance string, id uint32) {
	if owner, ok := w.owners[id]; ok && owner != instance {
		w.log.Debug("ignoring removal of a rejected instance",
			zap.String("instance", instance), zap.String("owner", owner))
		return
	}
	if !w.registry.Remove(id) {
		return
	}
	delete(w.owners, id)
	w.log.Info("removed peer", zap.String("peer", identity.FormatID(id)))
	metrics.PeerEvents.WithLabelValues(w.instance, metrics.EventRemoved).Inc()
	w.publish()
}

// publish sends the whole table to the owner
func (w *Worker) publish() {
	metrics.Peers.WithLabelValues(w.instance).Set(float64(w.registry.Len()))
	metrics.Snapshots.WithLabelValues(w.instance, metrics.SnapshotSent).Inc()

	dropped := w.cfg.Channel.Publish(w.registry.Snapshot())
	if dropped > 0 {
		metrics.Snapshots.WithLabelValues(w.instance, metrics.SnapshotCoalesced).Add(float64(dropped))
	}
}
