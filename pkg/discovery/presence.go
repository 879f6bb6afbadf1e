// ABOUTME: Presence tracking for backends that only report sightings
// ABOUTME: Repeated query rounds turn sightings into add and remove events
package discovery

import (
	"context"
	"slices"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// presence remembers when each instance was last seen
type presence struct {
	clock    clock.Clock
	lifetime time.Duration
	seen     map[string]time.Time
}

func newPresence(clk clock.Clock, lifetime time.Duration) *presence {
	return &presence{
		clock:    clk,
		lifetime: lifetime,
		seen:     make(map[string]time.Time),
	}
}

// observe records a sighting and reports whether the instance is new
func (p *presence) observe(instance string) bool {
	_, known := p.seen[instance]
	p.seen[instance] = p.clock.Now()
	return !known
}

// expire forgets instances not seen within the lifetime and returns them sorted
func (p *presence) expire() []string {
	now := p.clock.Now()
	var gone []string
	for instance, last := range p.seen {
		if now.Sub(last) > p.lifetime {
			gone = append(gone, instance)
			delete(p.seen, instance)
		}
	}
	slices.Sort(gone)
	return gone
}

// roundFunc runs one query round, calling found for every instance it sees
type roundFunc func(ctx context.Context, found func(instance string)) error

// roundBrowser turns query rounds into a browse event stream
type roundBrowser struct {
	events chan BrowseEvent
	cancel context.CancelFunc
	done   chan struct{}
}

func startRoundBrowser(opts Options, category string, round roundFunc) *roundBrowser {
	ctx, cancel := context.WithCancel(context.Background())
	b := &roundBrowser{
		events: make(chan BrowseEvent, 16),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(b.done)
		defer close(b.events)
		runRounds(ctx, opts, category, newPresence(opts.Clock, opts.Lifetime), round, b.events)
	}()

	return b
}

func (b *roundBrowser) Events() <-chan BrowseEvent {
	return b.events
}

// Close stops the loop and waits for the current round to finish
func (b *roundBrowser) Close() error {
	b.cancel()
	<-b.done
	return nil
}

// runRounds queries until ctx ends or a round fails. A failed round is reported once and ends the stream.
func runRounds(ctx context.Context, opts Options, category string, p *presence, round roundFunc, out chan<- BrowseEvent) {
	log := opts.Logger.With(zap.String("category", category))

	emit := func(ev BrowseEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		var sightings []string
		err := round(ctx, func(instance string) {
			sightings = append(sightings, instance)
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Debug("browse round failed", zap.Error(err))
			emit(BrowseEvent{Err: &Fault{Op: "browse", Code: CodeUnknown, Err: err}})
			return
		}

		for _, instance := range sightings {
			if p.observe(instance) {
				if !emit(BrowseEvent{Instance: instance, Added: true}) {
					return
				}
			}
		}
		for _, instance := range p.expire() {
			if !emit(BrowseEvent{Instance: instance, Added: false}) {
				return
			}
		}

		timer := opts.Clock.Timer(opts.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// lookupFunc finds one instance, blocking until found or ctx ends
type lookupFunc func(ctx context.Context) (ResolveEvent, error)

// asyncResolution runs a lookup in the background and reports at most one event
type asyncResolution struct {
	events chan ResolveEvent
	cancel context.CancelFunc
}

func startResolution(instance string, lookup lookupFunc) *asyncResolution {
	ctx, cancel := context.WithCancel(context.Background())
	r := &asyncResolution{
		events: make(chan ResolveEvent, 1),
		cancel: cancel,
	}

	go func() {
		ev, err := lookup(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			ev = ResolveEvent{Instance: instance, Err: &Fault{Op: "resolve", Code: CodeUnknown, Err: err}}
		}
		ev.Instance = instance
		r.events <- ev
	}()

	return r
}

func (r *asyncResolution) Events() <-chan ResolveEvent {
	return r.events
}

// Close abandons the lookup. The background query winds down on its own.
func (r *asyncResolution) Close() error {
	r.cancel()
	return nil
}
