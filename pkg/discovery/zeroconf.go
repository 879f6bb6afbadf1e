// ABOUTME: Multicast DNS backend built on grandcat/zeroconf
// ABOUTME: Each browse round and lookup uses a fresh single-use resolver
package discovery

import (
	"context"
	"fmt"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/Talker-Protocol/talker-go/internal/descriptor"
)

// Zeroconf is a Substrate speaking multicast DNS through grandcat/zeroconf
type Zeroconf struct {
	opts Options
}

// NewZeroconf creates the grandcat/zeroconf backend
func NewZeroconf(opts Options) *Zeroconf {
	return &Zeroconf{opts: opts.withDefaults()}
}

type zeroconfRegistration struct {
	server *zeroconf.Server
	events chan RegisterEvent
}

func (r *zeroconfRegistration) Events() <-chan RegisterEvent {
	return r.events
}

func (r *zeroconfRegistration) Close() error {
	r.server.Shutdown()
	return nil
}

// Register announces svc on every multicast interface
func (z *Zeroconf) Register(svc Service) (Registration, error) {
	txt, err := descriptor.Segments(svc.Text)
	if err != nil {
		return nil, fmt.Errorf("bad TXT record: %w", err)
	}

	server, err := zeroconf.Register(svc.Instance, svc.Category, z.opts.Domain+".", int(svc.Port), txt, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register service: %w", err)
	}

	z.opts.Logger.Info("advertising zeroconf service",
		zap.String("instance", svc.Instance),
		zap.String("category", svc.Category),
		zap.Uint16("port", svc.Port))

	events := make(chan RegisterEvent, 1)
	events <- RegisterEvent{}
	return &zeroconfRegistration{server: server, events: events}, nil
}

// Browse reports instances of category as they appear and expire.
// A zeroconf browse reports each instance once and drops goodbyes, so it is restarted every round.
func (z *Zeroconf) Browse(category string) (Browser, error) {
	return startRoundBrowser(z.opts, category, func(ctx context.Context, found func(string)) error {
		ctx, cancel := context.WithTimeout(ctx, z.opts.QueryTimeout)
		defer cancel()

		resolver, err := zeroconf.NewResolver()
		if err != nil {
			return fmt.Errorf("failed to create resolver: %w", err)
		}

		entries := make(chan *zeroconf.ServiceEntry)
		if err := resolver.Browse(ctx, category, z.opts.Domain+".", entries); err != nil {
			return fmt.Errorf("failed to browse: %w", err)
		}

		// The resolver closes entries once ctx ends
		for entry := range entries {
			found(entry.Instance)
		}
		return nil
	}), nil
}

// Resolve looks up one instance until it answers or the resolution is closed
func (z *Zeroconf) Resolve(instance, category string) (Resolution, error) {
	return startResolution(instance, func(ctx context.Context) (ResolveEvent, error) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		resolver, err := zeroconf.NewResolver()
		if err != nil {
			return ResolveEvent{}, fmt.Errorf("failed to create resolver: %w", err)
		}

		entries := make(chan *zeroconf.ServiceEntry)
		if err := resolver.Lookup(ctx, instance, category, z.opts.Domain+".", entries); err != nil {
			return ResolveEvent{}, fmt.Errorf("failed to look up %s: %w", instance, err)
		}

		entry, ok := <-entries
		cancel()
		// The resolver blocks on undelivered entries until it sees the cancellation
		for range entries {
		}
		if !ok {
			return ResolveEvent{}, ctx.Err()
		}

		text, err := descriptor.Join(entry.Text)
		if err != nil {
			return ResolveEvent{}, err
		}
		return ResolveEvent{
			Host: entry.HostName,
			Port: uint16(entry.Port),
			Text: text,
		}, nil
	}), nil
}
