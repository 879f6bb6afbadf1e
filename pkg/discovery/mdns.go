// ABOUTME: Multicast DNS backend built on hashicorp/mdns
// ABOUTME: Advertises with an mdns server and browses with repeated queries
package discovery

import (
	"context"
	"fmt"
	"net"

	"github.com/hashicorp/mdns"
	"go.uber.org/zap"

	"github.com/Talker-Protocol/talker-go/internal/descriptor"
)

// MDNS is a Substrate speaking multicast DNS through hashicorp/mdns
type MDNS struct {
	opts Options
}

// NewMDNS creates the hashicorp/mdns backend
func NewMDNS(opts Options) *MDNS {
	return &MDNS{opts: opts.withDefaults()}
}

type mdnsRegistration struct {
	server *mdns.Server
	events chan RegisterEvent
}

func (r *mdnsRegistration) Events() <-chan RegisterEvent {
	return r.events
}

func (r *mdnsRegistration) Close() error {
	return r.server.Shutdown()
}

// Register advertises svc until the registration is closed
func (m *MDNS) Register(svc Service) (Registration, error) {
	ips := m.opts.IPs
	if len(ips) == 0 {
		var err error
		ips, err = getLocalIPs()
		if err != nil {
			return nil, fmt.Errorf("failed to get local IPs: %w", err)
		}
	}

	txt, err := descriptor.Segments(svc.Text)
	if err != nil {
		return nil, fmt.Errorf("bad TXT record: %w", err)
	}

	service, err := mdns.NewMDNSService(
		svc.Instance,
		svc.Category,
		m.opts.Domain+".",
		"",
		int(svc.Port),
		ips,
		txt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to create mdns server: %w", err)
	}

	m.opts.Logger.Info("advertising mDNS service",
		zap.String("instance", svc.Instance),
		zap.String("category", svc.Category),
		zap.Uint16("port", svc.Port))

	// The server answers as soon as it is up; there is no later outcome to wait for
	events := make(chan RegisterEvent, 1)
	events <- RegisterEvent{}
	return &mdnsRegistration{server: server, events: events}, nil
}

// Browse reports instances of category as they appear and expire
func (m *MDNS) Browse(category string) (Browser, error) {
	return startRoundBrowser(m.opts, category, func(ctx context.Context, found func(string)) error {
		return m.query(ctx, category, func(entry *mdns.ServiceEntry) {
			if instance, ok := instanceFromName(entry.Name, category, m.opts.Domain); ok {
				found(instance)
			}
		})
	}), nil
}

// Resolve queries until instance answers or the resolution is closed
func (m *MDNS) Resolve(instance, category string) (Resolution, error) {
	return startResolution(instance, func(ctx context.Context) (ResolveEvent, error) {
		for {
			var match *mdns.ServiceEntry
			err := m.query(ctx, category, func(entry *mdns.ServiceEntry) {
				if match != nil {
					return
				}
				if name, ok := instanceFromName(entry.Name, category, m.opts.Domain); ok && name == instance {
					match = entry
				}
			})
			if err != nil {
				return ResolveEvent{}, err
			}
			if match != nil {
				return resolveEventFromEntry(match)
			}
			if err := ctx.Err(); err != nil {
				return ResolveEvent{}, err
			}
		}
	}), nil
}

// query runs one bounded mdns query and hands every entry to fn.
// Entries are consumed on a separate goroutine as the library drops sends nobody is ready for.
func (m *MDNS) query(ctx context.Context, category string, fn func(*mdns.ServiceEntry)) error {
	entries := make(chan *mdns.ServiceEntry, 16)
	consumed := make(chan struct{})

	go func() {
		defer close(consumed)
		for entry := range entries {
			fn(entry)
		}
	}()

	params := mdns.DefaultParams(category)
	params.Domain = m.opts.Domain
	params.Timeout = m.opts.QueryTimeout
	params.Entries = entries
	params.DisableIPv6 = true

	err := mdns.QueryContext(ctx, params)
	close(entries)
	<-consumed

	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func resolveEventFromEntry(entry *mdns.ServiceEntry) (ResolveEvent, error) {
	text, err := descriptor.Join(entry.InfoFields)
	if err != nil {
		return ResolveEvent{}, err
	}

	host := entry.Host
	if host == "" && entry.AddrV4 != nil {
		host = entry.AddrV4.String()
	}

	return ResolveEvent{
		Host: host,
		Port: uint16(entry.Port),
		Text: text,
	}, nil
}

// getLocalIPs returns local IP addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
