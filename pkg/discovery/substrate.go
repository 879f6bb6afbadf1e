// ABOUTME: Service discovery substrate contract shared by all backends
// ABOUTME: Registration, browsing, and resolution deliver results as channel events
package discovery

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const (
	// DefaultCategory is the service category every talker announces under
	DefaultCategory = "_talker._tcp"

	// DefaultDomain is the multicast DNS domain
	DefaultDomain = "local"

	// DefaultQueryTimeout bounds one multicast query round
	DefaultQueryTimeout = time.Second

	// DefaultInterval is the pause between browse rounds
	DefaultInterval = 5 * time.Second
)

// Fault codes follow the DNS-SD error numbering
const (
	CodeUnknown           = -65537
	CodeNoSuchName        = -65538
	CodeNameConflict      = -65548
	CodeServiceNotRunning = -65563
)

// Backend names accepted by New
const (
	BackendMDNS     = "mdns"
	BackendZeroconf = "zeroconf"
	BackendMemory   = "memory"
)

var (
	// ErrClosed is reported when an event source ends unexpectedly
	ErrClosed = errors.New("discovery: event source closed")

	// ErrNameConflict is reported when an instance name is already taken
	ErrNameConflict = errors.New("discovery: name conflict")
)

// Service is an announcement
type Service struct {
	Instance string
	Category string
	Port     uint16
	// Text is TXT rdata: a run of length-prefixed strings
	Text []byte
}

// RegisterEvent reports the outcome of a registration
type RegisterEvent struct {
	Err error
}

// BrowseEvent reports an instance appearing or disappearing
type BrowseEvent struct {
	Err      error
	Instance string
	Added    bool
}

// ResolveEvent reports where an instance lives
type ResolveEvent struct {
	Err      error
	Instance string
	Host     string
	Port     uint16
	Text     []byte
}

// Registration is a live announcement. Close withdraws it.
type Registration interface {
	Events() <-chan RegisterEvent
	Close() error
}

// Browser watches one category. Close stops it.
type Browser interface {
	Events() <-chan BrowseEvent
	Close() error
}

// Resolution is a pending lookup of one instance. Close releases it.
type Resolution interface {
	Events() <-chan ResolveEvent
	Close() error
}

// Substrate is the discovery protocol a worker drives
type Substrate interface {
	Register(svc Service) (Registration, error)
	Browse(category string) (Browser, error)
	Resolve(instance, category string) (Resolution, error)
}

// Fault is a failure reported by the substrate
type Fault struct {
	Op   string
	Code int
	Err  error
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("discovery: %s failed (code %d)", f.Op, f.Code)
	}
	return fmt.Sprintf("discovery: %s failed (code %d): %v", f.Op, f.Code, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// Options configures the network backends
type Options struct {
	Domain       string
	QueryTimeout time.Duration
	Interval     time.Duration
	// Lifetime is how long an instance may go unseen before it is reported removed
	Lifetime time.Duration
	// IPs to announce; local interface addresses when empty
	IPs    []net.IP
	Clock  clock.Clock
	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Domain == "" {
		o.Domain = DefaultDomain
	}
	o.Domain = strings.TrimSuffix(o.Domain, ".")
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = DefaultQueryTimeout
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Lifetime <= 0 {
		o.Lifetime = 3 * o.Interval
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// New returns the named backend
func New(backend string, opts Options) (Substrate, error) {
	opts = opts.withDefaults()

	switch backend {
	case BackendMDNS, "":
		return NewMDNS(opts), nil
	case BackendZeroconf:
		return NewZeroconf(opts), nil
	case BackendMemory:
		return Shared().Substrate(localHostname()), nil
	default:
		return nil, fmt.Errorf("unknown discovery backend %q (want %s, %s or %s)",
			backend, BackendMDNS, BackendZeroconf, BackendMemory)
	}
}

// serviceName is the fully qualified category, e.g. "_talker._tcp.local."
func serviceName(category, domain string) string {
	return strings.TrimSuffix(category, ".") + "." + strings.TrimSuffix(domain, ".") + "."
}

// instanceFromName strips ".<category>.<domain>." from a full service name
func instanceFromName(name, category, domain string) (string, bool) {
	suffix := "." + serviceName(category, domain)
	if !strings.HasSuffix(name, suffix) {
		return "", false
	}
	return strings.TrimSuffix(name, suffix), true
}
