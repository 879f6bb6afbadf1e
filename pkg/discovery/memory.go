// ABOUTME: In-process discovery network for tests and simulations
// ABOUTME: Hosts register, browse, and resolve against one shared table
package discovery

import (
	"os"
	"sync"
)

// Network is a simulated LAN. Every Substrate taken from it sees the same services.
type Network struct {
	mu       sync.Mutex
	services map[serviceKey]*memRegistration
	browsers map[*memBrowser]struct{}

	failResolve   map[string]int
	holdResolve   map[string]bool
	failBrowse    map[string]int
	notifyResolve chan<- string
}

type serviceKey struct {
	category string
	instance string
}

// NewNetwork creates an empty network
func NewNetwork() *Network {
	return &Network{
		services:    make(map[serviceKey]*memRegistration),
		browsers:    make(map[*memBrowser]struct{}),
		failResolve: make(map[string]int),
		holdResolve: make(map[string]bool),
		failBrowse:  make(map[string]int),
	}
}

var (
	sharedOnce sync.Once
	shared     *Network
)

// Shared returns the process-wide network used by the "memory" backend
func Shared() *Network {
	sharedOnce.Do(func() {
		shared = NewNetwork()
	})
	return shared
}

// Substrate returns a view of the network from a host
func (n *Network) Substrate(host string) Substrate {
	return &memSubstrate{net: n, host: host}
}

// FailResolve makes every later resolution of instance fail with code
func (n *Network) FailResolve(instance string, code int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failResolve[instance] = code
}

// HoldResolve makes resolutions of instance never answer
func (n *Network) HoldResolve(instance string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.holdResolve[instance] = true
}

// FailBrowse reports a fault with code to every browser of category, present and future
func (n *Network) FailBrowse(category string, code int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failBrowse[category] = code
	for b := range n.browsers {
		if b.category == category {
			b.queue.push(BrowseEvent{Err: &Fault{Op: "browse", Code: code}})
		}
	}
}

// NotifyResolve sends each resolved instance name on ch once its resolution is set up.
// Sends block, so the receiver must keep reading while resolutions happen.
func (n *Network) NotifyResolve(ch chan<- string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifyResolve = ch
}

// Services lists the instances currently announced under category
func (n *Network) Services(category string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for key := range n.services {
		if key.category == category {
			out = append(out, key.instance)
		}
	}
	return out
}

type memSubstrate struct {
	net  *Network
	host string
}

type memRegistration struct {
	net       *Network
	key       serviceKey
	host      string
	svc       Service
	queue     *queue[RegisterEvent]
	owner     bool
	closeOnce sync.Once
}

func (r *memRegistration) Events() <-chan RegisterEvent {
	return r.queue.out
}

// Close withdraws the announcement and tells browsers it is gone
func (r *memRegistration) Close() error {
	r.closeOnce.Do(func() {
		n := r.net
		n.mu.Lock()
		if r.owner && n.services[r.key] == r {
			delete(n.services, r.key)
			n.broadcast(r.key, false)
		}
		n.mu.Unlock()
		r.queue.close()
	})
	return nil
}

func (s *memSubstrate) Register(svc Service) (Registration, error) {
	n := s.net
	key := serviceKey{category: svc.Category, instance: svc.Instance}
	reg := &memRegistration{
		net:   n,
		key:   key,
		host:  s.host,
		svc:   svc,
		queue: newQueue[RegisterEvent](),
	}
	reg.svc.Text = append([]byte(nil), svc.Text...)

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, taken := n.services[key]; taken {
		reg.queue.push(RegisterEvent{Err: &Fault{Op: "register", Code: CodeNameConflict, Err: ErrNameConflict}})
		return reg, nil
	}

	reg.owner = true
	n.services[key] = reg
	reg.queue.push(RegisterEvent{})
	n.broadcast(key, true)
	return reg, nil
}

// broadcast tells browsers of key's category about a change. Callers hold n.mu.
func (n *Network) broadcast(key serviceKey, added bool) {
	for b := range n.browsers {
		if b.category == key.category {
			b.queue.push(BrowseEvent{Instance: key.instance, Added: added})
		}
	}
}

type memBrowser struct {
	net      *Network
	category string
	queue    *queue[BrowseEvent]
}

func (b *memBrowser) Events() <-chan BrowseEvent {
	return b.queue.out
}

func (b *memBrowser) Close() error {
	b.net.mu.Lock()
	delete(b.net.browsers, b)
	b.net.mu.Unlock()
	b.queue.close()
	return nil
}

// Browse reports every current instance of category, then each change
func (s *memSubstrate) Browse(category string) (Browser, error) {
	n := s.net
	b := &memBrowser{net: n, category: category, queue: newQueue[BrowseEvent]()}

	n.mu.Lock()
	defer n.mu.Unlock()

	if code, ok := n.failBrowse[category]; ok {
		b.queue.push(BrowseEvent{Err: &Fault{Op: "browse", Code: code}})
	}
	for key := range n.services {
		if key.category == category {
			b.queue.push(BrowseEvent{Instance: key.instance, Added: true})
		}
	}
	n.browsers[b] = struct{}{}
	return b, nil
}

type memResolution struct {
	queue *queue[ResolveEvent]
}

func (r *memResolution) Events() <-chan ResolveEvent {
	return r.queue.out
}

func (r *memResolution) Close() error {
	r.queue.close()
	return nil
}

// Resolve answers with the announcing host's address. Unknown instances never answer.
func (s *memSubstrate) Resolve(instance, category string) (Resolution, error) {
	n := s.net
	r := &memResolution{queue: newQueue[ResolveEvent]()}

	n.mu.Lock()
	notify := n.notifyResolve
	switch code, failing := n.failResolve[instance]; {
	case failing:
		r.queue.push(ResolveEvent{Instance: instance, Err: &Fault{Op: "resolve", Code: code}})
	case n.holdResolve[instance]:
	default:
		if reg, ok := n.services[serviceKey{category: category, instance: instance}]; ok {
			r.queue.push(ResolveEvent{
				Instance: instance,
				Host:     reg.host + "." + DefaultDomain + ".",
				Port:     reg.svc.Port,
				Text:     append([]byte(nil), reg.svc.Text...),
			})
		}
	}
	n.mu.Unlock()

	if notify != nil {
		notify <- instance
	}
	return r, nil
}

func localHostname() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "localhost"
	}
	return host
}

// queue is an unbounded FIFO drained onto a channel by its own goroutine
type queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	signal chan struct{}
	done   chan struct{}
	out    chan T
}

func newQueue[T any]() *queue[T] {
	q := &queue[T]{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan T),
	}
	go q.pump()
	return q
}

func (q *queue[T]) push(v T) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// close discards anything undelivered and closes out
func (q *queue[T]) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *queue[T]) pump() {
	defer close(q.out)
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			select {
			case <-q.signal:
				continue
			case <-q.done:
				return
			}
		}
		v := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		select {
		case q.out <- v:
		case <-q.done:
			return
		}
	}
}
