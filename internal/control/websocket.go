// ABOUTME: Control channel over WebSocket for owners in another process
// ABOUTME: The relay fans snapshots out to connections, RemoteEnd is the dialing owner
package control

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Talker-Protocol/talker-go/pkg/protocol"
)

const (
	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second

	// maxCloseReason is the longest reason a close frame can carry
	maxCloseReason = 123
)

// Source is the worker side a relay serves
type Source interface {
	Receive() (protocol.Snapshot, error)
	Quit() error
}

// Relay serves one worker's control channel to any number of WebSocket owners
type Relay struct {
	source   Source
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*relayConn
	last  []byte
	ended bool

	done chan struct{}
}

// NewRelay creates a relay for source
func NewRelay(source Source, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		source: source,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		conns: make(map[string]*relayConn),
		done:  make(chan struct{}),
	}
}

// Run forwards snapshots until the worker ends, then closes every connection.
// It returns the worker's terminal error, or nil after a clean quit.
func (r *Relay) Run() error {
	defer close(r.done)

	for {
		snap, err := r.source.Receive()
		if err != nil {
			if errors.Is(err, ErrClosed) {
				r.finish(websocket.CloseNormalClosure, "worker stopped")
				return nil
			}
			r.finish(websocket.CloseInternalServerErr, err.Error())
			return err
		}

		data, err := protocol.Encode(protocol.SnapshotMessage(snap))
		if err != nil {
			r.logger.Error("failed to encode snapshot", zap.Error(err))
			continue
		}
		r.broadcast(data)
	}
}

// Done is closed once Run has returned
func (r *Relay) Done() <-chan struct{} {
	return r.done
}

// Connections returns the number of connected owners
func (r *Relay) Connections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

func (r *Relay) broadcast(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.last = data
	for id, c := range r.conns {
		if !c.enqueue(data) {
			r.logger.Warn("owner too slow, dropping connection", zap.String("conn", id))
			c.shutdown(websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too slow"))
		}
	}
}

// truncateReason cuts reason to fit a close frame without splitting a rune
func truncateReason(reason string) string {
	if len(reason) <= maxCloseReason {
		return reason
	}
	cut := maxCloseReason
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}

func (r *Relay) finish(code int, reason string) {
	closeMsg := websocket.FormatCloseMessage(code, truncateReason(reason))

	r.mu.Lock()
	defer r.mu.Unlock()

	r.ended = true
	for _, c := range r.conns {
		c.shutdown(closeMsg)
	}
}

// ServeHTTP upgrades an owner connection
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	ended := r.ended
	r.mu.Unlock()
	if ended {
		http.Error(w, "worker stopped", http.StatusServiceUnavailable)
		return
	}

	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &relayConn{
		id:   uuid.New().String(),
		ws:   ws,
		send: make(chan []byte, DefaultBuffer),
	}
	log := r.logger.With(zap.String("conn", c.id), zap.String("remote", req.RemoteAddr))

	r.mu.Lock()
	if r.ended {
		r.mu.Unlock()
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "worker stopped"),
			time.Now().Add(writeDeadline))
		ws.Close()
		return
	}
	r.conns[c.id] = c
	if r.last != nil {
		c.enqueue(r.last)
	}
	r.mu.Unlock()

	log.Info("owner connected")
	go c.writer()

	defer func() {
		r.mu.Lock()
		delete(r.conns, c.id)
		r.mu.Unlock()
		c.shutdown(nil)
		log.Info("owner disconnected")
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn("websocket error", zap.Error(err))
			}
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			log.Debug("ignoring malformed message", zap.Error(err))
			continue
		}

		switch msg.Kind {
		case protocol.KindQuit:
			log.Info("quit requested by owner")
			if err := r.source.Quit(); err != nil && !errors.Is(err, ErrClosed) {
				log.Warn("failed to forward quit", zap.Error(err))
			}
		default:
			log.Debug("ignoring message", zap.String("kind", string(msg.Kind)))
		}
	}
}

// relayConn is one owner connection with its own writer goroutine
type relayConn struct {
	id string
	ws *websocket.Conn

	mu       sync.Mutex
	send     chan []byte
	closed   bool
	closeMsg []byte
}

func (c *relayConn) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// shutdown stops the writer after it flushes; closeMsg, if set, is sent as the close frame
func (c *relayConn) shutdown(closeMsg []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeMsg = closeMsg
	close(c.send)
}

func (c *relayConn) writer() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.ws.Close()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				c.mu.Lock()
				closeMsg := c.closeMsg
				c.mu.Unlock()
				if closeMsg != nil {
					c.ws.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeDeadline))
				}
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		}
	}
}

// RemoteEnd is an owner connected to a relay over WebSocket
type RemoteEnd struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	owner *OwnerEnd
	feed  *WorkerEnd

	errMu  sync.Mutex
	err    error
	hungUp atomic.Bool
}

// DialOwner connects to a relay at url, e.g. ws://host:7777/control
func DialOwner(ctx context.Context, url string) (*RemoteEnd, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	owner, feed := NewPipe(DefaultBuffer)
	r := &RemoteEnd{conn: conn, owner: owner, feed: feed}
	go r.readMessages()
	return r, nil
}

// readMessages feeds snapshots into the local buffer until the relay closes
func (r *RemoteEnd) readMessages() {
	defer r.feed.Close()

	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			if !r.hungUp.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				r.errMu.Lock()
				r.err = fmt.Errorf("remote worker: %w", err)
				r.errMu.Unlock()
			}
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil || msg.Kind != protocol.KindSnapshot {
			continue
		}
		r.feed.Publish(msg.Snapshot)
	}
}

// Send writes msg to the relay
func (r *RemoteEnd) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	select {
	case <-r.owner.Closed():
		return ErrClosed
	default:
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := r.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send: %w", err)
	}
	return nil
}

// Quit asks the remote worker to stop
func (r *RemoteEnd) Quit() error {
	return r.Send(protocol.QuitMessage())
}

// Poll reports whether a snapshot is ready, waiting up to timeout
func (r *RemoteEnd) Poll(timeout time.Duration) bool {
	return r.owner.Poll(timeout)
}

// Receive returns the next snapshot. After the relay closes it returns the
// worker's terminal error, or ErrClosed after a clean stop.
func (r *RemoteEnd) Receive() (protocol.Snapshot, error) {
	snap, err := r.owner.Receive()
	if errors.Is(err, ErrClosed) {
		if terminal := r.Err(); terminal != nil {
			return nil, terminal
		}
	}
	return snap, err
}

// Closed is closed once the relay has closed the connection
func (r *RemoteEnd) Closed() <-chan struct{} {
	return r.owner.Closed()
}

// Err returns why the connection ended, or nil after a clean close
func (r *RemoteEnd) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

// Close hangs up without stopping the remote worker
func (r *RemoteEnd) Close() error {
	r.hungUp.Store(true)
	r.writeMu.Lock()
	r.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	r.writeMu.Unlock()

	r.owner.Close()
	return r.conn.Close()
}
