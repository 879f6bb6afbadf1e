// ABOUTME: Remote owner for a talker hosted by talkerd
// ABOUTME: Same poll/receive/stop surface, spoken over a WebSocket
package talker

import (
	"context"
	"errors"
	"time"

	"github.com/Talker-Protocol/talker-go/internal/control"
)

// Remote owns a talker running in another process
type Remote struct {
	end *control.RemoteEnd
}

// Dial connects to a talkerd control endpoint, e.g. ws://localhost:7777/control
func Dial(ctx context.Context, url string) (*Remote, error) {
	end, err := control.DialOwner(ctx, url)
	if err != nil {
		return nil, err
	}
	return &Remote{end: end}, nil
}

// Poll reports whether a snapshot is ready, waiting up to timeout
func (r *Remote) Poll(timeout time.Duration) bool {
	return r.end.Poll(timeout)
}

// Receive returns the next snapshot
func (r *Remote) Receive() (Snapshot, error) {
	return r.end.Receive()
}

// Quit asks the remote worker to stop without waiting
func (r *Remote) Quit() error {
	return r.end.Quit()
}

// Stop asks the remote worker to stop and waits for the daemon to close the connection
func (r *Remote) Stop() error {
	if err := r.end.Quit(); err != nil && !errors.Is(err, control.ErrClosed) {
		r.end.Close()
		return err
	}
	<-r.end.Closed()
	return r.end.Err()
}

// Done is closed once the connection has ended
func (r *Remote) Done() <-chan struct{} {
	return r.end.Closed()
}

// Err returns why the connection ended
func (r *Remote) Err() error {
	return r.end.Err()
}

// Close hangs up and leaves the remote worker running
func (r *Remote) Close() error {
	return r.end.Close()
}
