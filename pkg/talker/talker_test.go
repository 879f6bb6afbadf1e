// ABOUTME: Tests for the owner-facing talker API
// ABOUTME: Covers construction checks, scoped use, and stop liveness
package talker

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Talker-Protocol/talker-go/internal/descriptor"
	"github.com/Talker-Protocol/talker-go/pkg/discovery"
)

func announcePeer(t *testing.T, net *discovery.Network, host, instance string, port uint16) {
	t.Helper()
	txt, err := descriptor.Encode("chat")
	require.NoError(t, err)
	reg, err := net.Substrate(host).Register(discovery.Service{
		Instance: instance,
		Category: discovery.DefaultCategory,
		Port:     port,
		Text:     txt,
	})
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })
}

func TestNewRejectsLongType(t *testing.T) {
	_, err := New(Config{Type: strings.Repeat("x", 300), Backend: discovery.NewNetwork().Substrate("self")})

	var tooLarge *PayloadTooLargeError
	require.ErrorAs(t, err, &tooLarge)
}

func TestNewPinsIdentity(t *testing.T) {
	tk, err := New(Config{Type: "chat", ID: 0xabc, Port: 41234, Backend: discovery.NewNetwork().Substrate("self")})
	require.NoError(t, err)

	assert.Equal(t, uint32(0xabc), tk.ID())
	assert.Equal(t, uint16(41234), tk.Port())
	assert.Equal(t, "0xabc", tk.Instance())
}

func TestStartTwice(t *testing.T) {
	tk, err := New(Config{Type: "chat", Backend: discovery.NewNetwork().Substrate("self")})
	require.NoError(t, err)

	require.NoError(t, tk.Start())
	assert.ErrorIs(t, tk.Start(), ErrAlreadyStarted)
	assert.NoError(t, tk.Stop())
}

func TestStopBeforeStart(t *testing.T) {
	tk, err := New(Config{Type: "chat", Backend: discovery.NewNetwork().Substrate("self")})
	require.NoError(t, err)
	assert.ErrorIs(t, tk.Stop(), ErrNotStarted)
}

func TestWithReportsPeersAndWithdraws(t *testing.T) {
	net := discovery.NewNetwork()
	announcePeer(t, net, "hostB", "0xbbbb2222", 52000)

	var self string
	err := With(Config{Type: "chat", ID: 0xaaaa1111, Backend: net.Substrate("hostA")}, func(tk *Talker) error {
		self = tk.Instance()
		assert.Eventually(t, func() bool {
			return slices.Contains(net.Services(discovery.DefaultCategory), self)
		}, 2*time.Second, 5*time.Millisecond, "own announcement never appeared")

		require.True(t, tk.Poll(2*time.Second))
		snap, err := tk.Receive()
		require.NoError(t, err)
		require.Contains(t, snap, uint32(0xbbbb2222))
		assert.Equal(t, "hostB.local:52000", snap[0xbbbb2222].Addr())
		assert.Equal(t, "chat", snap[0xbbbb2222].CapabilityType())
		return nil
	})
	require.NoError(t, err)
	assert.NotContains(t, net.Services(discovery.DefaultCategory), self)
}

func TestWithStopsOnCallbackError(t *testing.T) {
	boom := errors.New("boom")
	var tk *Talker
	err := With(Config{Type: "chat", Backend: discovery.NewNetwork().Substrate("self")}, func(started *Talker) error {
		tk = started
		return boom
	})

	assert.ErrorIs(t, err, boom)
	select {
	case <-tk.Done():
	default:
		t.Fatal("talker still running after With returned")
	}
}

func TestWithStopsOnPanic(t *testing.T) {
	net := discovery.NewNetwork()
	var self string

	assert.Panics(t, func() {
		_ = With(Config{Type: "chat", Backend: net.Substrate("self")}, func(tk *Talker) error {
			self = tk.Instance()
			panic("boom")
		})
	})
	assert.NotContains(t, net.Services(discovery.DefaultCategory), self)
}

func TestStopIsPrompt(t *testing.T) {
	tk, err := New(Config{Type: "chat", Backend: discovery.NewNetwork().Substrate("self")})
	require.NoError(t, err)
	require.NoError(t, tk.Start())

	start := time.Now()
	require.NoError(t, tk.Stop())
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, "stopped", tk.State().String())

	_, err = tk.Receive()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStopDuringResolution(t *testing.T) {
	net := discovery.NewNetwork()
	net.HoldResolve("0xbbbb2222")
	resolving := make(chan string, 4)
	net.NotifyResolve(resolving)
	announcePeer(t, net, "hostB", "0xbbbb2222", 52000)

	timeout := 300 * time.Millisecond
	tk, err := New(Config{Type: "chat", Backend: net.Substrate("hostA"), ResolveTimeout: timeout})
	require.NoError(t, err)
	require.NoError(t, tk.Start())

	select {
	case <-resolving:
	case <-time.After(2 * time.Second):
		t.Fatal("resolution never started")
	}

	start := time.Now()
	err = tk.Stop()
	assert.Less(t, time.Since(start), timeout+time.Second)

	var timedOut *NameResolutionTimeoutError
	assert.ErrorAs(t, err, &timedOut)
}

func TestReceiveReportsFault(t *testing.T) {
	net := discovery.NewNetwork()
	tk, err := New(Config{Type: "chat", Backend: net.Substrate("self")})
	require.NoError(t, err)
	require.NoError(t, tk.Start())

	net.FailBrowse(discovery.DefaultCategory, discovery.CodeServiceNotRunning)

	select {
	case <-tk.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not end on browse fault")
	}

	_, err = tk.Receive()
	var browseErr *ServiceBrowseError
	require.ErrorAs(t, err, &browseErr)

	var fault *discovery.Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, discovery.CodeServiceNotRunning, fault.Code)
	assert.ErrorAs(t, tk.Stop(), &browseErr)
}

func TestTalkerIsOwner(t *testing.T) {
	var _ Owner = (*Talker)(nil)
	var _ Owner = (*Remote)(nil)
}
