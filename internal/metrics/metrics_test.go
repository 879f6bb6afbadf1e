// ABOUTME: Tests for worker metrics registration
// ABOUTME: Checks that series exist at zero once a worker registers and go when it stops
package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRegisterCreatesSeries(t *testing.T) {
	Register("0xfeed")

	assert.Equal(t, 0.0, testutil.ToFloat64(PeerEvents.WithLabelValues("0xfeed", EventAdded)))
	assert.Equal(t, 0.0, testutil.ToFloat64(Resolutions.WithLabelValues("0xfeed", ResultTimeout)))
	assert.Equal(t, 0.0, testutil.ToFloat64(Peers.WithLabelValues("0xfeed")))

	PeerEvents.WithLabelValues("0xfeed", EventCollision).Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(PeerEvents.WithLabelValues("0xfeed", EventCollision)))
}

func TestUnregisterDropsSeries(t *testing.T) {
	Register("0xdead")
	Register("0xbeef")
	Peers.WithLabelValues("0xdead").Set(3)
	PeerEvents.WithLabelValues("0xdead", EventAdded).Inc()

	events := testutil.CollectAndCount(PeerEvents)
	snapshots := testutil.CollectAndCount(Snapshots)
	Unregister("0xdead")

	assert.Equal(t, events-4, testutil.CollectAndCount(PeerEvents))
	assert.Equal(t, snapshots-2, testutil.CollectAndCount(Snapshots))
	assert.False(t, Peers.DeleteLabelValues("0xdead"), "series already gone")
	assert.False(t, State.DeleteLabelValues("0xdead"))
	assert.False(t, Resolutions.DeleteLabelValues("0xdead", ResultOK))
	assert.True(t, Peers.DeleteLabelValues("0xbeef"), "other workers keep their series")
}
