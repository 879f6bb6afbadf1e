// ABOUTME: Prometheus collectors for discovery workers
// ABOUTME: Every series is labelled with the worker's instance name
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Peer event labels
const (
	EventAdded     = "added"
	EventRemoved   = "removed"
	EventDuplicate = "duplicate"
	EventCollision = "collision"
)

// Resolution result labels
const (
	ResultOK      = "ok"
	ResultTimeout = "timeout"
	ResultFault   = "fault"
)

// Snapshot result labels
const (
	SnapshotSent      = "sent"
	SnapshotCoalesced = "coalesced"
)

var (
	Peers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "talker",
		Subsystem: "worker",
		Name:      "peers",
		Help:      "Number of peers currently in the registry",
	}, []string{"worker"})
	PeerEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "talker",
		Subsystem: "worker",
		Name:      "peer_events_total",
		Help:      "Registry changes and rejected peers",
	}, []string{"worker", "event"})
	Resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "talker",
		Subsystem: "worker",
		Name:      "resolutions_total",
		Help:      "Resolutions attempted, by outcome",
	}, []string{"worker", "result"})
	Snapshots = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "talker",
		Subsystem: "worker",
		Name:      "snapshots_total",
		Help:      "Snapshots published to the owner, and older ones discarded unread",
	}, []string{"worker", "result"})
	State = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "talker",
		Subsystem: "worker",
		Name:      "state",
		Help:      "Run loop state: 0 starting, 1 running, 2 draining, 3 stopped",
	}, []string{"worker"})
)

var (
	events      = []string{EventAdded, EventRemoved, EventDuplicate, EventCollision}
	resolutions = []string{ResultOK, ResultTimeout, ResultFault}
	snapshots   = []string{SnapshotSent, SnapshotCoalesced}
)

// Register creates the series for a worker so they are present even when zero
func Register(worker string) {
	Peers.WithLabelValues(worker)
	State.WithLabelValues(worker)
	for _, event := range events {
		PeerEvents.WithLabelValues(worker, event)
	}
	for _, result := range resolutions {
		Resolutions.WithLabelValues(worker, result)
	}
	for _, result := range snapshots {
		Snapshots.WithLabelValues(worker, result)
	}
}

// Unregister drops every series of a stopped worker
func Unregister(worker string) {
	Peers.DeleteLabelValues(worker)
	State.DeleteLabelValues(worker)
	for _, event := range events {
		PeerEvents.DeleteLabelValues(worker, event)
	}
	for _, result := range resolutions {
		Resolutions.DeleteLabelValues(worker, result)
	}
	for _, result := range snapshots {
		Snapshots.DeleteLabelValues(worker, result)
	}
}
