// Package metrics holds the relay's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Frame kinds used as the "kind" label on MessagesTotal.
const (
	KindBinary    = "binary"
	KindControl   = "control"
	KindMalformed = "malformed"
	KindThrottled = "throttled"
)

var (
	RoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_rooms_active",
			Help: "Number of rooms with at least one connected peer",
		},
	)

	PeersConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_peers_connected",
			Help: "Number of open peer connections across all rooms",
		},
	)

	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_total",
			Help: "Inbound frames by outcome",
		},
		[]string{"kind"},
	)

	BytesRelayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_bytes_relayed_total",
			Help: "Payload bytes queued to peers by broadcasts",
		},
	)

	MergeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_merge_failures_total",
			Help: "Binary updates rejected by a room replica",
		},
	)

	SlowPeersDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_slow_peers_dropped_total",
			Help: "Peers disconnected because their send queue was full",
		},
	)

	SnapshotBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_snapshot_bytes",
			Help:    "Size of bootstrap snapshots sent to joining peers",
			Buckets: prometheus.ExponentialBuckets(64, 4, 10),
		},
	)
)
