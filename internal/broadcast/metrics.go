package broadcast

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectedClients tracks the current fan-out audience size.
	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "broadcast_connected_clients",
			Help: "Currently connected fan-out clients",
		},
	)

	// EventsSubmitted counts events accepted into the pending queue.
	EventsSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_events_submitted_total",
			Help: "Events appended to the pending queue",
		},
	)

	// EventsDelivered counts per-client deliveries (one event to one client).
	EventsDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_events_delivered_total",
			Help: "Per-client event deliveries",
		},
	)

	// EventsDropped counts events drained without delivery, by reason.
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_events_dropped_total",
			Help: "Events dropped without delivery by reason",
		},
		[]string{"reason"},
	)
)
