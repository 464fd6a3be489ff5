package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventbox_outbox_events_total",
			Help: "Outbox events by relay outcome",
		},
		[]string{"outcome"}, // published|failed|dead_letter|state_update_failed
	)

	ClaimedBatch = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eventbox_relay_claimed_batch_size",
			Help:    "Rows claimed per relay pass",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	ConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "eventbox_entity_version_conflicts_total",
			Help: "Optimistic-lock conflicts surfaced to callers",
		},
	)

	JanitorDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventbox_janitor_deleted_total",
			Help: "Outbox rows deleted by the retention janitor",
		},
		[]string{"status"}, // published|dead_letter
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		EventsTotal,
		ClaimedBatch,
		ConflictsTotal,
		JanitorDeleted,
	)
}
