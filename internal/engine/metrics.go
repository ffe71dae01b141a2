package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "achievements_events_processed_total",
		Help: "Domain events processed by type",
	}, []string{"type"})

	evaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "achievements_definition_evaluations_total",
		Help: "Per-definition evaluations by status",
	}, []string{"status"})

	unlocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "achievements_unlocks_total",
		Help: "Unlocks by kind",
	}, []string{"kind"})

	evaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "achievements_event_duration_seconds",
		Help:    "Time to evaluate one event against all matching definitions",
		Buckets: prometheus.DefBuckets,
	})
)
