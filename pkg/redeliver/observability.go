package redeliver

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Replay outcomes used as metric label values.
const (
	outcomeSuccess        = "success"
	outcomeRetried        = "retried"
	outcomeQuarantined    = "quarantined"
	outcomeCorrupt        = "corrupt"
	outcomeUnknownHandler = "unknown_handler"
	outcomeLostRace       = "lost_race"
	outcomeStorageError   = "storage_error"
)

var (
	passesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redeliver_passes_total",
			Help: "Total number of coordinator batch passes",
		},
		[]string{"status"},
	)

	replaysTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redeliver_replays_total",
			Help: "Total number of replay attempts by handler and outcome",
		},
		[]string{"handler_name", "outcome"},
	)

	pendingEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "redeliver_pending_events",
			Help: "Failed events waiting in the dead-letter store after the last pass",
		},
	)

	passDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "redeliver_pass_duration_seconds",
			Help:    "Duration of coordinator batch passes",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func recordPass(status string, seconds float64) {
	passesTotal.WithLabelValues(normalizeLabel(status)).Inc()
	passDuration.Observe(seconds)
}

func recordReplay(handlerName, outcome string) {
	replaysTotal.WithLabelValues(normalizeLabel(handlerName), normalizeLabel(outcome)).Inc()
}

func setPendingEvents(count int64) {
	pendingEvents.Set(float64(count))
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
