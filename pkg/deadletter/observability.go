package deadletter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deadletter_events_recorded_total",
			Help: "Total number of failed events captured into the dead-letter store",
		},
		[]string{"handler_name"},
	)

	eventsRetriedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deadletter_events_retried_total",
			Help: "Total number of attempted_at updates after failed retries",
		},
	)

	eventsRemovedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deadletter_events_removed_total",
			Help: "Total number of records removed after successful reprocessing",
		},
	)

	eventsQuarantinedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deadletter_events_quarantined_total",
			Help: "Total number of records moved to the poison table",
		},
	)
)

func recordEventRecorded(handlerName string) {
	if handlerName == "" {
		handlerName = "unknown"
	}
	eventsRecordedTotal.WithLabelValues(handlerName).Inc()
}

func recordEventRetried()     { eventsRetriedTotal.Inc() }
func recordEventRemoved()     { eventsRemovedTotal.Inc() }
func recordEventQuarantined() { eventsQuarantinedTotal.Inc() }
