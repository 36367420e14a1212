package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_dispatcher_events_total",
		Help: "Terminal event outcomes by status.",
	}, []string{"status"})

	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_dispatcher_retries_total",
		Help: "Retry attempts scheduled after transient failures.",
	})

	duplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_dispatcher_duplicates_total",
		Help: "Events suppressed by the idempotency store.",
	})

	processingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalog_dispatcher_processing_duration_seconds",
		Help:    "Wall time from dequeue to terminal state.",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})
)
