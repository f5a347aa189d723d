package syncqueue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var enqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "cis",
	Subsystem: "syncqueue",
	Name:      "enqueued_total",
	Help:      "Total sync tasks enqueued, by priority.",
}, []string{"priority"})

var completedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "cis",
	Subsystem: "syncqueue",
	Name:      "completed_total",
	Help:      "Total sync tasks delivered successfully, by priority.",
}, []string{"priority"})

var failedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "cis",
	Subsystem: "syncqueue",
	Name:      "failed_total",
	Help:      "Total sync task attempts that failed, by priority.",
}, []string{"priority"})

var deadLetterCount = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "cis",
	Subsystem: "syncqueue",
	Name:      "dead_letter_count",
	Help:      "Current number of tasks held in the dead-letter ring buffer.",
})

var batchesSent = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "cis",
	Subsystem: "syncqueue",
	Name:      "batches_sent_total",
	Help:      "Total batched deliveries sent.",
})

var avgProcessingSeconds = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "cis",
	Subsystem: "syncqueue",
	Name:      "avg_processing_seconds",
	Help:      "Exponentially-smoothed average task processing time in seconds.",
})
