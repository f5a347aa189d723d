package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var nodesSucceeded = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "cis",
	Subsystem: "scheduler",
	Name:      "nodes_succeeded_total",
	Help:      "Total DAG node executions that completed successfully.",
})

var nodesFailed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "cis",
	Subsystem: "scheduler",
	Name:      "nodes_failed_total",
	Help:      "Total DAG node executions that exhausted their retries and failed.",
})

var runsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "cis",
	Subsystem: "scheduler",
	Name:      "runs_active",
	Help:      "Number of DAG runs currently in flight.",
})

var nodeAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "cis",
	Subsystem: "scheduler",
	Name:      "node_attempts",
	Help:      "Number of dispatch attempts a node took before reaching a terminal state.",
	Buckets:   []float64{1, 2, 3, 4, 5, 8},
})
