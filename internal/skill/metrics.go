package skill

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var executionsByStatus = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "cis",
	Subsystem: "skill",
	Name:      "executions_total",
	Help:      "Total skill executions by terminal status.",
}, []string{"status", "kind"})

var executionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "cis",
	Subsystem: "skill",
	Name:      "execution_duration_seconds",
	Help:      "Wall-clock duration of a skill execution, by kind.",
	Buckets:   prometheus.DefBuckets,
}, []string{"kind"})

var permissionDenials = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "cis",
	Subsystem: "skill",
	Name:      "permission_denials_total",
	Help:      "Total executions rejected at the permission check.",
})
