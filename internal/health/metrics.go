package health

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var checkStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "cis",
	Subsystem: "health",
	Name:      "check_status",
	Help:      "Health check result per check (1=healthy, 0=unhealthy).",
}, []string{"check"})

var recoveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "cis",
	Subsystem: "health",
	Name:      "recoveries_total",
	Help:      "Total auto-recovery attempts, by check.",
}, []string{"check"})
