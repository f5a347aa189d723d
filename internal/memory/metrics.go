package memory

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "cis",
	Subsystem: "memory",
	Name:      "cache_hits_total",
	Help:      "Total Cache.Get calls that found a cached value.",
})

var cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "cis",
	Subsystem: "memory",
	Name:      "cache_misses_total",
	Help:      "Total Cache.Get calls that missed.",
})

var cacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "cis",
	Subsystem: "memory",
	Name:      "cache_evictions_total",
	Help:      "Total entries evicted to stay within cache capacity.",
})

var cacheSize = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "cis",
	Subsystem: "memory",
	Name:      "cache_size",
	Help:      "Current number of entries held in the write-through cache.",
})
