package vector

import "time"

// ThresholdAction is one adjustment the adaptive controller can emit.
type ThresholdAction string

const (
	ActionNone              ThresholdAction = "NONE"
	ActionDecreaseEfSearch  ThresholdAction = "DECREASE_EF_SEARCH"
	ActionIncreaseEfSearch  ThresholdAction = "INCREASE_EF_SEARCH"
	ActionDecreasePreload   ThresholdAction = "DECREASE_PRELOAD"
	ActionIncreasePreload   ThresholdAction = "INCREASE_PRELOAD"
	ActionAdjustDatasetSize ThresholdAction = "ADJUST_DATASET_SIZE"
	ActionSwapStrategy      ThresholdAction = "SWAP_STRATEGY"
)

// Sample is one observation the controller ingests.
type Sample struct {
	AvgLatencyMs float64
	QPS          float64
	CacheHitRate float64
	IndexSize    int
}

const (
	efSearchFloor   = 10
	efSearchCeil    = 200
	preloadFloor    = 10
	preloadCeil     = 500
	adjustmentStep  = 0.20 // 20% nudge per tuning step
	minHistory      = 10
	minInterval     = 60 * time.Second
	trendWindow     = 5
	latencyBadRatio = 1.5 // trend sample vs window average considered "bad"
)

// Controller implements adaptive thresholding: it observes rolling
// samples and, no more often than minInterval and never before
// minHistory samples have accumulated, emits a ThresholdAction to tune
// ef_search/preload or, on a persistent bad trend, swap strategy
// entirely.
type Controller struct {
	efSearch int
	preload  int

	history      []Sample
	lastAdjustAt time.Time
	now          func() time.Time
}

// NewController starts a Controller at the given initial ef_search/preload,
// clamped to their floors/ceilings.
func NewController(efSearch, preload int) *Controller {
	return &Controller{
		efSearch: clamp(efSearch, efSearchFloor, efSearchCeil),
		preload:  clamp(preload, preloadFloor, preloadCeil),
		now:      time.Now,
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// EfSearch returns the controller's current ef_search value.
func (c *Controller) EfSearch() int { return c.efSearch }

// Preload returns the controller's current preload size.
func (c *Controller) Preload() int { return c.preload }

// Observe records a sample and, if the gating conditions are met, returns
// the action it decided to take (ActionNone if it held steady or the gate
// was not yet open).
func (c *Controller) Observe(s Sample) ThresholdAction {
	c.history = append(c.history, s)
	if len(c.history) > 100 {
		c.history = c.history[len(c.history)-100:]
	}

	if len(c.history) < minHistory {
		return ActionNone
	}
	now := c.now()
	if !c.lastAdjustAt.IsZero() && now.Sub(c.lastAdjustAt) < minInterval {
		return ActionNone
	}

	if c.persistentBadTrend() {
		c.lastAdjustAt = now
		return ActionSwapStrategy
	}

	action := c.decide(s)
	if action != ActionNone {
		c.lastAdjustAt = now
	}
	return action
}

// decide picks a single-step adjustment from the latest sample relative
// to recent history: high latency or low cache-hit-rate narrows the
// search (lower ef_search/preload, favoring speed); plenty of headroom
// widens it (favoring recall).
func (c *Controller) decide(s Sample) ThresholdAction {
	avg := c.windowAverage()

	if s.AvgLatencyMs > avg.AvgLatencyMs*1.2 || s.CacheHitRate < 0.5 {
		if c.efSearch > efSearchFloor {
			c.efSearch = clamp(int(float64(c.efSearch)*(1-adjustmentStep)), efSearchFloor, efSearchCeil)
			return ActionDecreaseEfSearch
		}
		if c.preload > preloadFloor {
			c.preload = clamp(int(float64(c.preload)*(1-adjustmentStep)), preloadFloor, preloadCeil)
			return ActionDecreasePreload
		}
		return ActionNone
	}

	if s.AvgLatencyMs < avg.AvgLatencyMs*0.8 && s.CacheHitRate > 0.8 {
		if c.efSearch < efSearchCeil {
			c.efSearch = clamp(int(float64(c.efSearch)*(1+adjustmentStep))+1, efSearchFloor, efSearchCeil)
			return ActionIncreaseEfSearch
		}
		if c.preload < preloadCeil {
			c.preload = clamp(int(float64(c.preload)*(1+adjustmentStep))+1, preloadFloor, preloadCeil)
			return ActionIncreasePreload
		}
		return ActionNone
	}

	return ActionNone
}

func (c *Controller) windowAverage() Sample {
	n := trendWindow
	if n > len(c.history) {
		n = len(c.history)
	}
	window := c.history[len(c.history)-n:]
	var sum Sample
	for _, s := range window {
		sum.AvgLatencyMs += s.AvgLatencyMs
		sum.QPS += s.QPS
		sum.CacheHitRate += s.CacheHitRate
	}
	count := float64(len(window))
	if count == 0 {
		return Sample{}
	}
	return Sample{
		AvgLatencyMs: sum.AvgLatencyMs / count,
		QPS:          sum.QPS / count,
		CacheHitRate: sum.CacheHitRate / count,
	}
}

// persistentBadTrend reports whether the last trendWindow samples have
// all run meaningfully worse than the window before them, the signal
// that should escalate to a strategy switch rather than another
// ef_search nudge.
func (c *Controller) persistentBadTrend() bool {
	if len(c.history) < trendWindow*2 {
		return false
	}
	recent := c.history[len(c.history)-trendWindow:]
	prior := c.history[len(c.history)-trendWindow*2 : len(c.history)-trendWindow]

	priorAvg := avgLatency(prior)
	if priorAvg == 0 {
		return false
	}
	for _, s := range recent {
		if s.AvgLatencyMs <= priorAvg*latencyBadRatio {
			return false
		}
	}
	return true
}

func avgLatency(samples []Sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s.AvgLatencyMs
	}
	return sum / float64(len(samples))
}
