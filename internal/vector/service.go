package vector

import (
	"sync"
	"time"

	"github.com/cis-project/cis-core/internal/domain"
)

// Service ties the ANN index, the FTS5 fallback, the result merger, and
// the adaptive threshold controller into the one search surface
// internal/node wires up: Search queries the ANN index, and the FTS store
// too when one is configured and query text is given, and merges their
// rankings; every call's observed latency feeds the controller, whose
// ef_search changes are applied to the index.
type Service struct {
	mu         sync.Mutex
	index      *Index
	fts        *FTSStore
	controller *Controller
	strategy   domain.MergeStrategy
	weighted   WeightedParams
	rrf        RRFParams

	hits, misses int
}

// NewService wires a Service around an already-constructed index and FTS
// store, starting the controller at the index's initial ef_search/preload.
func NewService(index *Index, fts *FTSStore, efSearch, preload int) *Service {
	return &Service{
		index:      index,
		fts:        fts,
		controller: NewController(efSearch, preload),
		strategy:   domain.MergeRRF,
		rrf:        RRFParams{K: DefaultRRFK},
	}
}

// SetStrategy changes the merge strategy used by subsequent searches.
// Search's own handling of ActionSwapStrategy sets the strategy directly
// and does not go through this method.
func (s *Service) SetStrategy(strategy domain.MergeStrategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strategy = strategy
}

// Search runs the ANN index search and then, when an FTS store is set and
// text is non-empty, the FTS5 search, one after the other, and merges
// their results. It then records the observed latency/cache-hit-rate with
// the adaptive controller and applies ef_search changes and strategy
// swaps; preload actions only change the controller's Preload value.
func (s *Service) Search(vector []float32, text string, topK int) ([]domain.ScoredResult, error) {
	start := time.Now()

	annResults, err := s.index.Search(vector, topK)
	if err != nil {
		return nil, err
	}

	var ftsResults []domain.ScoredResult
	if s.fts != nil && text != "" {
		ftsResults, err = s.fts.Search(text, topK)
		if err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	strategy, weighted, rrf := s.strategy, s.weighted, s.rrf
	s.mu.Unlock()

	merged, err := Merge(strategy, annResults, ftsResults, topK, weighted, rrf)
	if err != nil {
		return nil, err
	}

	s.observe(start, len(merged) > 0)
	return merged, nil
}

func (s *Service) observe(start time.Time, hit bool) {
	s.mu.Lock()
	if hit {
		s.hits++
	} else {
		s.misses++
	}
	total := s.hits + s.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(s.hits) / float64(total)
	}
	s.mu.Unlock()

	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0
	action := s.controller.Observe(Sample{
		AvgLatencyMs: latencyMs,
		CacheHitRate: hitRate,
		IndexSize:    s.index.Size(),
	})

	switch action {
	case ActionDecreaseEfSearch, ActionIncreaseEfSearch:
		s.index.SetEfSearch(s.controller.EfSearch())
	case ActionSwapStrategy:
		s.mu.Lock()
		if s.strategy == domain.MergeRRF {
			s.strategy = domain.MergeWeighted
			s.weighted = WeightedParams{W1: 0.6, W2: 0.4}
		} else {
			s.strategy = domain.MergeRRF
		}
		s.mu.Unlock()
	}
}
