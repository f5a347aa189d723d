// Package vector implements the vector search core (C7): an in-memory
// HNSW-like ANN index, a SQL full-text fallback, adaptive threshold
// control, and the result merger that reconciles both back-ends' ranked
// lists.
package vector

import (
	"sort"

	"github.com/cis-project/cis-core/internal/domain"
)

// WeightedParams carries the two weights for MergeWeighted.
type WeightedParams struct {
	W1, W2 float64
}

// RRFParams carries the rank constant for MergeRRF.
type RRFParams struct {
	K float64
}

// DefaultRRFK matches the constant most reciprocal-rank-fusion
// implementations default to.
const DefaultRRFK = 60.0

// Merge combines two ranked result lists into one using the requested
// strategy, truncated to topK. Every result in both inputs is validated
// first: a score outside [0,1] or an empty id fails the whole merge.
func Merge(strategy domain.MergeStrategy, a, b []domain.ScoredResult, topK int, weighted WeightedParams, rrf RRFParams) ([]domain.ScoredResult, error) {
	if err := validate(a); err != nil {
		return nil, err
	}
	if err := validate(b); err != nil {
		return nil, err
	}

	var merged []domain.ScoredResult
	switch strategy {
	case domain.MergeUnion:
		merged = mergeUnion(a, b)
	case domain.MergeIntersect:
		merged = mergeIntersect(a, b)
	case domain.MergeWeighted:
		merged = mergeWeighted(a, b, weighted)
	case domain.MergeRRF:
		merged = mergeRRF(a, b, rrf)
	default:
		merged = mergeUnion(a, b)
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if topK > 0 && len(merged) > topK {
		merged = merged[:topK]
	}
	return merged, nil
}

func validate(results []domain.ScoredResult) error {
	for _, r := range results {
		if r.ID == "" {
			return domain.Wrap(domain.ErrVector, "vector.empty_result_id", domain.ErrEmptyResultID)
		}
		if r.Score < 0 || r.Score > 1 {
			return domain.Wrap(domain.ErrVector, "vector.score_out_of_range", domain.ErrScoreOutOfRange)
		}
	}
	return nil
}

func mergeUnion(a, b []domain.ScoredResult) []domain.ScoredResult {
	best := make(map[string]float64, len(a)+len(b))
	order := make([]string, 0, len(a)+len(b))
	for _, r := range append(append([]domain.ScoredResult{}, a...), b...) {
		if cur, ok := best[r.ID]; !ok {
			best[r.ID] = r.Score
			order = append(order, r.ID)
		} else if r.Score > cur {
			best[r.ID] = r.Score
		}
	}
	out := make([]domain.ScoredResult, len(order))
	for i, id := range order {
		out[i] = domain.ScoredResult{ID: id, Score: best[id]}
	}
	return out
}

func mergeIntersect(a, b []domain.ScoredResult) []domain.ScoredResult {
	scoresB := make(map[string]float64, len(b))
	for _, r := range b {
		scoresB[r.ID] = r.Score
	}
	var out []domain.ScoredResult
	seen := make(map[string]bool)
	for _, r := range a {
		if sb, ok := scoresB[r.ID]; ok && !seen[r.ID] {
			seen[r.ID] = true
			score := r.Score
			if sb > score {
				score = sb
			}
			out = append(out, domain.ScoredResult{ID: r.ID, Score: score})
		}
	}
	return out
}

func mergeWeighted(a, b []domain.ScoredResult, p WeightedParams) []domain.ScoredResult {
	sum := p.W1 + p.W2
	if sum == 0 {
		sum = 1
	}
	acc := make(map[string]float64)
	order := make([]string, 0, len(a)+len(b))
	for _, r := range a {
		if _, ok := acc[r.ID]; !ok {
			order = append(order, r.ID)
		}
		acc[r.ID] += r.Score * p.W1 / sum
	}
	for _, r := range b {
		if _, ok := acc[r.ID]; !ok {
			order = append(order, r.ID)
		}
		acc[r.ID] += r.Score * p.W2 / sum
	}
	out := make([]domain.ScoredResult, len(order))
	for i, id := range order {
		score := acc[id]
		if score > 1 {
			score = 1
		}
		if score < 0 {
			score = 0
		}
		out[i] = domain.ScoredResult{ID: id, Score: score}
	}
	return out
}

func mergeRRF(a, b []domain.ScoredResult, p RRFParams) []domain.ScoredResult {
	k := p.K
	if k <= 0 {
		k = DefaultRRFK
	}
	acc := make(map[string]float64)
	order := make([]string, 0, len(a)+len(b))
	addRanked := func(list []domain.ScoredResult) {
		ranked := append([]domain.ScoredResult{}, list...)
		sort.Slice(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
		for rank, r := range ranked {
			if _, ok := acc[r.ID]; !ok {
				order = append(order, r.ID)
			}
			acc[r.ID] += 1.0 / (k + float64(rank+1))
		}
	}
	addRanked(a)
	addRanked(b)

	out := make([]domain.ScoredResult, len(order))
	for i, id := range order {
		out[i] = domain.ScoredResult{ID: id, Score: acc[id]}
	}
	return out
}
