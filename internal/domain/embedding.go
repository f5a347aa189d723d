// Package domain — vector search entities (C7).
package domain

import "time"

// EmbeddingRecord is a single vector stored in the ANN index, keyed back to
// the memory item it was derived from.
type EmbeddingRecord struct {
	ID         string    `json:"id"`
	MemoryKey  string    `json:"memory_key"`
	Vector     []float32 `json:"vector"`
	Dimensions int       `json:"dimensions"`
	CreatedAt  time.Time `json:"created_at"`
}

// ScoredResult is one hit returned by a vector or FTS search, before or
// after merging.
type ScoredResult struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// MergeStrategy selects how the result merger combines multiple ranked
// result lists into one.
type MergeStrategy string

const (
	MergeUnion     MergeStrategy = "UNION"
	MergeIntersect MergeStrategy = "INTERSECT"
	MergeWeighted  MergeStrategy = "WEIGHTED"
	MergeRRF       MergeStrategy = "RRF"
)
