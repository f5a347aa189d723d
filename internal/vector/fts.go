package vector

import (
	"database/sql"
	"fmt"

	"github.com/cis-project/cis-core/internal/domain"
)

// FTSStore is the SQLite FTS5 fallback search back-end: a full-text index
// over the same memory content the ANN index embeds, which Service.Search
// queries alongside the ANN index whenever the caller passes query text.
// modernc.org/sqlite ships FTS5 compiled in, so this needs no
// separate search engine.
type FTSStore struct {
	db *sql.DB
}

// NewFTSStore wraps db, creating the memory_fts virtual table if absent.
func NewFTSStore(db *sql.DB) (*FTSStore, error) {
	if _, err := db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS memory_fts USING fts5(
			memory_key UNINDEXED,
			content
		)`); err != nil {
		return nil, domain.Wrap(domain.ErrVector, "vector.fts_schema_failed", fmt.Errorf("create memory_fts: %w", err))
	}
	return &FTSStore{db: db}, nil
}

// Index upserts the searchable text for a memory key. FTS5 has no native
// upsert, so this deletes any prior row for the key before inserting.
func (f *FTSStore) Index(memoryKey, content string) error {
	tx, err := f.db.Begin()
	if err != nil {
		return domain.Wrap(domain.ErrVector, "vector.fts_index_failed", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM memory_fts WHERE memory_key = ?`, memoryKey); err != nil {
		return domain.Wrap(domain.ErrVector, "vector.fts_index_failed", err)
	}
	if _, err := tx.Exec(`INSERT INTO memory_fts (memory_key, content) VALUES (?, ?)`, memoryKey, content); err != nil {
		return domain.Wrap(domain.ErrVector, "vector.fts_index_failed", err)
	}
	return tx.Commit()
}

// Remove deletes a memory key's indexed text, if present.
func (f *FTSStore) Remove(memoryKey string) error {
	_, err := f.db.Exec(`DELETE FROM memory_fts WHERE memory_key = ?`, memoryKey)
	if err != nil {
		return domain.Wrap(domain.ErrVector, "vector.fts_remove_failed", err)
	}
	return nil
}

// Search runs an FTS5 MATCH query and returns hits ranked by bm25, mapped
// into the [0,1] range the merger expects (higher is better; bm25 itself
// is lower-is-better).
func (f *FTSStore) Search(query string, topK int) ([]domain.ScoredResult, error) {
	rows, err := f.db.Query(`
		SELECT memory_key, bm25(memory_fts)
		FROM memory_fts
		WHERE memory_fts MATCH ?
		ORDER BY bm25(memory_fts)
		LIMIT ?`, query, topK)
	if err != nil {
		return nil, domain.Wrap(domain.ErrVector, "vector.fts_search_failed", err)
	}
	defer rows.Close()

	var rawScores []float64
	var ids []string
	for rows.Next() {
		var id string
		var bm25 float64
		if err := rows.Scan(&id, &bm25); err != nil {
			return nil, domain.Wrap(domain.ErrVector, "vector.fts_scan_failed", err)
		}
		ids = append(ids, id)
		rawScores = append(rawScores, bm25)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Wrap(domain.ErrVector, "vector.fts_search_failed", err)
	}

	return normalizeBM25(ids, rawScores), nil
}

// normalizeBM25 maps bm25 scores (negative, more negative is a better
// match) onto [0,1], where 1 is the best match in this result set.
func normalizeBM25(ids []string, rawScores []float64) []domain.ScoredResult {
	if len(ids) == 0 {
		return nil
	}
	min, max := rawScores[0], rawScores[0]
	for _, s := range rawScores {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	out := make([]domain.ScoredResult, len(ids))
	spread := max - min
	for i, id := range ids {
		var score float64
		if spread == 0 {
			score = 1
		} else {
			// rawScores[i] closer to min (the best bm25) should map to 1.
			score = 1 - (rawScores[i]-min)/spread
		}
		out[i] = domain.ScoredResult{ID: id, Score: score}
	}
	return out
}
