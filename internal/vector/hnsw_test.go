package vector

import (
	"errors"
	"testing"

	"github.com/cis-project/cis-core/internal/domain"
)

func vec(values ...float32) []float32 { return values }

func TestIndexInsertAndSearchFindsNearest(t *testing.T) {
	idx := NewIndex(2, 10)

	records := []domain.EmbeddingRecord{
		{ID: "close", Vector: vec(1, 0)},
		{ID: "mid", Vector: vec(0.7, 0.7)},
		{ID: "far", Vector: vec(0, 1)},
	}
	for _, r := range records {
		if err := idx.Insert(r); err != nil {
			t.Fatalf("Insert(%s): %v", r.ID, err)
		}
	}

	out, err := idx.Search(vec(1, 0), 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(out) != 1 || out[0].ID != "close" {
		t.Fatalf("out = %+v, want [close]", out)
	}
}

func TestIndexInsertRejectsDimensionMismatch(t *testing.T) {
	idx := NewIndex(3, 10)
	err := idx.Insert(domain.EmbeddingRecord{ID: "bad", Vector: vec(1, 0)})
	if err == nil || !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestIndexSearchRejectsDimensionMismatch(t *testing.T) {
	idx := NewIndex(2, 10)
	_ = idx.Insert(domain.EmbeddingRecord{ID: "a", Vector: vec(1, 0)})
	_, err := idx.Search(vec(1, 0, 0), 1)
	if err == nil || !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestIndexDeleteRemovesFromResults(t *testing.T) {
	idx := NewIndex(2, 10)
	_ = idx.Insert(domain.EmbeddingRecord{ID: "a", Vector: vec(1, 0)})
	_ = idx.Insert(domain.EmbeddingRecord{ID: "b", Vector: vec(0, 1)})

	idx.Delete("a")
	if idx.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", idx.Size())
	}

	out, err := idx.Search(vec(1, 0), 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range out {
		if r.ID == "a" {
			t.Fatalf("deleted id %q still present in results: %+v", "a", out)
		}
	}
}

func TestIndexSearchOnEmptyIndexReturnsNoResults(t *testing.T) {
	idx := NewIndex(2, 10)
	out, err := idx.Search(vec(1, 0), 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("out = %+v, want empty", out)
	}
}

func TestIndexSearchReturnsResultsAfterSetEfSearch(t *testing.T) {
	idx := NewIndex(2, 1)
	for i := 0; i < 20; i++ {
		_ = idx.Insert(domain.EmbeddingRecord{ID: string(rune('a' + i)), Vector: vec(float32(i), float32(20 - i))})
	}
	idx.SetEfSearch(50)
	out, err := idx.Search(vec(10, 10), 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(out) == 0 {
		t.Fatal("expected at least one result with a widened ef_search")
	}
}
