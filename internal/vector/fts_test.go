package vector

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestFTSStoreIndexAndSearchFindsMatch(t *testing.T) {
	store, err := NewFTSStore(openTestDB(t))
	if err != nil {
		t.Fatalf("NewFTSStore: %v", err)
	}

	if err := store.Index("mem-1", "the quick brown fox"); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := store.Index("mem-2", "a slow green turtle"); err != nil {
		t.Fatalf("Index: %v", err)
	}

	out, err := store.Search("fox", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(out) != 1 || out[0].ID != "mem-1" {
		t.Fatalf("out = %+v, want [mem-1]", out)
	}
}

func TestFTSStoreIndexReplacesPriorContent(t *testing.T) {
	store, err := NewFTSStore(openTestDB(t))
	if err != nil {
		t.Fatalf("NewFTSStore: %v", err)
	}

	if err := store.Index("mem-1", "apples"); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := store.Index("mem-1", "oranges"); err != nil {
		t.Fatalf("Index (replace): %v", err)
	}

	out, err := store.Search("apples", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("out = %+v, want empty after content replaced", out)
	}

	out, err = store.Search("oranges", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(out) != 1 || out[0].ID != "mem-1" {
		t.Fatalf("out = %+v, want [mem-1]", out)
	}
}

func TestFTSStoreRemoveDropsFromSearch(t *testing.T) {
	store, err := NewFTSStore(openTestDB(t))
	if err != nil {
		t.Fatalf("NewFTSStore: %v", err)
	}
	if err := store.Index("mem-1", "banana bread"); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := store.Remove("mem-1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	out, err := store.Search("banana", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("out = %+v, want empty after remove", out)
	}
}

func TestFTSStoreSearchScoresWithinUnitRange(t *testing.T) {
	store, err := NewFTSStore(openTestDB(t))
	if err != nil {
		t.Fatalf("NewFTSStore: %v", err)
	}
	_ = store.Index("mem-1", "golang concurrency patterns")
	_ = store.Index("mem-2", "golang error handling patterns")

	out, err := store.Search("golang patterns", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range out {
		if r.Score < 0 || r.Score > 1 {
			t.Fatalf("score %v out of [0,1] range", r.Score)
		}
	}
}
