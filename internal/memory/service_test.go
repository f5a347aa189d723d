package memory

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cis-project/cis-core/internal/domain"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db")+"?_journal_mode=WAL")
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := EnsureSchema(db); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	enc, err := GenerateKeyFile(filepath.Join(t.TempDir(), "key.json"), "pass", testParams())
	if err != nil {
		t.Fatalf("GenerateKeyFile: %v", err)
	}
	return NewService(db, enc, "node-a", 16)
}

func TestServiceSetGetPrivate(t *testing.T) {
	s := newTestService(t)
	if err := s.Set(domain.DomainPrivate, "secret", []byte("shh")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(domain.DomainPrivate, "secret")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "shh" {
		t.Fatalf("Get() = %q", got)
	}
}

func TestServiceSetGetPublicBumpsClock(t *testing.T) {
	s := newTestService(t)
	if err := s.Set(domain.DomainPublic, "note", []byte("v1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	items, err := s.ExportPublic()
	if err != nil {
		t.Fatalf("ExportPublic: %v", err)
	}
	if len(items) != 1 || items[0].Clock["node-a"] != 1 {
		t.Fatalf("items = %+v", items)
	}
}

func TestServiceDeletePrivateRemoves(t *testing.T) {
	s := newTestService(t)
	s.Set(domain.DomainPrivate, "k", []byte("v"))
	if err := s.Delete(domain.DomainPrivate, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(domain.DomainPrivate, "k"); err == nil {
		t.Fatal("expected not-found after delete")
	}
}

func TestServiceDeletePublicTombstones(t *testing.T) {
	s := newTestService(t)
	s.Set(domain.DomainPublic, "k", []byte("v"))
	if err := s.Delete(domain.DomainPublic, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(domain.DomainPublic, "k"); err == nil {
		t.Fatal("expected not-found after tombstone")
	}
	keys, err := s.ListKeys(domain.DomainPublic)
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("ListKeys() = %v, want empty (tombstoned)", keys)
	}
}

func TestImportPublicConvergesConcurrentEdits(t *testing.T) {
	s := newTestService(t)
	s.Set(domain.DomainPublic, "k", []byte("local"))

	incoming := domain.MemoryItem{
		Key:       "k",
		Domain:    domain.DomainPublic,
		Value:     []byte("remote"),
		OwnerID:   "node-b",
		Clock:     domain.VectorClock{"node-b": 1},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	changed, err := s.ImportPublic(incoming)
	if err != nil {
		t.Fatalf("ImportPublic: %v", err)
	}
	if !changed {
		t.Fatal("expected concurrent edit with later owner id to win and apply")
	}
}

func TestGetPendingSyncAndMarkSynced(t *testing.T) {
	s := newTestService(t)
	s.Set(domain.DomainPublic, "k", []byte("v"))

	pending, err := s.GetPendingSync(10)
	if err != nil {
		t.Fatalf("GetPendingSync: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("GetPendingSync() = %v, want 1 item", pending)
	}
	if err := s.MarkSynced("k"); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}
	pending, err = s.GetPendingSync(10)
	if err != nil {
		t.Fatalf("GetPendingSync: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("GetPendingSync() after mark = %v, want empty", pending)
	}
}

func TestGetPublicItemReturnsFullMetadata(t *testing.T) {
	s := newTestService(t)
	if err := s.Set(domain.DomainPublic, "k", []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	item, err := s.GetPublicItem("k")
	if err != nil {
		t.Fatalf("GetPublicItem: %v", err)
	}
	if item.Key != "k" || string(item.Value) != "v" {
		t.Fatalf("GetPublicItem() = %+v", item)
	}
	if item.Clock["node-a"] == 0 {
		t.Fatalf("expected a bumped vector clock entry, got %+v", item.Clock)
	}
}

func TestGetPublicItemMissingReturnsNotFound(t *testing.T) {
	s := newTestService(t)
	_, err := s.GetPublicItem("nope")
	if err != domain.ErrItemNotFound {
		t.Fatalf("err = %v, want ErrItemNotFound", err)
	}
}

func TestServiceRotateReencryptsPrivateEntries(t *testing.T) {
	s := newTestService(t)
	if err := s.Set(domain.DomainPrivate, "a", []byte("alpha")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(domain.DomainPrivate, "b", []byte("beta")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	newEnc, err := GenerateKeyFile(filepath.Join(t.TempDir(), "key2.json"), "new-pass", testParams())
	if err != nil {
		t.Fatalf("GenerateKeyFile: %v", err)
	}
	if err := s.Rotate(newEnc); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	// Set only invalidates the cache, so neither key is cached here; the
	// invalidations just make sure Get below reads the rotated ciphertext.
	s.cache.Invalidate(cacheKey(domain.DomainPrivate, "a"))
	s.cache.Invalidate(cacheKey(domain.DomainPrivate, "b"))

	got, err := s.Get(domain.DomainPrivate, "a")
	if err != nil {
		t.Fatalf("Get after Rotate: %v", err)
	}
	if string(got) != "alpha" {
		t.Fatalf("Get(a) after Rotate = %q, want alpha", got)
	}

	var sealed []byte
	if err := s.db.QueryRow(`SELECT ciphertext FROM private_entries WHERE key = ?`, "b").Scan(&sealed); err != nil {
		t.Fatalf("QueryRow: %v", err)
	}
	if _, err := s.enc.Open(sealed); err != nil {
		t.Fatalf("post-rotation ciphertext should open under the new key: %v", err)
	}
}
