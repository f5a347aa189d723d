package memory

import "testing"

func TestCacheGetMiss(t *testing.T) {
	c := NewCache(2)
	if _, ok := c.Get("missing"); ok {
		t.Fatal("expected miss")
	}
}

func TestCachePutGet(t *testing.T) {
	c := NewCache(2)
	c.Put("a", []byte("1"))
	v, ok := c.Get("a")
	if !ok || string(v) != "1" {
		t.Fatalf("Get(a) = %q, %v", v, ok)
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewCache(2)
	c.Put("a", []byte("1"))
	c.Put("b", []byte("2"))
	c.Get("a") // a is now MRU, b is LRU
	c.Put("c", []byte("3")) // evicts b

	if _, ok := c.Get("b"); ok {
		t.Fatal("expected b to be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a to survive")
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatal("expected c to be present")
	}
}

func TestCacheInvalidate(t *testing.T) {
	c := NewCache(2)
	c.Put("a", []byte("1"))
	c.Invalidate("a")
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected a to be invalidated")
	}
}

func TestCacheSnapshotOrder(t *testing.T) {
	c := NewCache(3)
	c.Put("a", []byte("1"))
	c.Put("b", []byte("2"))
	snap := c.Snapshot()
	if len(snap) != 2 || snap[0].Key != "b" || snap[1].Key != "a" {
		t.Fatalf("Snapshot() = %+v, want [b, a]", snap)
	}
}
