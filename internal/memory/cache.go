package memory

import (
	"container/list"
	"sync"
	"time"

	"github.com/cis-project/cis-core/internal/domain"
)

// cacheEntry is the payload stored in the LRU's linked-list elements.
type cacheEntry struct {
	key   string
	value []byte
	hits  int64
}

// Cache is a write-through LRU fronting the memory store. It uses a single
// sync.RWMutex for both the hash index and the list — readers and writers
// contend on the same lock, so a long write stream can starve readers,
// a deliberate single-lock design rather than a sharded or lock-free
// alternative; callers that need read-heavy fairness should size the
// cache to avoid eviction churn rather than work around the lock.
type Cache struct {
	mu       sync.RWMutex
	capacity int
	ll       *list.List
	index    map[string]*list.Element
}

// NewCache constructs an empty cache with the given capacity.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		ll:       list.New(),
		index:    make(map[string]*list.Element, capacity),
	}
}

// Get returns the cached value for key, promoting it to most-recently-used.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	if !ok {
		cacheMisses.Inc()
		return nil, false
	}
	c.ll.MoveToFront(el)
	ent := el.Value.(*cacheEntry)
	ent.hits++
	cacheHits.Inc()
	return ent.value, true
}

// Put inserts or updates a key, evicting the least-recently-used entry if
// the cache is at capacity.
func (c *Cache) Put(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		c.ll.MoveToFront(el)
		el.Value.(*cacheEntry).value = value
		return
	}

	el := c.ll.PushFront(&cacheEntry{key: key, value: value})
	c.index[key] = el

	if c.ll.Len() > c.capacity {
		c.evictOldest()
	}
	cacheSize.Set(float64(c.ll.Len()))
}

// Invalidate removes key from the cache, if present.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		c.ll.Remove(el)
		delete(c.index, key)
		cacheSize.Set(float64(c.ll.Len()))
	}
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ll.Len()
}

// evictOldest removes the least-recently-used entry. Caller must hold mu.
func (c *Cache) evictOldest() {
	back := c.ll.Back()
	if back == nil {
		return
	}
	ent := back.Value.(*cacheEntry)
	delete(c.index, ent.key)
	c.ll.Remove(back)
	cacheEvictions.Inc()
}

// Snapshot returns a point-in-time copy of all entries, most-recently-used
// first, for diagnostics and testing.
func (c *Cache) Snapshot() []domain.CacheEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.CacheEntry, 0, c.ll.Len())
	for el := c.ll.Front(); el != nil; el = el.Next() {
		ent := el.Value.(*cacheEntry)
		out = append(out, domain.CacheEntry{
			Key:        ent.key,
			Value:      ent.value,
			AccessedAt: time.Now(),
			Hits:       ent.hits,
		})
	}
	return out
}
