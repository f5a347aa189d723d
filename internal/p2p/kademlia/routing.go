package kademlia

import (
	"sort"
	"sync"
	"time"

	"github.com/cis-project/cis-core/internal/domain"
)

// K is the bucket size (Kademlia's "k"): each bucket holds at most this
// many contacts, sorted oldest-seen-first.
const K = 20

// Alpha is the lookup concurrency factor: an iterative lookup round sends
// FIND_NODE to this many of the closest not-yet-queried contacts at once.
const Alpha = 3

type bucketEntry struct {
	contact domain.NodeContact
	lastSeen time.Time
}

// RoutingTable is a 160-bucket array (one per common-prefix length) guarded
// by a single reader/writer lock, per-bucket locking being a permitted but
// unneeded optimization at this scale.
type RoutingTable struct {
	mu      sync.RWMutex
	self    ID
	buckets [IDLength * 8]([]bucketEntry)
}

// NewRoutingTable creates an empty table centered on self.
func NewRoutingTable(self ID) *RoutingTable {
	return &RoutingTable{self: self}
}

func (t *RoutingTable) bucketIndex(id ID) int {
	if id == t.self {
		return 0
	}
	idx := CommonPrefixLen(t.self, id)
	if idx >= len(t.buckets) {
		idx = len(t.buckets) - 1
	}
	return idx
}

// Insert adds or refreshes a contact. A full bucket evicts its
// least-recently-seen entry only if that entry fails a liveness check the
// caller performs before retrying Insert — this method alone never evicts
// a live contact, matching the reference Kademlia eviction rule.
func (t *RoutingTable) Insert(c domain.NodeContact) (evictCandidate *domain.NodeContact) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.bucketIndex(ID(c.ID))
	bucket := t.buckets[idx]

	for i, e := range bucket {
		if e.contact.ID == c.ID {
			bucket = append(bucket[:i], bucket[i+1:]...)
			bucket = append(bucket, bucketEntry{contact: c, lastSeen: time.Now()})
			t.buckets[idx] = bucket
			return nil
		}
	}

	if len(bucket) < K {
		t.buckets[idx] = append(bucket, bucketEntry{contact: c, lastSeen: time.Now()})
		return nil
	}

	oldest := bucket[0].contact
	return &oldest
}

// Remove drops a contact from its bucket (called after its eviction
// candidate fails a liveness PING).
func (t *RoutingTable) Remove(id [20]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.bucketIndex(ID(id))
	bucket := t.buckets[idx]
	for i, e := range bucket {
		if e.contact.ID == id {
			t.buckets[idx] = append(bucket[:i], bucket[i+1:]...)
			return
		}
	}
}

// FindClosest returns at most k contacts sorted by XOR distance to target.
func (t *RoutingTable) FindClosest(target ID, k int) []domain.NodeContact {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var all []domain.NodeContact
	for _, bucket := range t.buckets {
		for _, e := range bucket {
			all = append(all, e.contact)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return Less(Xor(ID(all[i].ID), target), Xor(ID(all[j].ID), target))
	})
	if len(all) > k {
		all = all[:k]
	}
	return all
}

// RandomTargetsInNonEmptyBuckets returns one target ID per non-empty
// bucket, for the periodic refresh sweep (FIND_NODE against each
// to keep that bucket's entries warm).
func (t *RoutingTable) RandomTargetsInNonEmptyBuckets() []ID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var targets []ID
	for _, bucket := range t.buckets {
		if len(bucket) == 0 {
			continue
		}
		// The bucket's oldest contact's own ID lies inside that bucket's
		// prefix range, so it serves as the target.
		targets = append(targets, bucket[0].contact.ID)
	}
	return targets
}

// Size returns the total number of contacts across all buckets.
func (t *RoutingTable) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, bucket := range t.buckets {
		n += len(bucket)
	}
	return n
}
