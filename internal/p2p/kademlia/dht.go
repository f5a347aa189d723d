package kademlia

import (
	"context"
	"sync"
	"time"

	"github.com/cis-project/cis-core/internal/domain"
)

// DHT ties a RoutingTable to a wire transport and a local key/value store,
// implementing the iterative lookups used for wide-area peer discovery and
// small-value storage (tunnel rendezvous records, not bulk memory data).
type DHT struct {
	self      domain.NodeContact
	table     *RoutingTable
	transport domain.DhtTransport

	mu    sync.RWMutex
	store map[ID][]byte

	refreshInterval time.Duration
}

// New wires a DHT for self, sending RPCs through transport.
func New(self domain.NodeContact, transport domain.DhtTransport) *DHT {
	return &DHT{
		self:            self,
		table:           NewRoutingTable(ID(self.ID)),
		transport:       transport,
		store:           make(map[ID][]byte),
		refreshInterval: 10 * time.Minute,
	}
}

// Table exposes the routing table for inspection/tests.
func (d *DHT) Table() *RoutingTable { return d.table }

// Bootstrap seeds the routing table from a set of known contacts and runs
// one FIND_NODE lookup for self to populate nearby buckets.
func (d *DHT) Bootstrap(ctx context.Context, seeds []domain.NodeContact) error {
	for _, s := range seeds {
		d.observe(s)
	}
	_, err := d.lookup(ctx, ID(d.self.ID))
	return err
}

// observe records a sighting of a contact, evicting the bucket's oldest
// entry only if it fails a liveness PING.
func (d *DHT) observe(c domain.NodeContact) {
	evictCandidate := d.table.Insert(c)
	if evictCandidate == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.transport.Ping(ctx, *evictCandidate); err != nil {
		d.table.Remove(evictCandidate.ID)
		d.table.Insert(c)
	}
	// else: oldest contact is still alive, new contact is dropped per the
	// standard Kademlia "prefer long-lived nodes" rule.
}

// lookup runs the standard iterative FIND_NODE procedure: query the alpha
// closest known contacts, merge their responses, repeat against the new
// closest set until a round makes no progress.
func (d *DHT) lookup(ctx context.Context, target ID) ([]domain.NodeContact, error) {
	queried := make(map[[20]byte]bool)
	closest := d.table.FindClosest(target, K)

	for {
		candidates := pickUnqueried(closest, queried, Alpha)
		if len(candidates) == 0 {
			break
		}

		type result struct {
			from  domain.NodeContact
			nodes []domain.NodeContact
		}
		results := make(chan result, len(candidates))
		for _, c := range candidates {
			queried[c.ID] = true
			go func(c domain.NodeContact) {
				nodes, err := d.transport.FindNode(ctx, c, target)
				if err != nil {
					results <- result{from: c}
					return
				}
				results <- result{from: c, nodes: nodes}
			}(c)
		}

		improved := false
		for range candidates {
			r := <-results
			if len(r.nodes) == 0 {
				continue
			}
			d.observe(r.from)
			for _, n := range r.nodes {
				if n.ID != d.self.ID {
					d.table.Insert(n)
				}
			}
			improved = true
		}

		newClosest := d.table.FindClosest(target, K)
		if !improved || sameSet(closest, newClosest) {
			closest = newClosest
			break
		}
		closest = newClosest

		if ctx.Err() != nil {
			return closest, ctx.Err()
		}
	}
	return closest, nil
}

// FindClosest runs a lookup and returns at most k contacts near target.
func (d *DHT) FindClosest(ctx context.Context, target ID, k int) ([]domain.NodeContact, error) {
	nodes, err := d.lookup(ctx, target)
	if err != nil {
		return nodes, err
	}
	if len(nodes) > k {
		nodes = nodes[:k]
	}
	return nodes, nil
}

// Store replicates a value to the k closest nodes to its key.
func (d *DHT) Store(ctx context.Context, key ID, value []byte) error {
	nodes, err := d.lookup(ctx, key)
	if err != nil && len(nodes) == 0 {
		return err
	}
	var lastErr error
	stored := 0
	for _, n := range nodes {
		if err := d.transport.Store(ctx, n, key, value); err != nil {
			lastErr = err
			continue
		}
		stored++
	}
	if stored == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

// FindValue checks the local store first, then queries the network and
// returns the first value any contacted node holds. A value found this way
// is not stored on the nodes that lacked it, nor in the local store.
func (d *DHT) FindValue(ctx context.Context, key ID) ([]byte, bool, error) {
	d.mu.RLock()
	if v, ok := d.store[key]; ok {
		d.mu.RUnlock()
		return v, true, nil
	}
	d.mu.RUnlock()

	closest := d.table.FindClosest(key, K)
	queried := make(map[[20]byte]bool)
	for len(closest) > 0 {
		candidates := pickUnqueried(closest, queried, Alpha)
		if len(candidates) == 0 {
			break
		}
		for _, c := range candidates {
			queried[c.ID] = true
			value, nodes, err := d.transport.FindValue(ctx, c, key)
			if err != nil {
				continue
			}
			if value != nil {
				return value, true, nil
			}
			for _, n := range nodes {
				if n.ID != d.self.ID {
					d.table.Insert(n)
				}
			}
		}
		next := d.table.FindClosest(key, K)
		if sameSet(closest, next) {
			break
		}
		closest = next
	}
	return nil, false, nil
}

// LocalGet/LocalPut/LocalFindNode back the server side of the
// transport: when a remote peer's RPC lands on this node, the caller wires
// it to these.
func (d *DHT) LocalPut(key ID, value []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.store[key] = value
}

func (d *DHT) LocalGet(key ID) ([]byte, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.store[key]
	return v, ok
}

func (d *DHT) LocalFindNode(target ID) []domain.NodeContact {
	return d.table.FindClosest(target, K)
}

// RefreshInterval reports the configured bucket-refresh period.
func (d *DHT) RefreshInterval() time.Duration { return d.refreshInterval }

// Refresh runs one lookup per currently non-empty bucket's representative
// target, keeping stale buckets warm. Callers drive this off a ticker at
// RefreshInterval.
func (d *DHT) Refresh(ctx context.Context) {
	for _, target := range d.table.RandomTargetsInNonEmptyBuckets() {
		if ctx.Err() != nil {
			return
		}
		_, _ = d.lookup(ctx, target)
	}
}

func pickUnqueried(contacts []domain.NodeContact, queried map[[20]byte]bool, n int) []domain.NodeContact {
	var out []domain.NodeContact
	for _, c := range contacts {
		if queried[c.ID] {
			continue
		}
		out = append(out, c)
		if len(out) == n {
			break
		}
	}
	return out
}

func sameSet(a, b []domain.NodeContact) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[[20]byte]bool, len(a))
	for _, c := range a {
		seen[c.ID] = true
	}
	for _, c := range b {
		if !seen[c.ID] {
			return false
		}
	}
	return true
}
