package syncqueue

import (
	"context"
	"sync"
	"time"

	"github.com/cis-project/cis-core/internal/domain"
)

// BatchDeliver ships a batch of tasks destined for the same peer in one
// round trip.
type BatchDeliver func(ctx context.Context, peerID string, tasks []domain.SyncTask) error

// Batcher groups individual Deliver calls by target peer, shipping a
// batch once it reaches BatchSize or BatchTimeout elapses since the
// batch's oldest member.
type Batcher struct {
	cfg    Config
	ship   BatchDeliver

	mu      sync.Mutex
	pending map[string][]domain.SyncTask
	timers  map[string]*time.Timer
}

// NewBatcher returns a Batcher that ships grouped tasks via ship.
func NewBatcher(cfg Config, ship BatchDeliver) *Batcher {
	return &Batcher{
		cfg:     cfg,
		ship:    ship,
		pending: make(map[string][]domain.SyncTask),
		timers:  make(map[string]*time.Timer),
	}
}

// Deliver satisfies the Deliver contract, buffering task instead of
// shipping it immediately.
func (b *Batcher) Deliver(ctx context.Context, task domain.SyncTask) error {
	b.mu.Lock()
	b.pending[task.PeerID] = append(b.pending[task.PeerID], task)
	full := len(b.pending[task.PeerID]) >= b.cfg.BatchSize

	if !full {
		if _, scheduled := b.timers[task.PeerID]; !scheduled {
			peerID := task.PeerID
			b.timers[task.PeerID] = time.AfterFunc(b.cfg.BatchTimeout, func() {
				b.flush(ctx, peerID)
			})
		}
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	b.flush(ctx, task.PeerID)
	return nil
}

func (b *Batcher) flush(ctx context.Context, peerID string) {
	b.mu.Lock()
	batch := b.pending[peerID]
	delete(b.pending, peerID)
	if t, ok := b.timers[peerID]; ok {
		t.Stop()
		delete(b.timers, peerID)
	}
	b.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	if err := b.ship(ctx, peerID, batch); err == nil {
		batchesSent.Inc()
	}
}
