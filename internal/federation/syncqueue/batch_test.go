package syncqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cis-project/cis-core/internal/domain"
)

func TestBatcherShipsOnBatchSize(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 2
	cfg.BatchTimeout = time.Hour

	var mu sync.Mutex
	var shipped [][]domain.SyncTask
	b := NewBatcher(cfg, func(ctx context.Context, peerID string, tasks []domain.SyncTask) error {
		mu.Lock()
		shipped = append(shipped, tasks)
		mu.Unlock()
		return nil
	})

	ctx := context.Background()
	if err := b.Deliver(ctx, domain.SyncTask{ID: "a", PeerID: "peer-a"}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if err := b.Deliver(ctx, domain.SyncTask{ID: "b", PeerID: "peer-a"}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(shipped) != 1 || len(shipped[0]) != 2 {
		t.Fatalf("shipped = %v, want one batch of 2", shipped)
	}
}

func TestBatcherShipsOnTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 100
	cfg.BatchTimeout = 10 * time.Millisecond

	shipped := make(chan []domain.SyncTask, 1)
	b := NewBatcher(cfg, func(ctx context.Context, peerID string, tasks []domain.SyncTask) error {
		shipped <- tasks
		return nil
	})

	if err := b.Deliver(context.Background(), domain.SyncTask{ID: "a", PeerID: "peer-a"}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	select {
	case batch := <-shipped:
		if len(batch) != 1 || batch[0].ID != "a" {
			t.Fatalf("batch = %v, want [a]", batch)
		}
	case <-time.After(time.Second):
		t.Fatal("batch was never flushed by timeout")
	}
}

func TestBatcherGroupsByPeer(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 1
	cfg.BatchTimeout = time.Hour

	var mu sync.Mutex
	peers := map[string]int{}
	b := NewBatcher(cfg, func(ctx context.Context, peerID string, tasks []domain.SyncTask) error {
		mu.Lock()
		peers[peerID] += len(tasks)
		mu.Unlock()
		return nil
	})

	ctx := context.Background()
	_ = b.Deliver(ctx, domain.SyncTask{ID: "a", PeerID: "peer-a"})
	_ = b.Deliver(ctx, domain.SyncTask{ID: "b", PeerID: "peer-b"})

	mu.Lock()
	defer mu.Unlock()
	if peers["peer-a"] != 1 || peers["peer-b"] != 1 {
		t.Fatalf("peers = %v, want one task shipped per peer", peers)
	}
}
