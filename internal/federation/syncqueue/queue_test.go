package syncqueue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cis-project/cis-core/internal/domain"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Capacity = 16
	cfg.Workers = 2
	cfg.DrainPerTick = 4
	cfg.TickInterval = 2 * time.Millisecond
	cfg.RetryBaseDelay = 2 * time.Millisecond
	cfg.RetryMaxDelay = 10 * time.Millisecond
	cfg.MaxRetries = 2
	cfg.DeadLetterCap = 4
	return cfg
}

func TestQueueDeliversEnqueuedTask(t *testing.T) {
	var delivered atomic.Int32
	q := New(testConfig(), func(ctx context.Context, task domain.SyncTask) error {
		delivered.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	if err := q.Enqueue(domain.SyncTask{ID: "t1", PeerID: "peer-a", Priority: domain.SyncCritical}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deadline := time.After(time.Second)
	for delivered.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("task was never delivered")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestQueueDrainsHighestPriorityFirst(t *testing.T) {
	var mu sync.Mutex
	var order []string

	q2 := New(testConfig(), func(ctx context.Context, task domain.SyncTask) error {
		mu.Lock()
		order = append(order, task.ID)
		mu.Unlock()
		return nil
	})
	if err := q2.Enqueue(domain.SyncTask{ID: "low2", PeerID: "p", Priority: domain.SyncLow}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q2.Enqueue(domain.SyncTask{ID: "critical2", PeerID: "p", Priority: domain.SyncCritical}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	go q2.Run(ctx2)

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(order)
		mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("tasks were never all delivered")
		case <-time.After(time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	foundCritical2 := -1
	foundLow2 := -1
	for i, id := range order {
		if id == "critical2" {
			foundCritical2 = i
		}
		if id == "low2" {
			foundLow2 = i
		}
	}
	if foundCritical2 == -1 || foundLow2 == -1 {
		t.Fatalf("missing deliveries in order %v", order)
	}
	if foundCritical2 > foundLow2 {
		t.Fatalf("critical task delivered after low task: order = %v", order)
	}
}

func TestQueueEnqueueFailsWhenLaneFull(t *testing.T) {
	cfg := testConfig()
	cfg.Capacity = 1
	q := New(cfg, func(ctx context.Context, task domain.SyncTask) error { return nil })

	if err := q.Enqueue(domain.SyncTask{ID: "a", PeerID: "p", Priority: domain.SyncLow}); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	if err := q.Enqueue(domain.SyncTask{ID: "b", PeerID: "p", Priority: domain.SyncLow}); err == nil {
		t.Fatal("expected ErrSyncQueueFull on a saturated lane")
	}
}

func TestQueueRetriesThenDeadLettersAfterBudgetExhausted(t *testing.T) {
	var attempts atomic.Int32
	q := New(testConfig(), func(ctx context.Context, task domain.SyncTask) error {
		attempts.Add(1)
		return errAlwaysFails
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	if err := q.Enqueue(domain.SyncTask{ID: "t1", PeerID: "p", Priority: domain.SyncNormal}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for len(q.DeadLetters()) == 0 {
		select {
		case <-deadline:
			t.Fatalf("task never reached dead letter, attempts=%d", attempts.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	dead := q.DeadLetters()
	if dead[0].ID != "t1" {
		t.Fatalf("dead letter task = %v, want t1", dead[0])
	}
	if dead[0].Status != domain.SyncDead {
		t.Fatalf("dead letter status = %v, want SyncDead", dead[0].Status)
	}
}

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }

const errAlwaysFails = sentinelErr("delivery always fails in this test")
