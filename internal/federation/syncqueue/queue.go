// Package syncqueue implements the federation outbound work queue: four
// priority FIFOs (Critical > High > Normal > Low), drained in priority
// order by a small worker pool, with exponential-backoff retry and a
// capped dead-letter ring buffer for tasks that exhaust their retry
// budget.
package syncqueue

import (
	"container/ring"
	"context"
	"sync"
	"time"

	"github.com/cis-project/cis-core/internal/domain"
)

// Config tunes queue capacity, drain rate, worker count, and retry policy.
type Config struct {
	Capacity      int           // per-priority bounded channel capacity
	Workers       int           // concurrent delivery workers
	DrainPerTick  int           // max tasks drained per priority per tick
	TickInterval  time.Duration
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	MaxRetries     int
	DeadLetterCap  int
	BatchSize      int
	BatchTimeout   time.Duration
}

// DefaultConfig returns sensible production defaults for the sync queue.
func DefaultConfig() Config {
	return Config{
		Capacity:       10_000,
		Workers:        4,
		DrainPerTick:   10,
		TickInterval:   50 * time.Millisecond,
		RetryBaseDelay: 500 * time.Millisecond,
		RetryMaxDelay:  60 * time.Second,
		MaxRetries:     5,
		DeadLetterCap:  1000,
		BatchSize:      20,
		BatchTimeout:   2 * time.Second,
	}
}

// Deliver ships a single task to its target peer; returning an error
// triggers the retry/backoff/dead-letter path.
type Deliver func(ctx context.Context, task domain.SyncTask) error

var priorities = [4]domain.SyncPriority{domain.SyncCritical, domain.SyncHigh, domain.SyncNormal, domain.SyncLow}

// Queue is the four-FIFO priority sync queue.
type Queue struct {
	cfg     Config
	deliver Deliver

	lanes [4]chan domain.SyncTask

	mu         sync.Mutex
	deadLetter *ring.Ring
	deadCount  int

	avgMu  sync.Mutex
	avgSec float64

	wg sync.WaitGroup
}

// New constructs a Queue. Call Run to start draining.
func New(cfg Config, deliver Deliver) *Queue {
	q := &Queue{cfg: cfg, deliver: deliver}
	for i := range q.lanes {
		q.lanes[i] = make(chan domain.SyncTask, cfg.Capacity)
	}
	if cfg.DeadLetterCap > 0 {
		q.deadLetter = ring.New(cfg.DeadLetterCap)
	}
	return q
}

func laneIndex(p domain.SyncPriority) int {
	switch p {
	case domain.SyncCritical:
		return 0
	case domain.SyncHigh:
		return 1
	case domain.SyncNormal:
		return 2
	default:
		return 3
	}
}

// Enqueue adds task to its priority lane, failing with ErrSyncQueueFull if
// that lane is at capacity.
func (q *Queue) Enqueue(task domain.SyncTask) error {
	lane := q.lanes[laneIndex(task.Priority)]
	select {
	case lane <- task:
		enqueuedTotal.WithLabelValues(task.Priority.String()).Inc()
		return nil
	default:
		return domain.Wrap(domain.ErrFederation, "syncqueue.full", domain.ErrSyncQueueFull)
	}
}

// Run starts the dispatcher and worker pool; it blocks until ctx is
// cancelled, then drains in-flight workers before returning.
func (q *Queue) Run(ctx context.Context) {
	work := make(chan domain.SyncTask, q.cfg.Workers*2)

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, work)
	}

	ticker := time.NewTicker(q.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(work)
			q.wg.Wait()
			return
		case <-ticker.C:
			q.drainTick(ctx, work)
		}
	}
}

// drainTick pulls up to DrainPerTick tasks from each lane, highest
// priority first, and hands them to the worker pool.
func (q *Queue) drainTick(ctx context.Context, work chan<- domain.SyncTask) {
	for _, p := range priorities {
		lane := q.lanes[laneIndex(p)]
		for i := 0; i < q.cfg.DrainPerTick; i++ {
			select {
			case task := <-lane:
				select {
				case work <- task:
				case <-ctx.Done():
					return
				}
			default:
				break // lane is empty, move to the next priority
			}
		}
	}
}

func (q *Queue) worker(ctx context.Context, work <-chan domain.SyncTask) {
	defer q.wg.Done()
	for task := range work {
		q.attempt(ctx, task)
	}
}

func (q *Queue) attempt(ctx context.Context, task domain.SyncTask) {
	start := time.Now()
	err := q.deliver(ctx, task)
	q.recordDuration(time.Since(start))

	if err == nil {
		task.Status = domain.SyncDelivered
		completedTotal.WithLabelValues(task.Priority.String()).Inc()
		return
	}

	failedTotal.WithLabelValues(task.Priority.String()).Inc()
	task.Attempts++
	task.LastError = err.Error()

	if task.Attempts > q.cfg.MaxRetries {
		q.deadLetterPush(task)
		return
	}

	delay := backoffDelay(q.cfg.RetryBaseDelay, q.cfg.RetryMaxDelay, task.Attempts)
	task.NextAttempt = time.Now().Add(delay)
	task.Status = domain.SyncPending

	time.AfterFunc(delay, func() {
		if reErr := q.Enqueue(task); reErr != nil {
			// Lane is saturated even after backoff: this retry is lost to
			// the dead letter queue rather than silently dropped.
			q.deadLetterPush(task)
		}
	})
}

func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

func (q *Queue) deadLetterPush(task domain.SyncTask) {
	task.Status = domain.SyncDead
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deadLetter == nil {
		return
	}
	q.deadLetter.Value = task
	q.deadLetter = q.deadLetter.Next()
	if q.deadCount < q.cfg.DeadLetterCap {
		q.deadCount++
	}
	deadLetterCount.Set(float64(q.deadCount))
}

// DeadLetters returns a snapshot of every task currently held in the
// dead-letter ring, oldest first.
func (q *Queue) DeadLetters() []domain.SyncTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deadLetter == nil || q.deadCount == 0 {
		return nil
	}
	out := make([]domain.SyncTask, 0, q.deadCount)
	q.deadLetter.Do(func(v any) {
		if v == nil {
			return
		}
		out = append(out, v.(domain.SyncTask))
	})
	return out
}

func (q *Queue) recordDuration(d time.Duration) {
	const alpha = 0.2
	q.avgMu.Lock()
	defer q.avgMu.Unlock()
	sec := d.Seconds()
	if q.avgSec == 0 {
		q.avgSec = sec
	} else {
		q.avgSec = alpha*sec + (1-alpha)*q.avgSec
	}
	avgProcessingSeconds.Set(q.avgSec)
}

// AvgProcessingSeconds returns the current exponentially-smoothed average
// task processing time.
func (q *Queue) AvgProcessingSeconds() float64 {
	q.avgMu.Lock()
	defer q.avgMu.Unlock()
	return q.avgSec
}
