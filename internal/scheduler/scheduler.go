package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cis-project/cis-core/internal/domain"
)

// NodeDispatcher is the scheduler's only dependency on skill execution: it
// runs one TaskNode's skill and returns its output. internal/node wires a
// concrete adapter over internal/skill.Executor so that this package never
// imports internal/skill directly — internal/skill already depends on this
// package's DagDelegate interface for SkillDag dispatch, and a two-way
// import would cycle.
type NodeDispatcher interface {
	Dispatch(ctx context.Context, skillID string, input []byte) ([]byte, error)
}

// Arbiter decides whether a Confirmed or Arbitrated node may proceed. A nil
// Arbiter makes every such node wait forever, which is the safe default —
// deployments that want autonomy at those levels must supply one.
type Arbiter interface {
	Decide(ctx context.Context, dagID, runID, nodeID string) (bool, error)
}

// Scheduler owns every in-flight DagRun and runs one goroutine per run that
// advances ready nodes until the run reaches a terminal state. Per-node
// dispatch concurrency is capped by the sem channel as a back-pressure
// threshold.
type Scheduler struct {
	config Config

	mu   sync.Mutex
	dags map[string]domain.TaskDag
	runs map[string]*domain.DagRun

	sem        chan struct{}
	dispatcher NodeDispatcher
	arbiter    Arbiter
	persist    Persistence

	ready      *ReadyNotify
	completion *CompletionNotifier
	errs       *ErrorNotifier

	totalStarted   atomic.Int64
	totalSucceeded atomic.Int64
	totalFailed    atomic.Int64
	totalRejected  atomic.Int64
}

// New wires a Scheduler. persist may be nil, in which case runs are kept
// in memory only (used by tests).
func New(config Config, dispatcher NodeDispatcher, arbiter Arbiter, persist Persistence) *Scheduler {
	return &Scheduler{
		config:     config,
		dags:       make(map[string]domain.TaskDag),
		runs:       make(map[string]*domain.DagRun),
		sem:        make(chan struct{}, config.MaxConcurrentNodes),
		dispatcher: dispatcher,
		arbiter:    arbiter,
		persist:    persist,
		ready:      NewReadyNotify(),
		completion: NewCompletionNotifier(),
		errs:       NewErrorNotifier(),
	}
}

// RegisterDag validates and stores a TaskDag definition for later runs.
func (s *Scheduler) RegisterDag(dag domain.TaskDag) error {
	if err := ValidateDag(dag); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dags[dag.ID] = dag
	if s.persist != nil {
		if err := s.persist.SaveDag(dag); err != nil {
			return err
		}
	}
	return nil
}

// StartRun begins a new execution of a registered DAG and returns its run
// ID immediately; the run advances on a background goroutine. Callers
// await completion via Subscribe or by polling GetRun.
func (s *Scheduler) StartRun(ctx context.Context, dagID string) (string, error) {
	s.mu.Lock()
	dag, ok := s.dags[dagID]
	queuedRuns := 0
	for _, r := range s.runs {
		if r.Status == domain.RunPending || r.Status == domain.RunRunning {
			queuedRuns++
		}
	}
	s.mu.Unlock()
	if !ok {
		return "", domain.Wrap(domain.ErrScheduler, "scheduler.unknown_dag", domain.ErrDagRunNotFound)
	}
	if queuedRuns >= s.config.MaxQueuedRuns {
		s.totalRejected.Add(1)
		return "", domain.NewError(domain.ErrScheduler, "scheduler.backpressure", "too many runs in flight")
	}

	runID := uuid.NewString()
	run := NewRun(runID, dag)
	now := time.Now()
	run.CreatedAt = now
	run.UpdatedAt = now

	s.mu.Lock()
	s.runs[runID] = &run
	s.mu.Unlock()
	s.totalStarted.Add(1)
	runsActive.Inc()

	if s.persist != nil {
		_ = s.persist.SaveRun(run)
	}

	go s.advance(ctx, dagID, runID)
	return runID, nil
}

// RunDag implements skill.DagDelegate: it runs dagID to completion and
// returns the concatenated output of its terminal nodes, letting a
// SkillDag manifest be dispatched exactly like any other skill kind.
func (s *Scheduler) RunDag(ctx context.Context, dagID string, input []byte) ([]byte, error) {
	s.mu.Lock()
	dag, ok := s.dags[dagID]
	s.mu.Unlock()
	if !ok {
		return nil, domain.Wrap(domain.ErrScheduler, "scheduler.unknown_dag", domain.ErrDagRunNotFound)
	}
	for i := range dag.Nodes {
		if len(dag.Nodes[i].DependsOn) == 0 {
			dag.Nodes[i].Input = input
		}
	}
	s.mu.Lock()
	s.dags[dagID] = dag
	s.mu.Unlock()

	runID, err := s.StartRun(ctx, dagID)
	if err != nil {
		return nil, err
	}
	done := s.completion.Subscribe(runID)
	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	run := s.GetRun(runID)
	if run == nil {
		return nil, domain.ErrDagRunNotFound
	}
	if !run.Succeeded(dag.Policy) {
		return nil, domain.NewError(domain.ErrScheduler, "scheduler.dag_run_failed", "dag run did not satisfy its completion policy")
	}
	return collectTerminalOutput(dag, run), nil
}

func collectTerminalOutput(dag domain.TaskDag, run *domain.DagRun) []byte {
	dependedOn := make(map[string]bool, len(dag.Nodes))
	for _, n := range dag.Nodes {
		for _, dep := range n.DependsOn {
			dependedOn[dep] = true
		}
	}
	var out []byte
	for _, n := range dag.Nodes {
		if dependedOn[n.ID] {
			continue
		}
		if ex := run.Executions[n.ID]; ex != nil {
			out = append(out, ex.Output...)
		}
	}
	return out
}

// GetRun returns a deep copy of a run's current state (including its node
// executions), or nil if unknown. Copying the executions guards against
// data races between this read and setNodeStatus's locked writes to the
// live map that advance() otherwise holds no lock across.
func (s *Scheduler) GetRun(runID string) *domain.DagRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil
	}
	cp := *run
	cp.Executions = make(map[string]*domain.NodeExecution, len(run.Executions))
	for id, ex := range run.Executions {
		exCopy := *ex
		cp.Executions[id] = &exCopy
	}
	return &cp
}

// Subscribe returns a channel closed once when runID finishes.
func (s *Scheduler) Subscribe(runID string) <-chan struct{} {
	return s.completion.Subscribe(runID)
}

// advance is the per-run loop: it dispatches every currently-ready node,
// waits for at least one to finish, recomputes the ready set, and repeats
// until the run is Done(). It owns no lock across dispatch — only the
// scheduler's maps are mutex-protected: a narrow critical section around
// shared state with no lock held across blocking I/O.
func (s *Scheduler) advance(ctx context.Context, dagID, runID string) {
	s.mu.Lock()
	dag := s.dags[dagID]
	s.mu.Unlock()

	inFlight := make(map[string]bool)
	nodeDone := make(chan string, len(dag.Nodes))

	for {
		run := s.GetRun(runID)
		if run == nil || run.Done() {
			break
		}

		for _, nodeID := range ReadyNodes(dag, run) {
			if inFlight[nodeID] {
				continue
			}
			node := nodeForID(dag, nodeID)
			if !s.gateDecision(ctx, dagID, runID, node) {
				continue
			}
			inFlight[nodeID] = true
			s.setNodeStatus(runID, nodeID, domain.NodeRunning, 0, nil, "")
			go s.runNode(ctx, dag, runID, node, nodeDone)
		}

		if len(inFlight) == 0 {
			// Nothing ready and nothing in flight: either the run is
			// blocked on a Confirmed/Arbitrated gate or it's stuck
			// permanently on an unsatisfiable dependency. Wait for an
			// external signal (approval) rather than busy-poll.
			select {
			case <-s.ready.Wait():
				continue
			case <-ctx.Done():
				s.finishRun(runID, domain.RunCancelled)
				return
			case <-time.After(s.config.StarvationInterval):
				continue
			}
		}

		select {
		case finished := <-nodeDone:
			delete(inFlight, finished)
		case <-ctx.Done():
			s.finishRun(runID, domain.RunCancelled)
			return
		}
	}

	run := s.GetRun(runID)
	if run == nil {
		return
	}
	status := domain.RunSucceeded
	if !run.Succeeded(dag.Policy) {
		status = domain.RunFailed
		s.rollback(ctx, dag, runID)
	}
	s.finishRun(runID, status)
}

// gateDecision applies a node's DecisionLevel: Mechanical and Recommended
// nodes start immediately and are handled identically (a Recommended node
// gets no prompt, no timeout and no default action, and nothing marks it
// for later review); Confirmed and Arbitrated nodes block on the
// configured Arbiter.
func (s *Scheduler) gateDecision(ctx context.Context, dagID, runID string, node domain.TaskNode) bool {
	switch node.Level {
	case domain.LevelConfirmed, domain.LevelArbitrated:
		if s.arbiter == nil {
			return false
		}
		ok, err := s.arbiter.Decide(ctx, dagID, runID, node.ID)
		return err == nil && ok
	default:
		return true
	}
}

func (s *Scheduler) runNode(ctx context.Context, dag domain.TaskDag, runID string, node domain.TaskNode, done chan<- string) {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	attempt := 0
	delay := s.config.RetryBaseDelay
	var lastErr error
	var output []byte

	for attempt <= node.MaxRetries {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				lastErr = ctx.Err()
				break
			}
			if ctx.Err() != nil {
				break
			}
			delay *= 2
			if delay > s.config.RetryMaxDelay {
				delay = s.config.RetryMaxDelay
			}
		}
		output, lastErr = s.dispatcher.Dispatch(ctx, node.SkillID, node.Input)
		if lastErr == nil {
			break
		}
		attempt++
	}

	dispatches := attempt
	if lastErr == nil {
		dispatches++
	}
	nodeAttempts.Observe(float64(dispatches))
	if lastErr != nil {
		s.totalFailed.Add(1)
		nodesFailed.Inc()
		s.setNodeStatus(runID, node.ID, domain.NodeFailed, attempt, nil, lastErr.Error())
	} else {
		s.totalSucceeded.Add(1)
		nodesSucceeded.Inc()
		s.setNodeStatus(runID, node.ID, domain.NodeSucceeded, attempt, output, "")
	}

	s.ready.Signal()
	select {
	case done <- node.ID:
	default:
		go func() { done <- node.ID }()
	}
}

// rollback runs each succeeded node's RollbackSkillID (if any) in reverse
// topological order, so a node is only unwound after everything depending
// on it has already been unwound.
func (s *Scheduler) rollback(ctx context.Context, dag domain.TaskDag, runID string) {
	for _, nodeID := range ReverseTopoOrder(dag) {
		node := nodeForID(dag, nodeID)
		if node.RollbackSkillID == "" {
			continue
		}
		run := s.GetRun(runID)
		if run == nil {
			return
		}
		ex := run.Executions[nodeID]
		if ex == nil || ex.Status != domain.NodeSucceeded {
			continue
		}
		_, err := s.dispatcher.Dispatch(ctx, node.RollbackSkillID, ex.Output)
		status := domain.NodeRolledBack
		errMsg := ""
		if err != nil {
			errMsg = err.Error()
		}
		s.setNodeStatus(runID, nodeID, status, ex.Attempt, nil, errMsg)
	}
}

func (s *Scheduler) setNodeStatus(runID, nodeID string, status domain.NodeStatus, attempt int, output []byte, errMsg string) {
	s.mu.Lock()
	run, ok := s.runs[runID]
	if !ok {
		s.mu.Unlock()
		return
	}
	ex := run.Executions[nodeID]
	ex.Status = status
	ex.Attempt = attempt
	ex.Error = errMsg
	if output != nil {
		ex.Output = output
	}
	now := time.Now()
	if status == domain.NodeRunning {
		ex.StartedAt = now
	} else {
		ex.CompletedAt = now
	}
	run.UpdatedAt = now
	s.mu.Unlock()

	if s.persist != nil {
		_ = s.persist.SaveExecution(runID, *ex)
	}
}

func (s *Scheduler) finishRun(runID string, status domain.RunStatus) {
	s.mu.Lock()
	run, ok := s.runs[runID]
	if ok {
		run.Status = status
		run.UpdatedAt = time.Now()
	}
	s.mu.Unlock()
	if ok {
		runsActive.Dec()
	}
	if s.persist != nil && ok {
		_ = s.persist.SaveRun(*run)
	}
	s.completion.Broadcast(runID)
}

func nodeForID(dag domain.TaskDag, id string) domain.TaskNode {
	for _, n := range dag.Nodes {
		if n.ID == id {
			return n
		}
	}
	return domain.TaskNode{}
}

// Stats is a point-in-time snapshot of scheduler-wide counters.
type Stats struct {
	Started   int64
	Succeeded int64
	Failed    int64
	Rejected  int64
}

// Stats returns the current counter snapshot.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Started:   s.totalStarted.Load(),
		Succeeded: s.totalSucceeded.Load(),
		Failed:    s.totalFailed.Load(),
		Rejected:  s.totalRejected.Load(),
	}
}
