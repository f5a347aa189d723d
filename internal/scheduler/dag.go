// Package scheduler implements the DAG scheduler (C4): validating task
// DAGs, tracking per-run node state, and deciding which ready nodes may
// start under one of four decision levels.
package scheduler

import (
	"github.com/cis-project/cis-core/internal/domain"
)

// ValidateDag checks a TaskDag for structural invariants: every DependsOn
// reference resolves to a node in the same DAG, and the dependency graph
// contains no cycle.
func ValidateDag(dag domain.TaskDag) error {
	byID := make(map[string]domain.TaskNode, len(dag.Nodes))
	for _, n := range dag.Nodes {
		byID[n.ID] = n
	}
	for _, n := range dag.Nodes {
		for _, dep := range n.DependsOn {
			if _, ok := byID[dep]; !ok {
				return domain.Wrap(domain.ErrScheduler, "scheduler.unknown_dependency", domain.ErrDagUnknownDep)
			}
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(dag.Nodes))
	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case gray:
			return domain.Wrap(domain.ErrScheduler, "scheduler.dag_cycle", domain.ErrDagCycle)
		case black:
			return nil
		}
		color[id] = gray
		for _, dep := range byID[id].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}
	for _, n := range dag.Nodes {
		if err := visit(n.ID); err != nil {
			return err
		}
	}
	return nil
}

// NewRun materializes a fresh DagRun from a validated TaskDag: every node
// starts NodePending except roots (no dependencies), which start NodeReady.
// Callers stamp CreatedAt/UpdatedAt themselves since domain types carry no
// clock of their own.
func NewRun(id string, dag domain.TaskDag) domain.DagRun {
	executions := make(map[string]*domain.NodeExecution, len(dag.Nodes))
	for _, n := range dag.Nodes {
		status := domain.NodePending
		if len(n.DependsOn) == 0 {
			status = domain.NodeReady
		}
		executions[n.ID] = &domain.NodeExecution{NodeID: n.ID, Status: status}
	}
	return domain.DagRun{
		ID:         id,
		DagID:      dag.ID,
		Status:     domain.RunRunning,
		Executions: executions,
	}
}

// ReadyNodes returns the IDs of every node whose dependencies have all
// succeeded (or are covered by the run's debt list) and that is not
// already running or terminal.
func ReadyNodes(dag domain.TaskDag, run *domain.DagRun) []string {
	debt := make(map[string]bool, len(run.Debt))
	for _, id := range run.Debt {
		debt[id] = true
	}

	var ready []string
	for _, n := range dag.Nodes {
		ex := run.Executions[n.ID]
		if ex.Status != domain.NodePending && ex.Status != domain.NodeReady {
			continue
		}
		allDepsOK := true
		for _, dep := range n.DependsOn {
			depEx := run.Executions[dep]
			if depEx.Status == domain.NodeSucceeded {
				continue
			}
			if depEx.Status.IsTerminal() && debt[dep] {
				continue // dependency allowed to fail under PolicyAllowDebt
			}
			allDepsOK = false
			break
		}
		if allDepsOK {
			ready = append(ready, n.ID)
		}
	}
	return ready
}

// ReverseTopoOrder returns node IDs in an order safe for rollback: a node
// is listed only after everything that depends on it.
func ReverseTopoOrder(dag domain.TaskDag) []string {
	byID := make(map[string]domain.TaskNode, len(dag.Nodes))
	dependents := make(map[string][]string)
	for _, n := range dag.Nodes {
		byID[n.ID] = n
		for _, dep := range n.DependsOn {
			dependents[dep] = append(dependents[dep], n.ID)
		}
	}

	visited := make(map[string]bool, len(dag.Nodes))
	var order []string
	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, dependent := range dependents[id] {
			visit(dependent)
		}
		order = append(order, id)
	}
	for _, n := range dag.Nodes {
		visit(n.ID)
	}
	return order
}
