// Package domain — DAG scheduler entities (C4): a TaskDag is a static
// definition, a DagRun is one execution of that definition against concrete
// TaskNode states.
package domain

import "time"

// DecisionLevel controls how much autonomy the scheduler has when deciding
// whether a ready node may start.
type DecisionLevel int

const (
	// LevelMechanical starts ready nodes the instant their dependencies
	// complete — no human or policy gate.
	LevelMechanical DecisionLevel = iota
	// LevelRecommended starts ready nodes immediately, exactly like
	// LevelMechanical; the scheduler keeps no separate record of the
	// decision for later review.
	LevelRecommended
	// LevelConfirmed blocks until an external confirmation event arrives.
	LevelConfirmed
	// LevelArbitrated routes the decision through a pluggable arbiter
	// (e.g. a policy or quorum vote) before the node may start.
	LevelArbitrated
)

func (l DecisionLevel) String() string {
	switch l {
	case LevelMechanical:
		return "mechanical"
	case LevelRecommended:
		return "recommended"
	case LevelConfirmed:
		return "confirmed"
	case LevelArbitrated:
		return "arbitrated"
	default:
		return "unknown"
	}
}

// CompletionPolicy decides when a DagRun as a whole is considered done.
type CompletionPolicy string

const (
	PolicyAllSuccess  CompletionPolicy = "ALL_SUCCESS"
	PolicyFirstSuccess CompletionPolicy = "FIRST_SUCCESS"
	PolicyAllowDebt   CompletionPolicy = "ALLOW_DEBT"
)

// NodeStatus tracks a single TaskNode's lifecycle within a run.
type NodeStatus string

const (
	NodePending   NodeStatus = "PENDING"
	NodeReady     NodeStatus = "READY"
	NodeRunning   NodeStatus = "RUNNING"
	NodeSucceeded NodeStatus = "SUCCEEDED"
	NodeFailed    NodeStatus = "FAILED"
	NodeSkipped   NodeStatus = "SKIPPED"
	NodeRolledBack NodeStatus = "ROLLED_BACK"
)

// IsTerminal reports whether a node has reached a final state.
func (s NodeStatus) IsTerminal() bool {
	switch s {
	case NodeSucceeded, NodeFailed, NodeSkipped, NodeRolledBack:
		return true
	default:
		return false
	}
}

// RunStatus tracks a DagRun's overall lifecycle.
type RunStatus string

const (
	RunPending    RunStatus = "PENDING"
	RunRunning    RunStatus = "RUNNING"
	RunSucceeded  RunStatus = "SUCCEEDED"
	RunFailed     RunStatus = "FAILED"
	RunRolledBack RunStatus = "ROLLED_BACK"
	RunCancelled  RunStatus = "CANCELLED"
)

func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunSucceeded, RunFailed, RunRolledBack, RunCancelled:
		return true
	default:
		return false
	}
}

// TaskNode is one vertex of a TaskDag: a skill invocation plus the node IDs
// it depends on.
type TaskNode struct {
	ID           string        `json:"id"`
	SkillID      string        `json:"skill_id"`
	Input        []byte        `json:"input,omitempty"`
	DependsOn    []string      `json:"depends_on,omitempty"`
	Level        DecisionLevel `json:"level"`
	MaxRetries   int           `json:"max_retries"`
	RollbackSkillID string     `json:"rollback_skill_id,omitempty"`
}

// TaskDag is the static, content-addressed definition of a workflow.
type TaskDag struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Nodes     []TaskNode         `json:"nodes"`
	Policy    CompletionPolicy   `json:"policy"`
	CreatedAt time.Time          `json:"created_at"`
}

// NodeExecution is the mutable, per-run state of one TaskNode.
type NodeExecution struct {
	NodeID      string     `json:"node_id"`
	Status      NodeStatus `json:"status"`
	Attempt     int        `json:"attempt"`
	StartedAt   time.Time  `json:"started_at,omitempty"`
	CompletedAt time.Time  `json:"completed_at,omitempty"`
	Output      []byte     `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// DagRun is one execution of a TaskDag.
type DagRun struct {
	ID         string                   `json:"id"`
	DagID      string                   `json:"dag_id"`
	Status     RunStatus                `json:"status"`
	Executions map[string]*NodeExecution `json:"executions"`
	CreatedAt  time.Time                `json:"created_at"`
	UpdatedAt  time.Time                `json:"updated_at"`
	Debt       []string                 `json:"debt,omitempty"` // node IDs allowed to fail under PolicyAllowDebt
}

// Done reports whether every node execution has reached a terminal status.
func (r *DagRun) Done() bool {
	for _, ex := range r.Executions {
		if !ex.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// Succeeded evaluates the run's completion policy against its executions.
func (r *DagRun) Succeeded(policy CompletionPolicy) bool {
	switch policy {
	case PolicyFirstSuccess:
		for _, ex := range r.Executions {
			if ex.Status == NodeSucceeded {
				return true
			}
		}
		return false
	case PolicyAllowDebt:
		debt := make(map[string]bool, len(r.Debt))
		for _, id := range r.Debt {
			debt[id] = true
		}
		for id, ex := range r.Executions {
			if ex.Status != NodeSucceeded && !debt[id] {
				return false
			}
		}
		return true
	default: // PolicyAllSuccess
		for _, ex := range r.Executions {
			if ex.Status != NodeSucceeded {
				return false
			}
		}
		return true
	}
}
