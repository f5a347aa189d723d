// Package domain — skill executor entities (C3).
package domain

import "time"

// SkillKind selects how a skill's manifest is dispatched to a runtime.
type SkillKind string

const (
	SkillNative SkillKind = "native"
	SkillWasm   SkillKind = "wasm"
	SkillRemote SkillKind = "remote"
	SkillDag    SkillKind = "dag"
)

// PermissionCategory names a class of capability a skill can request.
// Categories are the unit the implicit-allow set and rate limiters key on.
type PermissionCategory string

const (
	CategoryMemoryRead  PermissionCategory = "memory:read"
	CategoryMemoryWrite PermissionCategory = "memory:write"
	CategoryFileRead    PermissionCategory = "file:read"
	CategoryFileWrite   PermissionCategory = "file:write"
	CategoryNetworkHTTP PermissionCategory = "network:http"
	CategoryProcessExec PermissionCategory = "process:exec"
)

// ImplicitAllowCategories are granted to every skill without requiring an
// explicit grant decision: reading its own private memory and reading files
// under its own skill directory are treated as baseline, harmless
// capabilities rather than sandbox escapes.
var ImplicitAllowCategories = map[PermissionCategory]bool{
	CategoryMemoryRead: true,
	CategoryFileRead:   true,
}

// PatternKind selects how a PermissionScope's Pattern is matched against a
// resource string presented at check time.
type PatternKind string

const (
	PatternAll      PatternKind = "all"      // matches any resource
	PatternSpecific PatternKind = "specific" // exact string match
	PatternGlob     PatternKind = "glob"     // path.Match-style glob
	PatternRegex    PatternKind = "regex"    // regexp.MatchString
)

// PermissionConstraint composably narrows a granted scope. A zero value for
// any field means that constraint is not in effect.
type PermissionConstraint struct {
	// TimeWindowStart/End bound when the scope may be exercised at all.
	TimeWindowStart time.Time `json:"time_window_start,omitempty"`
	TimeWindowEnd   time.Time `json:"time_window_end,omitempty"`

	// RateLimitCount/Period cap calls within a fixed window: the
	// RateLimitCount+1'th call inside Period is denied.
	RateLimitCount  int           `json:"rate_limit_count,omitempty"`
	RateLimitPeriod time.Duration `json:"rate_limit_period,omitempty"`

	// MaxSizeBytes caps the size of a single transferred payload (a read,
	// write, or response body, depending on category).
	MaxSizeBytes int64 `json:"max_size_bytes,omitempty"`

	// PathRestriction further confines file/memory categories to a path
	// prefix, independent of Pattern (which matches the resource name).
	PathRestriction string `json:"path_restriction,omitempty"`
}

// PermissionScope is a single capability a skill manifest requests: a
// category of action, a pattern selecting which resources it applies to,
// and optional constraints narrowing it further (rate limits, size caps,
// time windows, path restrictions).
type PermissionScope struct {
	Category    PermissionCategory    `json:"category"`
	PatternKind PatternKind           `json:"pattern_kind"`
	Pattern     string                `json:"pattern"`
	Constraints *PermissionConstraint `json:"constraints,omitempty"`
}

// Decision is the outcome of a permission check.
type Decision string

const (
	DecisionAllow    Decision = "ALLOW"
	DecisionDeny     Decision = "DENY"
	DecisionPending  Decision = "PENDING"
	DecisionImplicit Decision = "IMPLICIT" // allowed without an explicit grant
)

// Skill is a registered, versioned unit of executable capability.
type Skill struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Kind         SkillKind         `json:"kind"`
	Entrypoint   string            `json:"entrypoint"`
	Permissions  []PermissionScope `json:"permissions"`
	Limits       ResourceLimits    `json:"limits"`
	Exports      []string          `json:"exports,omitempty"`
	Config       map[string]any    `json:"config,omitempty"`
	Dependencies []string          `json:"dependencies,omitempty"`
	RegisteredAt time.Time         `json:"registered_at"`
}

// ExecutionStatus tracks a single skill invocation.
type ExecutionStatus string

const (
	ExecQueued    ExecutionStatus = "QUEUED"
	ExecRunning   ExecutionStatus = "RUNNING"
	ExecSucceeded ExecutionStatus = "SUCCEEDED"
	ExecFailed    ExecutionStatus = "FAILED"
	ExecTimedOut  ExecutionStatus = "TIMED_OUT"
	ExecDenied    ExecutionStatus = "DENIED"
	ExecCancelled ExecutionStatus = "CANCELLED"
)

// IsTerminal reports whether an execution has reached a final state.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecSucceeded, ExecFailed, ExecTimedOut, ExecDenied, ExecCancelled:
		return true
	default:
		return false
	}
}

// ExecutionRecord is the audit trail of one skill invocation.
type ExecutionRecord struct {
	ID          string          `json:"id"`
	SkillID     string          `json:"skill_id"`
	Status      ExecutionStatus `json:"status"`
	Input       []byte          `json:"input,omitempty"`
	Output      []byte          `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	Usage       ResourceUsage   `json:"usage"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at,omitempty"`
}
