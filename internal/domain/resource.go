// Package domain — idle/resource types shared by the skill resource monitor
// and the scheduler's back-pressure logic.
package domain

// IdleLevel classifies the host's current activity state, as sampled by the
// OS-specific resource sensors.
type IdleLevel int

const (
	IdleActive IdleLevel = iota // user actively using the machine
	IdleLight                   // stepped away briefly (<3 min)
	IdleDeep                    // away an extended period (>15 min, low CPU)
	IdleLocked                  // screen locked
	IdleServer                  // headless mode (no display attached)
)

// String returns a human-readable idle level.
func (l IdleLevel) String() string {
	switch l {
	case IdleActive:
		return "active"
	case IdleLight:
		return "light"
	case IdleDeep:
		return "deep"
	case IdleLocked:
		return "locked"
	case IdleServer:
		return "server"
	default:
		return "unknown"
	}
}

// ResourceLimits is the sandbox ceiling declared in a skill manifest's
// [permissions] section and enforced by the resource monitor while a skill
// executes.
type ResourceLimits struct {
	MaxMemoryMB    int64 `json:"max_memory_mb"`
	MaxCPUPercent  int   `json:"max_cpu_percent"`
	MaxWallSeconds int64 `json:"max_wall_seconds"`
	MaxDiskMB      int64 `json:"max_disk_mb,omitempty"`
}

// ResourceUsage is a single sample taken while a skill execution is running.
type ResourceUsage struct {
	MemoryMB    int64   `json:"memory_mb"`
	CPUPercent  float64 `json:"cpu_percent"`
	WallSeconds int64   `json:"wall_seconds"`
}

// Exceeds reports whether a usage sample violates the declared limits.
func (u ResourceUsage) Exceeds(limits ResourceLimits) bool {
	if limits.MaxMemoryMB > 0 && u.MemoryMB > limits.MaxMemoryMB {
		return true
	}
	if limits.MaxCPUPercent > 0 && u.CPUPercent > float64(limits.MaxCPUPercent) {
		return true
	}
	if limits.MaxWallSeconds > 0 && u.WallSeconds > limits.MaxWallSeconds {
		return true
	}
	return false
}

// ComputeBudget is what the node-level resource governor currently allows —
// derived from IdleLevel and used to decide whether background DAG runs and
// sync jobs may proceed.
type ComputeBudget struct {
	MaxCPUPercent    int  `json:"max_cpu_percent"`
	AllowBackground  bool `json:"allow_background"`
	AllowLargeBatch  bool `json:"allow_large_batch"`
}

// CanAcceptWork returns true if background work is permitted under budget.
func (b ComputeBudget) CanAcceptWork() bool {
	return b.AllowBackground && b.MaxCPUPercent > 0
}
