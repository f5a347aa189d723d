// Package skill implements the sandboxed skill executor (C3): manifest
// parsing, permission checking, and Native/Wasm/Remote/Dag dispatch.
package skill

import (
	"sync"
	"time"

	"github.com/cis-project/cis-core/internal/domain"
)

// ResourceMonitor samples process-level resource usage for a running
// execution and reports a violation as soon as the declared limits are
// crossed, applying a sampling-loop design to a per-skill-execution
// budget instead of a whole-node one.
type ResourceMonitor struct {
	mu       sync.Mutex
	pid      int
	started  time.Time
	limits   domain.ResourceLimits
	violated bool
}

// NewResourceMonitor begins tracking pid against limits.
func NewResourceMonitor(pid int, limits domain.ResourceLimits) *ResourceMonitor {
	return &ResourceMonitor{pid: pid, started: time.Now(), limits: limits}
}

// Sample reads current usage for the tracked process and reports whether it
// now exceeds the declared limits.
func (m *ResourceMonitor) Sample() (domain.ResourceUsage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	usage := domain.ResourceUsage{
		MemoryMB:    readProcessMemoryMB(m.pid),
		CPUPercent:  readProcessCPUPercent(m.pid),
		WallSeconds: int64(time.Since(m.started).Seconds()),
	}
	m.violated = usage.Exceeds(m.limits)
	return usage, m.violated
}

// Watch polls Sample every interval until ctx-like stop fires or a
// violation is detected, sending the violating usage on the returned
// channel (closed on normal stop without a violation).
func (m *ResourceMonitor) Watch(interval time.Duration, stop <-chan struct{}) <-chan domain.ResourceUsage {
	out := make(chan domain.ResourceUsage, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				usage, violated := m.Sample()
				if violated {
					out <- usage
					return
				}
			}
		}
	}()
	return out
}
