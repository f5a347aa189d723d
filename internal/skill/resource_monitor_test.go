package skill

import (
	"os"
	"testing"
	"time"

	"github.com/cis-project/cis-core/internal/domain"
)

func TestResourceMonitorSampleDetectsMemoryViolation(t *testing.T) {
	m := NewResourceMonitor(os.Getpid(), domain.ResourceLimits{MaxMemoryMB: 1})

	usage, violated := m.Sample()
	if !violated {
		t.Fatalf("expected a 1MB memory limit to be violated by the running test process, got usage %+v", usage)
	}
}

func TestResourceMonitorSampleWithNoLimitsNeverViolates(t *testing.T) {
	m := NewResourceMonitor(os.Getpid(), domain.ResourceLimits{})

	_, violated := m.Sample()
	if violated {
		t.Fatal("a zero-value ResourceLimits should never be violated")
	}
}

func TestResourceMonitorWatchEmitsOnViolation(t *testing.T) {
	m := NewResourceMonitor(os.Getpid(), domain.ResourceLimits{MaxMemoryMB: 1})
	stop := make(chan struct{})
	defer close(stop)

	ch := m.Watch(5*time.Millisecond, stop)
	select {
	case usage, ok := <-ch:
		if !ok {
			t.Fatal("Watch channel closed before reporting a violation")
		}
		if usage.MemoryMB <= 0 {
			t.Fatalf("violating usage sample has non-positive MemoryMB: %+v", usage)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not report a violation within 2s")
	}
}

func TestResourceMonitorWatchClosesCleanlyOnStop(t *testing.T) {
	m := NewResourceMonitor(os.Getpid(), domain.ResourceLimits{})
	stop := make(chan struct{})

	ch := m.Watch(5*time.Millisecond, stop)
	close(stop)

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected the Watch channel to close without emitting a usage value")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not close its channel within 2s after stop")
	}
}
