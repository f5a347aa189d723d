package scheduler

import "github.com/cis-project/cis-core/internal/domain"

// Persistence is the scheduler's storage boundary — a SQLite-backed
// implementation lives in sqlstore.go; tests can pass nil to run entirely
// in memory.
type Persistence interface {
	SaveDag(dag domain.TaskDag) error
	SaveRun(run domain.DagRun) error
	SaveExecution(runID string, ex domain.NodeExecution) error
	LoadRun(runID string) (domain.DagRun, error)
}
