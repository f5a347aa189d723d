package scheduler

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/cis-project/cis-core/internal/domain"
)

// SQLStore is the SQLite-backed Persistence implementation, following the
// same migrate-then-prepared-statement idiom as internal/storage and
// internal/memory.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wires a SQLStore against an already-open *sql.DB and ensures
// its schema exists.
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	if err := EnsureSchema(db); err != nil {
		return nil, err
	}
	return &SQLStore{db: db}, nil
}

// EnsureSchema creates the dag_specs, dag_runs, and task_executions tables.
func EnsureSchema(db *sql.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS dag_specs (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			policy     TEXT NOT NULL,
			nodes      TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS dag_runs (
			id         TEXT PRIMARY KEY,
			dag_id     TEXT NOT NULL,
			status     TEXT NOT NULL,
			debt       TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS task_executions (
			run_id       TEXT NOT NULL,
			node_id      TEXT NOT NULL,
			status       TEXT NOT NULL,
			attempt      INTEGER NOT NULL DEFAULT 0,
			output       BLOB,
			error        TEXT,
			started_at   INTEGER,
			completed_at INTEGER,
			PRIMARY KEY (run_id, node_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_task_executions_run ON task_executions(run_id)`,
	}
	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("scheduler migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// SaveDag upserts a TaskDag's static definition.
func (s *SQLStore) SaveDag(dag domain.TaskDag) error {
	nodes, err := json.Marshal(dag.Nodes)
	if err != nil {
		return domain.Wrap(domain.ErrScheduler, "scheduler.dag_marshal_failed", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO dag_specs (id, name, policy, nodes, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, policy=excluded.policy, nodes=excluded.nodes`,
		dag.ID, dag.Name, string(dag.Policy), string(nodes), dag.CreatedAt.Unix(),
	)
	if err != nil {
		return domain.Wrap(domain.ErrScheduler, "scheduler.dag_save_failed", err)
	}
	return nil
}

// SaveRun upserts a DagRun's top-level state (not its per-node executions).
func (s *SQLStore) SaveRun(run domain.DagRun) error {
	debt, err := json.Marshal(run.Debt)
	if err != nil {
		return domain.Wrap(domain.ErrScheduler, "scheduler.run_marshal_failed", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO dag_runs (id, dag_id, status, debt, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status=excluded.status, debt=excluded.debt, updated_at=excluded.updated_at`,
		run.ID, run.DagID, string(run.Status), string(debt), run.CreatedAt.Unix(), run.UpdatedAt.Unix(),
	)
	if err != nil {
		return domain.Wrap(domain.ErrScheduler, "scheduler.run_save_failed", err)
	}
	return nil
}

// SaveExecution upserts one node's execution record within a run.
func (s *SQLStore) SaveExecution(runID string, ex domain.NodeExecution) error {
	_, err := s.db.Exec(
		`INSERT INTO task_executions (run_id, node_id, status, attempt, output, error, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, node_id) DO UPDATE SET status=excluded.status, attempt=excluded.attempt,
			output=excluded.output, error=excluded.error, started_at=excluded.started_at, completed_at=excluded.completed_at`,
		runID, ex.NodeID, string(ex.Status), ex.Attempt, ex.Output, ex.Error,
		nullableUnix(ex.StartedAt), nullableUnix(ex.CompletedAt),
	)
	if err != nil {
		return domain.Wrap(domain.ErrScheduler, "scheduler.execution_save_failed", err)
	}
	return nil
}

// LoadRun reconstructs a DagRun (including its per-node executions) from
// storage, for resuming after a process restart.
func (s *SQLStore) LoadRun(runID string) (domain.DagRun, error) {
	var run domain.DagRun
	var createdAt, updatedAt int64
	var debtJSON string
	row := s.db.QueryRow(`SELECT id, dag_id, status, debt, created_at, updated_at FROM dag_runs WHERE id = ?`, runID)
	if err := row.Scan(&run.ID, &run.DagID, &run.Status, &debtJSON, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return domain.DagRun{}, domain.Wrap(domain.ErrScheduler, "scheduler.run_not_found", domain.ErrDagRunNotFound)
		}
		return domain.DagRun{}, domain.Wrap(domain.ErrScheduler, "scheduler.run_load_failed", err)
	}
	_ = json.Unmarshal([]byte(debtJSON), &run.Debt)
	run.CreatedAt = unixTime(createdAt)
	run.UpdatedAt = unixTime(updatedAt)

	rows, err := s.db.Query(`SELECT node_id, status, attempt, output, error, started_at, completed_at FROM task_executions WHERE run_id = ?`, runID)
	if err != nil {
		return domain.DagRun{}, domain.Wrap(domain.ErrScheduler, "scheduler.executions_load_failed", err)
	}
	defer rows.Close()

	run.Executions = make(map[string]*domain.NodeExecution)
	for rows.Next() {
		var ex domain.NodeExecution
		var started, completed sql.NullInt64
		if err := rows.Scan(&ex.NodeID, &ex.Status, &ex.Attempt, &ex.Output, &ex.Error, &started, &completed); err != nil {
			return domain.DagRun{}, domain.Wrap(domain.ErrScheduler, "scheduler.execution_scan_failed", err)
		}
		if started.Valid {
			ex.StartedAt = unixTime(started.Int64)
		}
		if completed.Valid {
			ex.CompletedAt = unixTime(completed.Int64)
		}
		run.Executions[ex.NodeID] = &ex
	}
	return run, rows.Err()
}
