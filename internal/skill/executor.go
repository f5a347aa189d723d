package skill

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/cis-project/cis-core/internal/domain"
)

// DagDelegate lets Executor hand SkillDag manifests off to the DAG
// scheduler without internal/skill importing internal/scheduler directly
// (which would create an import cycle, since the scheduler dispatches
// skill nodes through this same Executor).
type DagDelegate interface {
	RunDag(ctx context.Context, dagID string, input []byte) ([]byte, error)
}

// RemoteRuntime is a placeholder boundary for skills dispatched to another
// node entirely; CIS defines the contract but ships no concrete transport,
// leaving that to the federation/tunnel layer a deployment wires in.
type RemoteRuntime interface {
	domain.SkillRuntime
}

// Executor registers skills, checks permissions, and dispatches a run to
// the runtime matching the skill's manifest kind.
type Executor struct {
	db         *sql.DB
	perms      *PermissionChecker
	wasmPool   *WasmPool
	dagDelegate DagDelegate
	remotes    map[string]RemoteRuntime
}

// NewExecutor wires an Executor against an already-migrated *sql.DB.
func NewExecutor(db *sql.DB, perms *PermissionChecker, wasmPool *WasmPool, dagDelegate DagDelegate) *Executor {
	return &Executor{
		db:          db,
		perms:       perms,
		wasmPool:    wasmPool,
		dagDelegate: dagDelegate,
		remotes:     make(map[string]RemoteRuntime),
	}
}

// RegisterRemote wires a concrete RemoteRuntime for a given skill ID. Call
// sites that never register one simply can't run SkillRemote manifests —
// Run returns ErrSkillNotFound in that case.
func (e *Executor) RegisterRemote(skillID string, rt RemoteRuntime) {
	e.remotes[skillID] = rt
}

// Register validates a manifest, persists the resulting domain.Skill, and
// returns its assigned ID.
func (e *Executor) Register(manifest *Manifest) (domain.Skill, error) {
	if err := manifest.Validate(); err != nil {
		return domain.Skill{}, err
	}
	id := uuid.NewString()
	sk := manifest.ToSkill(id)

	_, err := e.db.Exec(
		`INSERT INTO skills (id, name, version, kind, entrypoint, permissions, limits, exports, config, dependencies, registered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sk.ID, sk.Name, sk.Version, string(sk.Kind), sk.Entrypoint,
		joinScopes(sk.Permissions), marshalLimits(sk.Limits), joinStrings(sk.Exports),
		marshalConfig(sk.Config), joinStrings(sk.Dependencies), sk.RegisteredAt.Unix(),
	)
	if err != nil {
		return domain.Skill{}, domain.Wrap(domain.ErrSkill, "skill.register_failed", err)
	}
	return sk, nil
}

// Run checks permissions for skillID, dispatches to the matching runtime,
// and records an ExecutionRecord for the full lifecycle.
func (e *Executor) Run(ctx context.Context, sk domain.Skill, input []byte) (domain.ExecutionRecord, error) {
	record := domain.ExecutionRecord{
		ID:        uuid.NewString(),
		SkillID:   sk.ID,
		Status:    domain.ExecQueued,
		Input:     input,
		StartedAt: time.Now(),
	}

	if err := e.perms.RequireAllowed(sk.ID, sk.Permissions); err != nil {
		record.Status = domain.ExecDenied
		record.Error = err.Error()
		record.CompletedAt = time.Now()
		e.persistExecution(record)
		permissionDenials.Inc()
		executionsByStatus.WithLabelValues(string(domain.ExecDenied), string(sk.Kind)).Inc()
		return record, err
	}

	record.Status = domain.ExecRunning
	e.persistExecution(record)

	runCtx := ctx
	if sk.Limits.MaxWallSeconds > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(sk.Limits.MaxWallSeconds)*time.Second)
		defer cancel()
	}

	output, err := e.dispatch(runCtx, sk, input)
	record.CompletedAt = time.Now()
	record.Usage.WallSeconds = int64(record.CompletedAt.Sub(record.StartedAt).Seconds())
	executionDuration.WithLabelValues(string(sk.Kind)).Observe(record.CompletedAt.Sub(record.StartedAt).Seconds())

	if err != nil {
		record.Status = statusForRunErr(runCtx)
		record.Error = err.Error()
		e.persistExecution(record)
		executionsByStatus.WithLabelValues(string(record.Status), string(sk.Kind)).Inc()
		return record, err
	}

	record.Status = domain.ExecSucceeded
	record.Output = output
	e.persistExecution(record)
	executionsByStatus.WithLabelValues(string(domain.ExecSucceeded), string(sk.Kind)).Inc()
	return record, nil
}

// GetSkill loads a registered skill by ID. internal/node uses this to
// resolve the skillID NodeDispatcher.Dispatch receives from the scheduler
// into the domain.Skill that Run needs.
func (e *Executor) GetSkill(id string) (domain.Skill, error) {
	row := e.db.QueryRow(
		`SELECT id, name, version, kind, entrypoint, permissions, limits, exports, config, dependencies, registered_at
		 FROM skills WHERE id = ?`, id,
	)

	var (
		sk                                                      domain.Skill
		kind, permissions, limits, exports, config, deps        string
		registeredAt                                            int64
	)
	if err := row.Scan(&sk.ID, &sk.Name, &sk.Version, &kind, &sk.Entrypoint, &permissions, &limits, &exports, &config, &deps, &registeredAt); err != nil {
		if err == sql.ErrNoRows {
			return domain.Skill{}, domain.Wrap(domain.ErrSkill, "skill.not_found", domain.ErrSkillNotFound)
		}
		return domain.Skill{}, domain.Wrap(domain.ErrSkill, "skill.load_failed", err)
	}

	sk.Kind = domain.SkillKind(kind)
	sk.Permissions = splitScopes(permissions)
	sk.Limits = unmarshalLimits(limits)
	sk.Exports = splitStrings(exports)
	sk.Config = unmarshalConfig(config)
	sk.Dependencies = splitStrings(deps)
	sk.RegisteredAt = time.Unix(registeredAt, 0)
	return sk, nil
}

// statusForRunErr classifies a failed dispatch as a timeout, an explicit
// cancel, or a plain failure, based on why runCtx ended.
func statusForRunErr(runCtx context.Context) domain.ExecutionStatus {
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return domain.ExecTimedOut
	case errors.Is(runCtx.Err(), context.Canceled):
		return domain.ExecCancelled
	default:
		return domain.ExecFailed
	}
}

func (e *Executor) dispatch(ctx context.Context, sk domain.Skill, input []byte) ([]byte, error) {
	switch sk.Kind {
	case domain.SkillNative:
		rt := &NativeRuntime{Entrypoint: sk.Entrypoint}
		return rt.Run(ctx, input)

	case domain.SkillWasm:
		code, err := readEntrypointFile(sk.Entrypoint)
		if err != nil {
			return nil, err
		}
		rt, err := LoadWasmModule(code)
		if err != nil {
			return nil, err
		}
		defer rt.Close()
		return e.wasmPool.Run(ctx, rt, input)

	case domain.SkillRemote:
		rt, ok := e.remotes[sk.ID]
		if !ok {
			return nil, domain.Wrap(domain.ErrSkill, "skill.remote_unregistered", domain.ErrSkillNotFound)
		}
		return rt.Run(ctx, input)

	case domain.SkillDag:
		if e.dagDelegate == nil {
			return nil, domain.NewError(domain.ErrSkill, "skill.dag_delegate_unset", "no dag delegate configured")
		}
		return e.dagDelegate.RunDag(ctx, sk.Entrypoint, input)

	default:
		return nil, domain.Wrap(domain.ErrSkill, "skill.kind_unknown", domain.ErrManifestInvalid)
	}
}

func (e *Executor) persistExecution(r domain.ExecutionRecord) {
	_, _ = e.db.Exec(
		`INSERT INTO execution_records (id, skill_id, status, input, output, error, memory_mb, cpu_percent, wall_seconds, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status=excluded.status, output=excluded.output,
			error=excluded.error, memory_mb=excluded.memory_mb, cpu_percent=excluded.cpu_percent,
			wall_seconds=excluded.wall_seconds, completed_at=excluded.completed_at`,
		r.ID, r.SkillID, string(r.Status), r.Input, r.Output, r.Error,
		r.Usage.MemoryMB, r.Usage.CPUPercent, r.Usage.WallSeconds,
		r.StartedAt.Unix(), nullableUnix(r.CompletedAt),
	)
}
