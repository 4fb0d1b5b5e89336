// Package repository defines the narrow persistence interface the planner,
// executor, and scheduler depend on. It prescribes no storage engine: a
// relational implementation is typical, but the interface exposes exactly
// the operations the core needs and nothing a SQL schema would otherwise
// leak into call sites.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/dagrun/dagrun/internal/job"
)

// ErrNotFound is returned when a DAG, Execution, or Agent lookup misses.
var ErrNotFound = errors.New("repository: not found")

// Repository is the persistence boundary for DAG records, their Executions
// and SubSteps, and the Agent configurations the planner looks up by name.
// Implementations are expected to make every write durable before
// returning; the executor itself serializes writes to a given Execution's
// row, so Repository need not provide its own per-row locking beyond what
// its storage engine gives for free.
type Repository interface {
	// InsertDAG persists a newly planned DAG record.
	InsertDAG(ctx context.Context, dag job.DAG) error

	// GetDAG fetches a DAG record by id, or ErrNotFound.
	GetDAG(ctx context.Context, id string) (job.DAG, error)

	// UpdateDAGSchedule updates a DAG's cron schedule metadata. It never
	// touches the DAG's Job or planning accounting.
	UpdateDAGSchedule(ctx context.Context, id string, cronExpression string, active bool, timezone string) error

	// UpdateDAGLastRun stamps last_run_at, used by the Scheduler on every
	// firing before handing off to the Executor.
	UpdateDAGLastRun(ctx context.Context, id string, at time.Time) error

	// ListScheduledDAGs returns every DAG with schedule_active = true, for
	// Scheduler startup registration.
	ListScheduledDAGs(ctx context.Context) ([]job.DAG, error)

	// CreateExecution atomically inserts an Execution and its initial
	// SubSteps (all `pending`), before the Executor begins dispatch.
	CreateExecution(ctx context.Context, exec job.Execution, steps []job.SubStep) error

	// UpdateExecution persists a full Execution row: status, counters,
	// timestamps, results, suspension/retry bookkeeping. Callers pass the
	// complete desired state; the Repository does not merge partial
	// updates.
	UpdateExecution(ctx context.Context, exec job.Execution) error

	// GetExecution fetches an Execution and its SubSteps, ordered by
	// task_id, or ErrNotFound.
	GetExecution(ctx context.Context, id string) (job.Execution, []job.SubStep, error)

	// UpdateSubStep persists a single SubStep's mutable fields (status,
	// result, error, duration, usage, cost). Called on start and on
	// completion/failure.
	UpdateSubStep(ctx context.Context, step job.SubStep) error

	// GetAgent fetches an Agent configuration by name, or ErrNotFound.
	GetAgent(ctx context.Context, name string) (job.Agent, error)

	// PutAgent registers or replaces an Agent configuration. Not named in
	// the distilled spec's Repository contract, but required to populate
	// the `agents` table referenced in the persisted-state layout; used by
	// migration/seed tooling, not the planning/execution hot path.
	PutAgent(ctx context.Context, agent job.Agent) error
}
