// Package executor implements the DAG Executor: a dependency-respecting
// wave scheduler that dispatches ready sub-tasks concurrently, resolves
// inter-task result placeholders, persists per-sub-task outcomes, and emits
// a structured event stream.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dagrun/dagrun/internal/bus"
	"github.com/dagrun/dagrun/internal/job"
	"github.com/dagrun/dagrun/internal/model"
	"github.com/dagrun/dagrun/internal/repository"
	"github.com/dagrun/dagrun/internal/telemetry"
	"github.com/dagrun/dagrun/internal/tools"
)

// Executor runs a single Job's DAG to completion, wave by wave.
type Executor struct {
	repo     repository.Repository
	registry *tools.Registry
	chat     model.Client
	bus      *bus.Bus
	logger   telemetry.Logger
	metrics  telemetry.Metrics
	now      func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock overrides the time source used for timestamps and durations.
func WithClock(now func() time.Time) Option { return func(e *Executor) { e.now = now } }

// WithMetrics attaches a metrics recorder.
func WithMetrics(m telemetry.Metrics) Option { return func(e *Executor) { e.metrics = m } }

// New constructs an Executor.
func New(repo repository.Repository, registry *tools.Registry, chat model.Client, b *bus.Bus, logger telemetry.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	e := &Executor{
		repo:     repo,
		registry: registry,
		chat:     chat,
		bus:      b,
		logger:   logger,
		metrics:  telemetry.NewNoopMetrics(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes (or resumes) executionID against j, persisting progress
// through the Repository and emitting lifecycle events on the Bus. It
// consults the persisted SubStep statuses to rebuild executed_ids and
// task_results from already-completed work before entering the wave loop,
// so a resumed Execution does not repeat prior successes.
func (e *Executor) Run(ctx context.Context, j job.Job, executionID string) (job.Execution, error) {
	exec, steps, err := e.repo.GetExecution(ctx, executionID)
	if err != nil {
		return job.Execution{}, fmt.Errorf("executor: load execution: %w", err)
	}

	if len(j.SubTasks) == 0 {
		exec.Status = job.ExecFailed
		_ = e.persistExecution(ctx, &exec)
		e.bus.Publish(ctx, bus.NewExecutionFailedEvent(exec.ID, "job has no sub-tasks"))
		return exec, fmt.Errorf("executor: job has no sub-tasks")
	}

	stepByTask := make(map[string]job.SubStep, len(steps))
	for _, s := range steps {
		stepByTask[s.TaskID] = s
	}

	// Rebuild progress from already-completed sub-steps. Previously failed
	// sub-steps are deliberately not carried over: a resume re-dispatches
	// them on re-entry, so they start this run unattempted.
	executedIDs := make(map[string]struct{}, len(j.SubTasks))
	failedIDs := make(map[string]struct{}, len(j.SubTasks))
	taskResults := make(map[string]any, len(j.SubTasks))
	completed, failed := 0, 0
	for _, s := range steps {
		if s.Status == job.SubStepCompleted {
			executedIDs[s.TaskID] = struct{}{}
			taskResults[s.TaskID] = s.Result
			completed++
		}
	}

	exec.Status = job.ExecRunning
	exec.TotalTasks = len(j.SubTasks)
	exec.CompletedTasks = completed
	exec.FailedTasks = failed
	exec.WaitingTasks = exec.TotalTasks - completed - failed
	if err := e.persistExecution(ctx, &exec); err != nil {
		return exec, err
	}
	e.publishUpdated(ctx, exec)

	for len(executedIDs)+len(failedIDs) < len(j.SubTasks) {
		if ctx.Err() != nil {
			return e.suspend(ctx, exec, "cancelled")
		}

		ready := computeReady(j.SubTasks, executedIDs, failedIDs)
		if len(ready) == 0 {
			return e.suspend(ctx, exec, deadlockReason(j.SubTasks, executedIDs, failedIDs))
		}

		outcomes := e.dispatchWave(ctx, exec.ID, ready, stepByTask, taskResults)
		for _, o := range outcomes {
			if o.err == nil {
				executedIDs[o.taskID] = struct{}{}
				taskResults[o.taskID] = o.result
				completed++
			} else {
				failedIDs[o.taskID] = struct{}{}
				failed++
			}
		}

		exec.CompletedTasks = completed
		exec.FailedTasks = failed
		exec.WaitingTasks = exec.TotalTasks - completed - failed
		if err := e.persistExecution(ctx, &exec); err != nil {
			return exec, err
		}
		e.publishUpdated(ctx, exec)
	}

	return e.synthesize(ctx, j, exec, taskResults)
}

// persistExecution writes the full Execution row.
func (e *Executor) persistExecution(ctx context.Context, exec *job.Execution) error {
	if err := e.repo.UpdateExecution(ctx, *exec); err != nil {
		return fmt.Errorf("executor: persist execution: %w", err)
	}
	return nil
}

func (e *Executor) publishUpdated(ctx context.Context, exec job.Execution) {
	e.bus.Publish(ctx, bus.NewExecutionUpdatedEvent(exec.ID, string(exec.Status), exec.TotalTasks, exec.CompletedTasks, exec.FailedTasks, exec.WaitingTasks))
}

// suspend transitions exec to suspended with reason, persists, and emits
// execution.suspended.
func (e *Executor) suspend(ctx context.Context, exec job.Execution, reason string) (job.Execution, error) {
	exec.Status = job.ExecSuspended
	exec.SuspendedReason = reason
	now := e.now()
	exec.SuspendedAt = &now
	exec.WaitingTasks = exec.TotalTasks - exec.CompletedTasks - exec.FailedTasks
	if err := e.persistExecution(ctx, &exec); err != nil {
		return exec, err
	}
	e.bus.Publish(ctx, bus.NewExecutionSuspendedEvent(exec.ID, reason))
	return exec, nil
}

// computeReady returns the sub-tasks, in Job order, whose dependencies are
// all satisfied and that have not yet been attempted. Failed tasks are
// never re-dispatched within a run; only a resume retries them.
func computeReady(subTasks []job.SubTask, executedIDs, failedIDs map[string]struct{}) []job.SubTask {
	var ready []job.SubTask
	for _, t := range subTasks {
		if _, done := executedIDs[t.ID]; done {
			continue
		}
		if _, done := failedIDs[t.ID]; done {
			continue
		}
		if t.HasNoDependencies() {
			ready = append(ready, t)
			continue
		}
		satisfied := true
		for _, dep := range t.Dependencies {
			if _, ok := executedIDs[dep]; !ok {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, t)
		}
	}
	return ready
}

// deadlockReason names the blocked tasks for the suspended_reason string,
// in a "deadlock: tasks {...} blocked" shape.
// Tasks that already failed are not blocked; they were attempted.
func deadlockReason(subTasks []job.SubTask, executedIDs, failedIDs map[string]struct{}) string {
	var blocked []string
	for _, t := range subTasks {
		if _, done := executedIDs[t.ID]; done {
			continue
		}
		if _, done := failedIDs[t.ID]; done {
			continue
		}
		blocked = append(blocked, t.ID)
	}
	return fmt.Sprintf("deadlock: tasks %v blocked", blocked)
}

// taskOutcome is a wave member's private result, joined back into the main
// execution's executed_ids/task_results only after the whole wave
// completes.
type taskOutcome struct {
	taskID string
	result any
	err    error
}

func (e *Executor) dispatchWave(ctx context.Context, executionID string, ready []job.SubTask, stepByTask map[string]job.SubStep, results map[string]any) []taskOutcome {
	outcomes := make([]taskOutcome, len(ready))
	var wg sync.WaitGroup
	for i, t := range ready {
		wg.Add(1)
		go func(i int, t job.SubTask) {
			defer wg.Done()
			outcomes[i] = e.runTask(ctx, executionID, t, stepByTask[t.ID], results)
		}(i, t)
	}
	wg.Wait()
	return outcomes
}
