// Package scheduler implements the cron-driven DAG Scheduler: it registers
// one cron entry per active DAG schedule, detects and catches up a single
// missed firing on startup, and hands each firing off to the Executor in a
// detached goroutine without blocking the cron callback.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dagrun/dagrun/internal/dagerrors"
	"github.com/dagrun/dagrun/internal/job"
	"github.com/dagrun/dagrun/internal/repository"
	"github.com/dagrun/dagrun/internal/telemetry"
)

// Runner starts a DAG's execution given its id, matching the shape of the
// create_and_execute_dag orchestration's execute step. It must not block
// the scheduler; implementations should dispatch work asynchronously or be
// fast enough not to delay the next cron tick. It returns the id of the
// Execution it created (for the optional overlap guard to poll) and any
// error from creating it; the Execution itself may still be running when
// Runner returns.
type Runner func(ctx context.Context, dagID string) (executionID string, err error)

// Scheduler owns a single cron.Cron instance and a dag_id -> entry map,
// guarded by one mutex: register/unregister/update are mutually exclusive.
type Scheduler struct {
	repo   repository.Repository
	run    Runner
	logger telemetry.Logger
	now    func() time.Time

	preventOverlap bool

	mu         sync.Mutex
	cronJob    *cron.Cron
	tasks      map[string]cron.EntryID
	lastExecID map[string]string
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source used for missed-run detection.
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// WithOverlapGuard enables the optional per-DAG overlap guard.
// When enabled, a cron firing for a DAG still running from a prior
// firing is skipped rather than starting a second concurrent execution.
// Disabled by default.
func WithOverlapGuard(enabled bool) Option { return func(s *Scheduler) { s.preventOverlap = enabled } }

// New constructs a Scheduler. run is invoked on every cron firing (and once
// per DAG during Start, for any missed firing), always on a detached
// goroutine; it is expected to create a fresh Execution and hand off to the
// Executor.
func New(repo repository.Repository, run Runner, logger telemetry.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	s := &Scheduler{
		repo:    repo,
		run:     run,
		logger:  logger,
		now:     time.Now,
		cronJob:    cron.New(),
		tasks:      make(map[string]cron.EntryID),
		lastExecID: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the underlying cron loop and registers every DAG persisted
// with schedule_active = true. Missed firings are caught up exactly once
// per DAG, never replayed as a backlog.
func (s *Scheduler) Start(ctx context.Context) error {
	dags, err := s.repo.ListScheduledDAGs(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: list scheduled dags: %w", err)
	}

	s.cronJob.Start()

	for _, dag := range dags {
		if err := s.register(dag.ID, dag.CronSchedule, dag.Timezone, dag.ScheduleActive); err != nil {
			s.logger.Warn(ctx, "scheduler: startup registration failed", "dag_id", dag.ID, "err", err)
			continue
		}
		s.catchUpMissedRun(ctx, dag)
	}
	return nil
}

// Stop halts the cron loop, waiting for any in-flight callback (not the
// detached executions themselves) to return.
func (s *Scheduler) Stop() context.Context {
	return s.cronJob.Stop()
}

// catchUpMissedRun fires dag's schedule immediately, exactly once, if the
// first scheduled instant after its last_run_at (or created_at) watermark
// already lies in the past.
func (s *Scheduler) catchUpMissedRun(ctx context.Context, dag job.DAG) {
	loc, err := resolveLocation(dag.Timezone)
	if err != nil {
		s.logger.Warn(ctx, "scheduler: invalid timezone", "dag_id", dag.ID, "timezone", dag.Timezone, "err", err)
		return
	}
	schedule, err := parseSchedule(dag.CronSchedule, loc)
	if err != nil {
		s.logger.Warn(ctx, "scheduler: invalid cron expression", "dag_id", dag.ID, "err", err)
		return
	}

	watermark := dag.CreatedAt
	if dag.LastRunAt != nil {
		watermark = *dag.LastRunAt
	}
	next := schedule.Next(watermark)
	if next.After(s.now()) {
		return
	}

	s.logger.Info(ctx, "scheduler: catching up missed run", "dag_id", dag.ID, "scheduled_for", next)
	s.fire(dag.ID)
}

// register validates expression and, if valid and active, adds a cron
// entry for dagID. An invalid expression is logged and rejected: no task is
// registered, matching the `scheduler.invalid_cron` policy.
func (s *Scheduler) register(dagID, expression, timezone string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !active {
		return nil
	}

	loc, err := resolveLocation(timezone)
	if err != nil {
		return dagerrors.Wrap(dagerrors.SchedulerInvalidCron, "invalid timezone", err)
	}
	schedule, err := parseSchedule(expression, loc)
	if err != nil {
		return dagerrors.Wrap(dagerrors.SchedulerInvalidCron, "invalid cron expression", err)
	}

	entryID := s.cronJob.Schedule(schedule, cron.FuncJob(func() { s.fire(dagID) }))
	s.tasks[dagID] = entryID
	return nil
}

// Register is the external entry point for registering (or re-registering)
// a single DAG's schedule after create_dag or an explicit schedule update.
func (s *Scheduler) Register(ctx context.Context, dagID, expression, timezone string, active bool) error {
	if err := s.register(dagID, expression, timezone, active); err != nil {
		s.logger.Warn(ctx, "scheduler: register failed", "dag_id", dagID, "err", err)
		return err
	}
	return nil
}

// Unregister stops and removes dagID's cron task, if present. Idempotent.
func (s *Scheduler) Unregister(dagID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unregisterLocked(dagID)
}

func (s *Scheduler) unregisterLocked(dagID string) {
	entryID, ok := s.tasks[dagID]
	if !ok {
		return
	}
	s.cronJob.Remove(entryID)
	delete(s.tasks, dagID)
}

// Update unregisters dagID's existing task, then, if active, re-registers
// it under the new expression/timezone.
func (s *Scheduler) Update(ctx context.Context, dagID, expression, timezone string, active bool) error {
	s.mu.Lock()
	s.unregisterLocked(dagID)
	s.mu.Unlock()

	if !active {
		return nil
	}
	return s.Register(ctx, dagID, expression, timezone, active)
}

// fire updates last_run_at to now, then hands off to the Runner in a
// detached goroutine; the cron callback itself never blocks on execution
// completion. When the overlap guard is enabled, a firing is skipped
// entirely if the Execution from this DAG's last firing has not yet
// reached a terminal status.
func (s *Scheduler) fire(dagID string) {
	ctx := context.Background()

	if s.preventOverlap && s.isRunning(ctx, dagID) {
		s.logger.Info(ctx, "scheduler: skipping overlapping firing", "dag_id", dagID)
		return
	}

	now := s.now()
	if err := s.repo.UpdateDAGLastRun(ctx, dagID, now); err != nil {
		s.logger.Warn(ctx, "scheduler: update last_run_at failed", "dag_id", dagID, "err", err)
	}

	go func() {
		execID, err := s.run(ctx, dagID)
		if err != nil {
			s.logger.Error(ctx, "scheduler: run failed", "dag_id", dagID, "err", err)
			return
		}
		if s.preventOverlap && execID != "" {
			s.mu.Lock()
			s.lastExecID[dagID] = execID
			s.mu.Unlock()
		}
	}()
}

// isRunning reports whether dagID's most recently tracked Execution exists
// and has not yet reached a terminal status. Only consulted when the
// overlap guard is enabled, since it costs a Repository round trip.
func (s *Scheduler) isRunning(ctx context.Context, dagID string) bool {
	s.mu.Lock()
	execID, ok := s.lastExecID[dagID]
	s.mu.Unlock()
	if !ok {
		return false
	}

	exec, _, err := s.repo.GetExecution(ctx, execID)
	if err != nil {
		return false
	}
	return !exec.Status.IsTerminal()
}

func resolveLocation(timezone string) (*time.Location, error) {
	if timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(timezone)
}

// parseSchedule parses a standard 5-field expression under the given
// location. robfig/cron/v3 recognizes a leading `CRON_TZ=<name>` prefix as
// a per-entry timezone binding, so the parsed schedule carries its own
// location independent of the Cron runner's default.
func parseSchedule(expression string, loc *time.Location) (cron.Schedule, error) {
	spec := fmt.Sprintf("CRON_TZ=%s %s", loc.String(), expression)
	return cron.ParseStandard(spec)
}
