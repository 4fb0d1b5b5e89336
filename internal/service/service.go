// Package service wires the Planner, Executor, Repository, Scheduler, and
// Event Bus together behind the four operations the external request
// surface consumes: create_dag, execute_dag, resume_dag, and
// create_and_execute_dag.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dagrun/dagrun/internal/bus"
	"github.com/dagrun/dagrun/internal/executor"
	"github.com/dagrun/dagrun/internal/job"
	"github.com/dagrun/dagrun/internal/planner"
	"github.com/dagrun/dagrun/internal/repository"
	"github.com/dagrun/dagrun/internal/scheduler"
	"github.com/dagrun/dagrun/internal/telemetry"
)

// Status is the outer status string returned to a collaborator, mirroring
// the shapes the request surface returns.
type Status string

const (
	StatusCreated               Status = "created"
	StatusClarificationRequired Status = "clarification_required"
	StatusFailed                Status = "failed"
	StatusStarted               Status = "started"
	StatusResumed               Status = "resumed"
	StatusExecuting             Status = "executing"
)

// CreateDAGRequest is the input to CreateDAG / CreateAndExecuteDAG.
type CreateDAGRequest struct {
	GoalText        string
	AgentName       string
	Model           string
	Temperature     *float64
	Seed            *int64
	MaxTokens       int
	ReasoningEffort string

	CronSchedule   string
	ScheduleActive bool
	Timezone       string
}

// CreateDAGResult is returned by CreateDAG.
type CreateDAGResult struct {
	Status             Status
	DAGID              string
	ClarificationQuery string
	Job                job.Job
}

// ExecuteDAGResult is returned by ExecuteDAG.
type ExecuteDAGResult struct {
	Status      Status
	ExecutionID string
	TotalTasks  int
}

// ResumeDAGResult is returned by ResumeDAG.
type ResumeDAGResult struct {
	Status      Status
	ExecutionID string
	RetryCount  int
}

// CreateAndExecuteResult is returned by CreateAndExecuteDAG.
type CreateAndExecuteResult struct {
	Status             Status
	DAGID              string
	ExecutionID        string
	ClarificationQuery string
}

// Service is the orchestration layer behind the four external operations.
type Service struct {
	planner   *planner.Planner
	executor  *executor.Executor
	repo      repository.Repository
	scheduler *scheduler.Scheduler
	bus       *bus.Bus
	logger    telemetry.Logger
	now       func() time.Time
	newID     func() string
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source for StartedAt/CreatedAt stamps.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithIDGenerator overrides the id generation function; tests can supply a
// deterministic sequence.
func WithIDGenerator(f func() string) Option { return func(s *Service) { s.newID = f } }

// SetScheduler attaches (or replaces) the Scheduler used to register cron
// schedules on CreateDAG. Exposed as a setter, not only a constructor
// option, because callers typically build the Scheduler's Runner from the
// Service itself (a cyclic wiring the constructor can't express directly).
func (s *Service) SetScheduler(sch *scheduler.Scheduler) { s.scheduler = sch }

// New constructs a Service.
func New(p *planner.Planner, ex *executor.Executor, repo repository.Repository, sch *scheduler.Scheduler, b *bus.Bus, logger telemetry.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	s := &Service{
		planner:   p,
		executor:  ex,
		repo:      repo,
		scheduler: sch,
		bus:       b,
		logger:    logger,
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateDAG runs the planner to completion and, on success, persists the
// resulting DAG record (and registers its cron schedule, if any).
func (s *Service) CreateDAG(ctx context.Context, req CreateDAGRequest) (CreateDAGResult, error) {
	agent, err := s.repo.GetAgent(ctx, req.AgentName)
	if err != nil {
		return CreateDAGResult{}, fmt.Errorf("service: load agent %q: %w", req.AgentName, err)
	}

	planResult, err := s.planner.Plan(ctx, planner.Request{
		GoalText:        req.GoalText,
		Agent:           agent,
		Model:           firstNonEmpty(req.Model, agent.DefaultModel),
		Temperature:     req.Temperature,
		Seed:            req.Seed,
		MaxTokens:       firstNonZero(req.MaxTokens, agent.DefaultMaxTokens),
		ReasoningEffort: firstNonEmpty(req.ReasoningEffort, agent.DefaultReasoningEffort),
	})
	if err != nil {
		return CreateDAGResult{Status: StatusFailed}, err
	}

	if planResult.Outcome == planner.OutcomeClarificationReq {
		return CreateDAGResult{
			Status:             StatusClarificationRequired,
			ClarificationQuery: planResult.ClarificationQuery,
			Job:                planResult.Job,
		}, nil
	}

	title, titleUsage, titleCost := s.generateTitle(ctx, req.AgentName, req.GoalText)
	planResult.PlanningUsage = job.Usage{
		InputTokens:  planResult.PlanningUsage.InputTokens + titleUsage.InputTokens,
		OutputTokens: planResult.PlanningUsage.OutputTokens + titleUsage.OutputTokens,
		TotalTokens:  planResult.PlanningUsage.TotalTokens + titleUsage.TotalTokens,
	}
	planResult.PlanningCostUSD += titleCost

	dag := job.DAG{
		ID:              s.newID(),
		Status:          job.PlanStatusSuccess,
		Job:             planResult.Job,
		PlanningUsage:   planResult.PlanningUsage,
		PlanningCostUSD: planResult.PlanningCostUSD,
		Attempts:        len(planResult.Attempts) + 1,
		AgentName:       req.AgentName,
		CronSchedule:    req.CronSchedule,
		ScheduleActive:  req.ScheduleActive,
		Timezone:        req.Timezone,
		DAGTitle:        title,
		CreatedAt:       s.now(),
	}
	if err := s.repo.InsertDAG(ctx, dag); err != nil {
		return CreateDAGResult{}, fmt.Errorf("service: persist dag: %w", err)
	}

	if s.scheduler != nil && req.ScheduleActive && req.CronSchedule != "" {
		if err := s.scheduler.Register(ctx, dag.ID, req.CronSchedule, req.Timezone, true); err != nil {
			s.logger.Warn(ctx, "service: cron registration failed", "dag_id", dag.ID, "err", err)
		}
	}

	return CreateDAGResult{Status: StatusCreated, DAGID: dag.ID, Job: planResult.Job}, nil
}

func (s *Service) generateTitle(ctx context.Context, agentName, goalText string) (string, job.Usage, float64) {
	titleAgent, err := s.findTitleAgent(ctx, agentName)
	if err != nil {
		return "", job.Usage{}, 0
	}
	return s.planner.GenerateTitle(ctx, titleAgent, goalText)
}

// findTitleAgent looks up the distinguished title agent for agentName's
// namespace; absent a dedicated convention, it reuses agentName itself if
// that agent is marked is_title_agent, falling back to "title" as the
// well-known name.
func (s *Service) findTitleAgent(ctx context.Context, agentName string) (job.Agent, error) {
	if a, err := s.repo.GetAgent(ctx, agentName); err == nil && a.IsTitleAgent {
		return a, nil
	}
	return s.repo.GetAgent(ctx, "title")
}

// ExecuteDAG loads dagID's Job, creates a fresh Execution with all SubSteps
// pending, and dispatches the Executor asynchronously.
func (s *Service) ExecuteDAG(ctx context.Context, dagID string) (ExecuteDAGResult, error) {
	dag, err := s.repo.GetDAG(ctx, dagID)
	if err != nil {
		return ExecuteDAGResult{}, fmt.Errorf("service: load dag: %w", err)
	}

	exec, steps := s.newExecution(dag)
	if err := s.repo.CreateExecution(ctx, exec, steps); err != nil {
		return ExecuteDAGResult{}, fmt.Errorf("service: create execution: %w", err)
	}
	s.bus.Publish(ctx, bus.NewExecutionCreatedEvent(exec.ID))

	s.runAsync(dag.Job, exec.ID)

	return ExecuteDAGResult{Status: StatusStarted, ExecutionID: exec.ID, TotalTasks: len(dag.Job.SubTasks)}, nil
}

// ResumeDAG increments retry bookkeeping on an existing Execution and
// re-invokes the Executor, which rebuilds progress from persisted SubSteps
// on re-entry. Only suspended and failed executions are resumable; the
// other terminal statuses stay terminal.
func (s *Service) ResumeDAG(ctx context.Context, executionID string) (ResumeDAGResult, error) {
	exec, _, err := s.repo.GetExecution(ctx, executionID)
	if err != nil {
		return ResumeDAGResult{}, fmt.Errorf("service: load execution: %w", err)
	}
	if exec.Status != job.ExecSuspended && exec.Status != job.ExecFailed {
		return ResumeDAGResult{}, fmt.Errorf("service: execution %s has status %q; only suspended or failed executions can be resumed", executionID, exec.Status)
	}

	dag, err := s.repo.GetDAG(ctx, exec.DAGID)
	if err != nil {
		return ResumeDAGResult{}, fmt.Errorf("service: load dag: %w", err)
	}

	exec.RetryCount++
	now := s.now()
	exec.LastRetryAt = &now
	exec.Status = job.ExecRunning
	if err := s.repo.UpdateExecution(ctx, exec); err != nil {
		return ResumeDAGResult{}, fmt.Errorf("service: persist resume: %w", err)
	}

	s.runAsync(dag.Job, exec.ID)

	return ResumeDAGResult{Status: StatusResumed, ExecutionID: exec.ID, RetryCount: exec.RetryCount}, nil
}

// CreateAndExecuteDAG is CreateDAG immediately followed by ExecuteDAG,
// short-circuiting on clarification just like CreateDAG does.
func (s *Service) CreateAndExecuteDAG(ctx context.Context, req CreateDAGRequest) (CreateAndExecuteResult, error) {
	created, err := s.CreateDAG(ctx, req)
	if err != nil {
		return CreateAndExecuteResult{}, err
	}
	if created.Status == StatusClarificationRequired {
		return CreateAndExecuteResult{
			Status:             StatusClarificationRequired,
			ClarificationQuery: created.ClarificationQuery,
		}, nil
	}

	executed, err := s.ExecuteDAG(ctx, created.DAGID)
	if err != nil {
		return CreateAndExecuteResult{}, err
	}
	return CreateAndExecuteResult{Status: StatusExecuting, DAGID: created.DAGID, ExecutionID: executed.ExecutionID}, nil
}

// runAsync dispatches the Executor on a detached goroutine; callers
// (ExecuteDAG, ResumeDAG) return as soon as the Execution row is ready.
func (s *Service) runAsync(j job.Job, executionID string) {
	go func() {
		ctx := context.Background()
		if _, err := s.executor.Run(ctx, j, executionID); err != nil {
			s.logger.Error(ctx, "service: execution run failed", "execution_id", executionID, "err", err)
		}
	}()
}

func (s *Service) newExecution(dag job.DAG) (job.Execution, []job.SubStep) {
	execID := s.newID()
	steps := make([]job.SubStep, len(dag.Job.SubTasks))
	for i, t := range dag.Job.SubTasks {
		steps[i] = job.SubStep{
			ID:             s.newID(),
			ExecutionID:    execID,
			TaskID:         t.ID,
			Description:    t.Description,
			Thought:        t.Thought,
			ExpectedOutput: t.ExpectedOutput,
			ActionType:     t.ActionType,
			Status:         job.SubStepPending,
		}
	}
	exec := job.Execution{
		ID:              execID,
		DAGID:           dag.ID,
		OriginalRequest: dag.Job.OriginalRequest,
		PrimaryIntent:   dag.Job.Intent.Primary,
		Status:          job.ExecPending,
		TotalTasks:      len(dag.Job.SubTasks),
		WaitingTasks:    len(dag.Job.SubTasks),
		StartedAt:       s.now(),
	}
	return exec, steps
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonZero(vals ...int) int {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}

// RunnerFor adapts a Service into a scheduler.Runner, so cron firings call
// straight back into ExecuteDAG. The returned execution id lets an
// overlap-guarded Scheduler poll whether the prior firing is still running.
func RunnerFor(s *Service) func(ctx context.Context, dagID string) (string, error) {
	return func(ctx context.Context, dagID string) (string, error) {
		result, err := s.ExecuteDAG(ctx, dagID)
		if err != nil {
			s.logger.Error(ctx, "service: scheduled execution failed", "dag_id", dagID, "err", err)
			return "", err
		}
		return result.ExecutionID, nil
	}
}
