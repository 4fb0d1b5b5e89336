// Package planner drives a language-model planner through a bounded
// retry/refinement loop: plan, parse, validate, refine, until a validated
// Job is produced or attempts are exhausted.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dagrun/dagrun/internal/dagerrors"
	"github.com/dagrun/dagrun/internal/job"
	"github.com/dagrun/dagrun/internal/model"
	"github.com/dagrun/dagrun/internal/telemetry"
	"github.com/dagrun/dagrun/internal/tools"
)

// Outcome is the terminal result of a planning attempt sequence.
type Outcome string

const (
	OutcomeSuccessHighCoverage Outcome = "success_high_coverage"
	OutcomeSuccessLowCoverage  Outcome = "success_low_coverage"
	OutcomeClarificationReq    Outcome = "clarification_required"
	OutcomeFailed              Outcome = "failed"
)

const (
	// DefaultMaxAttempts is the bounded refinement loop's default attempt
	// budget.
	DefaultMaxAttempts = 3
	// DefaultMaxResponseBytes is the hard response-size limit a single
	// Chat call's content may not exceed.
	DefaultMaxResponseBytes = 100 * 1024
)

// Attempt records one iteration of the refinement loop, successful or not,
// for surfacing alongside the final outcome (planning usage/cost must be
// reported even for failed attempts).
type Attempt struct {
	Reason  string
	Usage   job.Usage
	CostUSD float64
	Err     error
}

// Request is the input to Plan: the goal text plus the agent configuration
// and any per-call overrides a create_dag request may supply.
type Request struct {
	GoalText        string
	Agent           job.Agent
	Model           string
	Temperature     *float64
	Seed            *int64
	MaxTokens       int
	ReasoningEffort string
}

// Result is the output of Plan.
type Result struct {
	Outcome            Outcome
	Job                job.Job
	Title              string
	PlanningUsage      job.Usage
	PlanningCostUSD    float64
	Attempts           []Attempt
	ClarificationQuery string
}

// Planner drives the bounded refinement loop against a Chat capability and
// a Tool Registry.
type Planner struct {
	chat        model.Client
	registry    *tools.Registry
	logger      telemetry.Logger
	metrics     telemetry.Metrics
	maxAttempts int
	maxRespSize int
	now         func() time.Time
}

// Option configures a Planner.
type Option func(*Planner)

// WithMaxAttempts overrides DefaultMaxAttempts.
func WithMaxAttempts(n int) Option { return func(p *Planner) { p.maxAttempts = n } }

// WithMaxResponseBytes overrides DefaultMaxResponseBytes.
func WithMaxResponseBytes(n int) Option { return func(p *Planner) { p.maxRespSize = n } }

// WithClock overrides the {{currentDate}} source; tests can pin a fixed time.
func WithClock(now func() time.Time) Option { return func(p *Planner) { p.now = now } }

// WithMetrics attaches a metrics recorder.
func WithMetrics(m telemetry.Metrics) Option { return func(p *Planner) { p.metrics = m } }

// New constructs a Planner.
func New(chat model.Client, registry *tools.Registry, logger telemetry.Logger, opts ...Option) *Planner {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	p := &Planner{
		chat:        chat,
		registry:    registry,
		logger:      logger,
		metrics:     telemetry.NewNoopMetrics(),
		maxAttempts: DefaultMaxAttempts,
		maxRespSize: DefaultMaxResponseBytes,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan runs the bounded refinement loop against req and returns the
// terminal Result. It never persists anything; callers (the create_dag
// orchestration) are responsible for persisting a successful Job.
func (p *Planner) Plan(ctx context.Context, req Request) (Result, error) {
	systemPrompt, err := RenderTemplate(req.Agent.SystemPromptTemplate, p.registry.Definitions(), p.now())
	if err != nil {
		return Result{}, err
	}
	userPrompt, err := RenderTemplate(req.GoalText, nil, p.now())
	if err != nil {
		return Result{}, err
	}

	result := Result{Outcome: OutcomeFailed}
	currentUserPrompt := userPrompt

	for attempt := 1; attempt <= p.effectiveMaxAttempts(); attempt++ {
		j, usage, cost, attemptErr := p.runAttempt(ctx, req, systemPrompt, currentUserPrompt)
		result.PlanningUsage = addUsage(result.PlanningUsage, usage)
		result.PlanningCostUSD += cost

		if attemptErr != nil {
			result.Attempts = append(result.Attempts, Attempt{Reason: attemptErr.Error(), Usage: usage, CostUSD: cost, Err: attemptErr})
			if kind, ok := dagerrors.KindOf(attemptErr); ok && kind == dagerrors.PlannerResponseTooLarge {
				// Fatal for this attempt only; still consumes the attempt
				// budget.
				continue
			}
			var pf *parseFailure
			switch {
			case errors.As(attemptErr, &pf):
				currentUserPrompt = BuildParseErrorPrompt(userPrompt, pf.diag)
			case isKind(attemptErr, dagerrors.PlannerSchemaMismatch):
				currentUserPrompt = BuildGapPrompt(userPrompt, []string{attemptErr.Error()})
			}
			continue
		}

		if j.ClarificationNeeded {
			result.Outcome = OutcomeClarificationReq
			result.ClarificationQuery = j.ClarificationQuery
			result.Job = j
			return result, nil
		}

		if j.Validation.Coverage == job.CoverageHigh {
			j = RenumberSubTasks(j)
			j.OriginalRequest = req.GoalText
			result.Outcome = OutcomeSuccessHighCoverage
			result.Job = j
			return result, nil
		}

		if len(j.Validation.Gaps) > 0 {
			result.Attempts = append(result.Attempts, Attempt{Reason: "coverage gaps reported", Usage: usage, CostUSD: cost})
			currentUserPrompt = BuildGapPrompt(userPrompt, j.Validation.Gaps)
			continue
		}

		// Low coverage with no gaps still counts as a success.
		j.OriginalRequest = req.GoalText
		result.Outcome = OutcomeSuccessLowCoverage
		result.Job = j
		return result, nil
	}

	result.Outcome = OutcomeFailed
	return result, dagerrors.New(dagerrors.PlannerExhausted, fmt.Sprintf("planner: exhausted %d attempts", p.effectiveMaxAttempts()))
}

func (p *Planner) effectiveMaxAttempts() int {
	if p.maxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return p.maxAttempts
}

// parseFailure wraps a JSON parse error together with its diagnostic
// context, so the main loop can feed it back into the retry prompt without
// re-parsing.
type parseFailure struct {
	cause error
	diag  ParseDiagnostic
}

func (e *parseFailure) Error() string { return e.cause.Error() }
func (e *parseFailure) Unwrap() error { return e.cause }

func isKind(err error, kind dagerrors.Kind) bool {
	k, ok := dagerrors.KindOf(err)
	return ok && k == kind
}

func (p *Planner) runAttempt(ctx context.Context, req Request, systemPrompt, userPrompt string) (job.Job, job.Usage, float64, error) {
	chatReq := model.Request{
		Model:           req.Model,
		MaxTokens:       req.MaxTokens,
		Seed:            req.Seed,
		ReasoningEffort: req.ReasoningEffort,
		Messages: []model.Message{
			{Role: model.RoleSystem, Content: systemPrompt},
			{Role: model.RoleUser, Content: userPrompt},
		},
	}
	if req.Temperature != nil {
		chatReq.Temperature = *req.Temperature
	}

	resp, err := p.chat.Chat(ctx, chatReq)
	if err != nil {
		return job.Job{}, job.Usage{}, 0, fmt.Errorf("planner: chat: %w", err)
	}
	usage := job.Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens, TotalTokens: resp.Usage.TotalTokens}

	if len(resp.Content) > p.maxRespSize {
		return job.Job{}, usage, resp.CostUSD, dagerrors.Errorf(dagerrors.PlannerResponseTooLarge,
			"response is %d bytes, exceeds limit of %d", len(resp.Content), p.maxRespSize)
	}

	jsonText, err := ExtractJSONBlock(resp.Content)
	if err != nil {
		return job.Job{}, usage, resp.CostUSD, dagerrors.Wrap(dagerrors.PlannerParseError, "no fenced json block", err)
	}

	var j job.Job
	if err := json.Unmarshal([]byte(jsonText), &j); err != nil {
		diag := DiagnoseParseError(jsonText, err)
		return job.Job{}, usage, resp.CostUSD, &parseFailure{
			cause: dagerrors.Wrap(dagerrors.PlannerParseError, "json parse failed", err),
			diag:  diag,
		}
	}

	if err := ValidateJob(j); err != nil {
		return job.Job{}, usage, resp.CostUSD, dagerrors.Wrap(dagerrors.PlannerSchemaMismatch, "job failed validation", err)
	}

	return j, usage, resp.CostUSD, nil
}

// GenerateTitle issues the secondary title-generation call against the
// distinguished title agent. Failure here is non-fatal: the caller simply
// leaves the title empty.
func (p *Planner) GenerateTitle(ctx context.Context, titleAgent job.Agent, goalText string) (string, job.Usage, float64) {
	systemPrompt, err := RenderTemplate(titleAgent.SystemPromptTemplate, p.registry.Definitions(), p.now())
	if err != nil {
		p.logger.Warn(ctx, "planner: title prompt render failed", "err", err)
		return "", job.Usage{}, 0
	}
	resp, err := p.chat.Chat(ctx, model.Request{
		Model:       titleAgent.DefaultModel,
		Temperature: titleAgent.DefaultTemperature,
		MaxTokens:   titleAgent.DefaultMaxTokens,
		Messages: []model.Message{
			{Role: model.RoleSystem, Content: systemPrompt},
			{Role: model.RoleUser, Content: goalText},
		},
	})
	if err != nil {
		p.logger.Warn(ctx, "planner: title generation failed", "err", err)
		return "", job.Usage{}, 0
	}
	usage := job.Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens, TotalTokens: resp.Usage.TotalTokens}
	return resp.Content, usage, resp.CostUSD
}

func addUsage(a, b job.Usage) job.Usage {
	return job.Usage{
		InputTokens:  a.InputTokens + b.InputTokens,
		OutputTokens: a.OutputTokens + b.OutputTokens,
		TotalTokens:  a.TotalTokens + b.TotalTokens,
	}
}
