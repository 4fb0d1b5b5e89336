// Package job defines the planning and execution data model: the artifact
// the planner produces (Job, SubTask), the durable record of a plan (DAG),
// and the per-run bookkeeping (Execution, SubStep).
package job

import "time"

// ActionType distinguishes a tool invocation from a free-form inference step.
type ActionType string

const (
	ActionTool      ActionType = "tool"
	ActionInference ActionType = "inference"
)

// Coverage is the planner's self-assessed confidence that the plan answers
// the goal.
type Coverage string

const (
	CoverageLow    Coverage = "low"
	CoverageMedium Coverage = "medium"
	CoverageHigh   Coverage = "high"
)

// NoDependencies is the sentinel dependency list meaning "no prerequisites".
var NoDependencies = []string{"none"}

// Intent captures the primary goal and any secondary goals the planner
// identified in the request text.
type Intent struct {
	Primary     string   `json:"primary"`
	SubIntents  []string `json:"sub_intents,omitempty"`
}

// Entity is a grounded value the planner extracted from the goal text.
type Entity struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	GroundedValue string `json:"grounded_value"`
}

// ToolOrPrompt names the action a SubTask performs: a registered tool name
// for ActionTool, or a prompt identifier for ActionInference.
type ToolOrPrompt struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// SubTask is a single node of the planned DAG.
type SubTask struct {
	ID             string       `json:"id"`
	Description    string       `json:"description"`
	Thought        string       `json:"thought"`
	ExpectedOutput string       `json:"expected_output"`
	ActionType     ActionType   `json:"action_type"`
	ToolOrPrompt   ToolOrPrompt `json:"tool_or_prompt"`
	Dependencies   []string     `json:"dependencies"`
}

// HasNoDependencies reports whether the sub-task's dependency list is the
// "none" sentinel.
func (t SubTask) HasNoDependencies() bool {
	return len(t.Dependencies) == 1 && t.Dependencies[0] == "none"
}

// Validation is the planner's self-reported confidence and any gaps found
// during refinement.
type Validation struct {
	Coverage          Coverage `json:"coverage"`
	Gaps              []string `json:"gaps,omitempty"`
	IterationTriggers []string `json:"iteration_triggers,omitempty"`
}

// Job is the planner's output: an immutable (once persisted) description of
// the DAG to execute.
type Job struct {
	OriginalRequest     string     `json:"original_request"`
	Intent              Intent     `json:"intent"`
	Entities            []Entity   `json:"entities,omitempty"`
	SubTasks            []SubTask  `json:"sub_tasks"`
	SynthesisPlan       string     `json:"synthesis_plan"`
	Validation          Validation `json:"validation"`
	ClarificationNeeded bool       `json:"clarification_needed"`
	ClarificationQuery  string     `json:"clarification_query,omitempty"`
}

// SubTaskByID returns the sub-task with the given id, if present.
func (j Job) SubTaskByID(id string) (SubTask, bool) {
	for _, t := range j.SubTasks {
		if t.ID == id {
			return t, true
		}
	}
	return SubTask{}, false
}

// Usage records token accounting for a single LM call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// PlanStatus is the terminal outcome of a planning attempt sequence.
type PlanStatus string

const (
	PlanStatusSuccess PlanStatus = "success"
	PlanStatusFailure PlanStatus = "failure"
)

// DAG is the persisted planning artifact: a validated Job plus scheduling
// metadata and accounting.
type DAG struct {
	ID             string     `json:"id"`
	Status         PlanStatus `json:"status"`
	Job            Job        `json:"job"`
	PlanningUsage  Usage      `json:"planning_usage"`
	PlanningCostUSD float64   `json:"planning_cost_usd"`
	Attempts       int        `json:"attempts"`
	AgentName      string     `json:"agent_name"`
	CronSchedule   string     `json:"cron_schedule,omitempty"`
	ScheduleActive bool       `json:"schedule_active"`
	Timezone       string     `json:"timezone,omitempty"`
	DAGTitle       string     `json:"dag_title,omitempty"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	Params         map[string]any `json:"params,omitempty"`
}

// ExecStatus is the coarse-grained lifecycle state of an Execution.
type ExecStatus string

const (
	ExecPending   ExecStatus = "pending"
	ExecRunning   ExecStatus = "running"
	ExecWaiting   ExecStatus = "waiting"
	ExecCompleted ExecStatus = "completed"
	ExecPartial   ExecStatus = "partial"
	ExecFailed    ExecStatus = "failed"
	ExecSuspended ExecStatus = "suspended"
)

// IsTerminal reports whether the status is one of the four terminal states.
func (s ExecStatus) IsTerminal() bool {
	switch s {
	case ExecCompleted, ExecPartial, ExecFailed, ExecSuspended:
		return true
	default:
		return false
	}
}

// Execution is a single run-through of a DAG's Job.
type Execution struct {
	ID              string     `json:"id"`
	DAGID           string     `json:"dag_id"`
	OriginalRequest string     `json:"original_request"`
	PrimaryIntent   string     `json:"primary_intent"`
	Status          ExecStatus `json:"status"`

	TotalTasks     int `json:"total_tasks"`
	CompletedTasks int `json:"completed_tasks"`
	FailedTasks    int `json:"failed_tasks"`
	WaitingTasks   int `json:"waiting_tasks"`

	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	DurationMS     int64      `json:"duration_ms"`
	FinalResult    string     `json:"final_result,omitempty"`
	SynthesisResult string    `json:"synthesis_result,omitempty"`

	SuspendedReason string     `json:"suspended_reason,omitempty"`
	SuspendedAt     *time.Time `json:"suspended_at,omitempty"`
	RetryCount      int        `json:"retry_count"`
	LastRetryAt     *time.Time `json:"last_retry_at,omitempty"`
}

// CountersValid checks the Execution invariant from the data model: the sum
// of terminal/pending counters never exceeds the total.
func (e Execution) CountersValid() bool {
	return e.CompletedTasks+e.FailedTasks+e.WaitingTasks <= e.TotalTasks
}

// SubStepStatus is the lifecycle state of one SubTask within one Execution.
type SubStepStatus string

const (
	SubStepPending SubStepStatus = "pending"
	SubStepRunning SubStepStatus = "running"
	SubStepCompleted SubStepStatus = "completed"
	SubStepFailed  SubStepStatus = "failed"
	SubStepBlocked SubStepStatus = "blocked"
	SubStepWaiting SubStepStatus = "waiting"
)

// IsTerminal reports whether the sub-step status is write-once terminal.
func (s SubStepStatus) IsTerminal() bool {
	return s == SubStepCompleted || s == SubStepFailed
}

// SubStep is the persisted record of one SubTask within one Execution.
type SubStep struct {
	ID          string        `json:"id"`
	ExecutionID string        `json:"execution_id"`
	TaskID      string        `json:"task_id"`

	Description    string     `json:"description"`
	Thought        string     `json:"thought"`
	ExpectedOutput string     `json:"expected_output"`
	ActionType     ActionType `json:"action_type"`

	Status     SubStepStatus `json:"status"`
	Result     any           `json:"result,omitempty"`
	Error      string        `json:"error,omitempty"`
	DurationMS int64         `json:"duration_ms"`
	Usage      Usage         `json:"usage"`
	CostUSD    float64       `json:"cost_usd"`
}

// Agent describes a named planner configuration: its prompt template and
// default model parameters.
type Agent struct {
	Name                   string  `json:"name"`
	SystemPromptTemplate   string  `json:"system_prompt_template"`
	DefaultModel           string  `json:"default_model"`
	DefaultTemperature     float64 `json:"default_temperature"`
	DefaultMaxTokens       int     `json:"default_max_tokens"`
	DefaultSeed            *int64  `json:"default_seed,omitempty"`
	DefaultReasoningEffort string  `json:"default_reasoning_effort,omitempty"`
	IsTitleAgent           bool    `json:"is_title_agent"`
}
