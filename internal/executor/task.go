package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dagrun/dagrun/internal/bus"
	"github.com/dagrun/dagrun/internal/dagerrors"
	"github.com/dagrun/dagrun/internal/job"
	"github.com/dagrun/dagrun/internal/model"
	"github.com/dagrun/dagrun/internal/resolver"
	"github.com/dagrun/dagrun/internal/tools"
)

// runTask executes a single SubTask to completion (success or failure),
// persisting the SubStep transitions and emitting substep.started /
// substep.completed|failed in order. A task whose params still reference a
// result that never materialized is marked blocked rather than failed, but
// counts against the wave's failure tally either way.
func (e *Executor) runTask(ctx context.Context, executionID string, t job.SubTask, step job.SubStep, results map[string]any) taskOutcome {
	step.Status = job.SubStepRunning
	if err := e.repo.UpdateSubStep(ctx, step); err != nil {
		e.logger.Warn(ctx, "executor: persist substep running failed", "task_id", t.ID, "err", err)
	}
	e.bus.Publish(ctx, bus.NewSubStepStartedEvent(executionID, t.ID, step.ID))

	start := e.now()
	var (
		result any
		usage  job.Usage
		cost   float64
		err    error
	)
	switch t.ActionType {
	case job.ActionTool:
		result, err = e.runTool(ctx, executionID, t, results)
	case job.ActionInference:
		result, usage, cost, err = e.runInference(ctx, t, results)
	default:
		err = dagerrors.Errorf(dagerrors.ExecutorToolNotFound, "unknown action_type %q", t.ActionType)
	}
	durationMS := e.now().Sub(start).Milliseconds()

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			err = dagerrors.Wrap(dagerrors.ExecutorCancelled, "execution cancelled", err)
		}
		step.Status = job.SubStepFailed
		if kind, ok := dagerrors.KindOf(err); ok && kind == dagerrors.ExecutorBlocked {
			step.Status = job.SubStepBlocked
		}
		step.Error = err.Error()
		step.DurationMS = durationMS
		if uErr := e.repo.UpdateSubStep(ctx, step); uErr != nil {
			e.logger.Warn(ctx, "executor: persist substep failure failed", "task_id", t.ID, "err", uErr)
		}
		e.bus.Publish(ctx, bus.NewSubStepFailedEvent(executionID, t.ID, step.ID, durationMS, err.Error()))
		return taskOutcome{taskID: t.ID, err: err}
	}

	step.Status = job.SubStepCompleted
	step.Result = result
	step.DurationMS = durationMS
	step.Usage = usage
	step.CostUSD = cost
	if err := e.repo.UpdateSubStep(ctx, step); err != nil {
		e.logger.Warn(ctx, "executor: persist substep completion failed", "task_id", t.ID, "err", err)
	}
	e.bus.Publish(ctx, bus.NewSubStepCompletedEvent(executionID, t.ID, step.ID, durationMS, result))
	return taskOutcome{taskID: t.ID, result: result}
}

func (e *Executor) runTool(ctx context.Context, executionID string, t job.SubTask, results map[string]any) (any, error) {
	tool, err := e.registry.Get(t.ToolOrPrompt.Name)
	if err != nil {
		return nil, dagerrors.Errorf(dagerrors.ExecutorToolNotFound, "tool %q not registered", t.ToolOrPrompt.Name)
	}

	if missing := resolver.MissingReferences(t.ToolOrPrompt.Params, results); len(missing) > 0 {
		return nil, dagerrors.Errorf(dagerrors.ExecutorBlocked, "params reference results of unexecuted tasks %v", missing)
	}
	resolved := resolver.Resolve(t.ToolOrPrompt.Name, t.ToolOrPrompt.Params, results)
	if schema := tool.InputSchema(); schema != nil {
		if err := schema.Validate(resolved); err != nil {
			return nil, dagerrors.Wrap(dagerrors.ExecutorInputInvalid, "resolved input failed schema validation", err)
		}
	}

	ec := tools.ExecContext{
		Context:     ctx,
		ExecutionID: executionID,
		TaskID:      t.ID,
		Progress: func(message string, data any) {
			e.bus.Publish(ctx, bus.NewToolProgressEvent(executionID, t.ID, message, data))
		},
	}
	result, err := tool.Execute(ec, resolved)
	if err != nil {
		return nil, dagerrors.Wrap(dagerrors.ExecutorToolError, fmt.Sprintf("tool %q failed", t.ToolOrPrompt.Name), err)
	}
	e.bus.Publish(ctx, bus.NewToolCompletedEvent(executionID, t.ID, result))
	return result, nil
}

func (e *Executor) runInference(ctx context.Context, t job.SubTask, results map[string]any) (any, job.Usage, float64, error) {
	if missing := resolver.MissingReferences(t.ToolOrPrompt.Params, results); len(missing) > 0 {
		return nil, job.Usage{}, 0, dagerrors.Errorf(dagerrors.ExecutorBlocked, "prompt references results of unexecuted tasks %v", missing)
	}
	resolved := resolver.Resolve(t.ToolOrPrompt.Name, t.ToolOrPrompt.Params, results)
	prompt := promptText(resolved, t)
	contextBlock := buildDependencyContext(t.Dependencies, results)
	if contextBlock != "" {
		prompt = prompt + "\n\n" + contextBlock
	}

	resp, err := e.chat.Chat(ctx, model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Content: prompt}},
	})
	if err != nil {
		return nil, job.Usage{}, 0, dagerrors.Wrap(dagerrors.ExecutorToolError, "inference call failed", err)
	}
	usage := job.Usage{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
	return resp.Content, usage, resp.CostUSD, nil
}

func promptText(resolved map[string]any, t job.SubTask) string {
	if p, ok := resolved["prompt"].(string); ok && p != "" {
		return p
	}
	return t.Description
}

// buildDependencyContext composes the context block appended to an
// inference prompt: every dependency's prior result, stringified as JSON
// when not a string, joined by blank lines.
func buildDependencyContext(dependencies []string, results map[string]any) string {
	if len(dependencies) == 1 && dependencies[0] == "none" {
		return ""
	}
	var blocks []string
	for _, dep := range dependencies {
		result, ok := results[dep]
		if !ok {
			continue
		}
		blocks = append(blocks, fmt.Sprintf("Result from Task %s:\n%s", dep, stringifyResult(result)))
	}
	return strings.Join(blocks, "\n\n")
}

func stringifyResult(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// synthesize issues the final Chat call folding every task_id -> result
// pair into the job's synthesis_plan, and derives the terminal status.
func (e *Executor) synthesize(ctx context.Context, j job.Job, exec job.Execution, taskResults map[string]any) (job.Execution, error) {
	contextBlock := buildSynthesisContext(j.SubTasks, taskResults)
	prompt := j.SynthesisPlan
	if contextBlock != "" {
		prompt = prompt + "\n\n" + contextBlock
	}

	resp, err := e.chat.Chat(ctx, model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Content: prompt}},
	})

	now := e.now()
	exec.CompletedAt = &now
	exec.DurationMS = now.Sub(exec.StartedAt).Milliseconds()

	if err != nil {
		exec.Status = job.ExecPartial
		exec.SuspendedReason = fmt.Sprintf("synthesis failed: %v", dagerrors.Wrap(dagerrors.ExecutorSynthesisError, "synthesis call failed", err))
	} else {
		exec.SynthesisResult = resp.Content
		exec.FinalResult = resp.Content
		if exec.FailedTasks > 0 {
			exec.Status = job.ExecPartial
		} else {
			exec.Status = job.ExecCompleted
		}
	}

	if perr := e.persistExecution(ctx, &exec); perr != nil {
		return exec, perr
	}
	e.bus.Publish(ctx, bus.NewExecutionCompletedEvent(exec.ID, exec.FinalResult))
	return exec, nil
}

// buildSynthesisContext lists every completed task's result, in Job order,
// as "Task <id>: <value>" lines separated by blank lines.
func buildSynthesisContext(subTasks []job.SubTask, taskResults map[string]any) string {
	ids := make([]string, 0, len(taskResults))
	for _, t := range subTasks {
		if _, ok := taskResults[t.ID]; ok {
			ids = append(ids, t.ID)
		}
	}
	var blocks []string
	for _, id := range ids {
		blocks = append(blocks, fmt.Sprintf("Task %s: %s", id, stringifyResult(taskResults[id])))
	}
	return strings.Join(blocks, "\n\n")
}
