package sqlstore

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dagrun/dagrun/internal/job"
	"github.com/dagrun/dagrun/internal/repository"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "dagrun_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleDAG(id string) job.DAG {
	return job.DAG{
		ID:     id,
		Status: job.PlanStatusSuccess,
		Job: job.Job{
			OriginalRequest: "find recent astronomy news",
			Intent:          job.Intent{Primary: "research", SubIntents: []string{"news"}},
			Entities:        []job.Entity{{Name: "topic", Type: "subject", GroundedValue: "astronomy"}},
			SubTasks: []job.SubTask{
				{
					ID:           "1",
					Description:  "search",
					ActionType:   job.ActionTool,
					ToolOrPrompt: job.ToolOrPrompt{Name: "webSearch", Params: map[string]any{"query": "astronomy news"}},
					Dependencies: job.NoDependencies,
				},
				{
					ID:           "2",
					Description:  "summarise",
					ActionType:   job.ActionInference,
					ToolOrPrompt: job.ToolOrPrompt{Name: "summarize", Params: map[string]any{"prompt": "summarise <Results from Task 1>"}},
					Dependencies: []string{"1"},
				},
			},
			SynthesisPlan: "write a digest",
			Validation:    job.Validation{Coverage: job.CoverageHigh},
		},
		PlanningUsage:   job.Usage{InputTokens: 100, OutputTokens: 50, TotalTokens: 150},
		PlanningCostUSD: 0.0123,
		Attempts:        1,
		AgentName:       "researcher",
		CreatedAt:       time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC),
		Params:          map[string]any{"goal_text": "find recent astronomy news"},
	}
}

func TestDAGRoundTripPreservesJob(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	in := sampleDAG("dag-1")
	require.NoError(t, store.InsertDAG(ctx, in))

	out, err := store.GetDAG(ctx, "dag-1")
	require.NoError(t, err)
	require.Equal(t, in.Status, out.Status)
	require.Equal(t, in.AgentName, out.AgentName)
	require.Equal(t, in.PlanningUsage, out.PlanningUsage)
	require.Equal(t, in.PlanningCostUSD, out.PlanningCostUSD)
	require.Equal(t, in.Params["goal_text"], out.Params["goal_text"])

	// The Job deserialises to JSON equivalent to what was stored.
	wantJSON, err := json.Marshal(in.Job)
	require.NoError(t, err)
	gotJSON, err := json.Marshal(out.Job)
	require.NoError(t, err)
	require.JSONEq(t, string(wantJSON), string(gotJSON))
	require.Equal(t, "find recent astronomy news", out.Job.OriginalRequest)
}

func TestGetDAGMissingReturnsErrNotFound(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	_, err := store.GetDAG(context.Background(), "nope")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestUpdateDAGScheduleAndLastRun(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertDAG(ctx, sampleDAG("dag-1")))

	require.NoError(t, store.UpdateDAGSchedule(ctx, "dag-1", "0 6 * * *", true, "Europe/Paris"))
	at := time.Date(2026, 7, 2, 6, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpdateDAGLastRun(ctx, "dag-1", at))

	out, err := store.GetDAG(ctx, "dag-1")
	require.NoError(t, err)
	require.Equal(t, "0 6 * * *", out.CronSchedule)
	require.True(t, out.ScheduleActive)
	require.Equal(t, "Europe/Paris", out.Timezone)
	require.NotNil(t, out.LastRunAt)
	require.True(t, out.LastRunAt.Equal(at))

	require.ErrorIs(t, store.UpdateDAGSchedule(ctx, "absent", "* * * * *", true, "UTC"), repository.ErrNotFound)
}

func TestListScheduledDAGsOnlyReturnsActive(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	active := sampleDAG("dag-a")
	active.CronSchedule = "*/5 * * * *"
	active.ScheduleActive = true
	inactive := sampleDAG("dag-b")
	require.NoError(t, store.InsertDAG(ctx, active))
	require.NoError(t, store.InsertDAG(ctx, inactive))

	out, err := store.ListScheduledDAGs(ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "dag-a", out[0].ID)
	require.Equal(t, "*/5 * * * *", out[0].CronSchedule)
}

func TestExecutionAndSubStepRoundTrip(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertDAG(ctx, sampleDAG("dag-1")))

	started := time.Date(2026, 7, 1, 13, 0, 0, 0, time.UTC)
	exec := job.Execution{
		ID:              "exec-1",
		DAGID:           "dag-1",
		OriginalRequest: "find recent astronomy news",
		PrimaryIntent:   "research",
		Status:          job.ExecPending,
		TotalTasks:      2,
		WaitingTasks:    2,
		StartedAt:       started,
	}
	steps := []job.SubStep{
		{ID: "step-2", ExecutionID: "exec-1", TaskID: "2", ActionType: job.ActionInference, Status: job.SubStepPending},
		{ID: "step-1", ExecutionID: "exec-1", TaskID: "1", ActionType: job.ActionTool, Status: job.SubStepPending},
	}
	require.NoError(t, store.CreateExecution(ctx, exec, steps))

	gotExec, gotSteps, err := store.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	require.Equal(t, job.ExecPending, gotExec.Status)
	require.Equal(t, 2, gotExec.TotalTasks)
	require.True(t, gotExec.StartedAt.Equal(started))

	// Steps come back ordered by task_id regardless of insert order.
	require.Len(t, gotSteps, 2)
	require.Equal(t, "1", gotSteps[0].TaskID)
	require.Equal(t, "2", gotSteps[1].TaskID)

	// Drive one step through completion and the execution to terminal.
	gotSteps[0].Status = job.SubStepCompleted
	gotSteps[0].Result = map[string]any{"headline": "supernova spotted"}
	gotSteps[0].DurationMS = 42
	gotSteps[0].Usage = job.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}
	gotSteps[0].CostUSD = 0.001
	require.NoError(t, store.UpdateSubStep(ctx, gotSteps[0]))

	completedAt := started.Add(time.Minute)
	gotExec.Status = job.ExecCompleted
	gotExec.CompletedTasks = 2
	gotExec.WaitingTasks = 0
	gotExec.CompletedAt = &completedAt
	gotExec.DurationMS = 60000
	gotExec.FinalResult = "# Digest"
	gotExec.SynthesisResult = "# Digest"
	require.NoError(t, store.UpdateExecution(ctx, gotExec))

	finalExec, finalSteps, err := store.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	require.Equal(t, job.ExecCompleted, finalExec.Status)
	require.Equal(t, "# Digest", finalExec.FinalResult)
	require.NotNil(t, finalExec.CompletedAt)
	require.Equal(t, job.SubStepCompleted, finalSteps[0].Status)
	require.Equal(t, map[string]any{"headline": "supernova spotted"}, finalSteps[0].Result)
	require.Equal(t, int64(42), finalSteps[0].DurationMS)
	require.Equal(t, job.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}, finalSteps[0].Usage)
}

func TestGetExecutionMissingReturnsErrNotFound(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	_, _, err := store.GetExecution(context.Background(), "nope")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestUpdateSubStepMissingReturnsErrNotFound(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	err := store.UpdateSubStep(context.Background(), job.SubStep{ID: "ghost", Status: job.SubStepCompleted})
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestAgentUpsertRoundTrip(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	seed := int64(7)
	agent := job.Agent{
		Name:                   "researcher",
		SystemPromptTemplate:   "You plan research. Tools: {{tools}}.",
		DefaultModel:           "test-model",
		DefaultTemperature:     0.2,
		DefaultMaxTokens:       4096,
		DefaultSeed:            &seed,
		DefaultReasoningEffort: "medium",
	}
	require.NoError(t, store.PutAgent(ctx, agent))

	got, err := store.GetAgent(ctx, "researcher")
	require.NoError(t, err)
	require.Equal(t, agent, got)

	// Upsert replaces in place.
	agent.DefaultModel = "newer-model"
	agent.IsTitleAgent = true
	require.NoError(t, store.PutAgent(ctx, agent))
	got, err = store.GetAgent(ctx, "researcher")
	require.NoError(t, err)
	require.Equal(t, "newer-model", got.DefaultModel)
	require.True(t, got.IsTitleAgent)

	_, err = store.GetAgent(ctx, "absent")
	require.ErrorIs(t, err, repository.ErrNotFound)
}
