package planner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dagrun/dagrun/internal/job"
)

func validTask(id string, deps ...string) job.SubTask {
	if len(deps) == 0 {
		deps = job.NoDependencies
	}
	return job.SubTask{
		ID:           id,
		ActionType:   job.ActionTool,
		ToolOrPrompt: job.ToolOrPrompt{Name: "fetchURLs"},
		Dependencies: deps,
	}
}

func TestValidateJobAcceptsWellFormedPlan(t *testing.T) {
	t.Parallel()

	j := job.Job{SubTasks: []job.SubTask{
		validTask("1"),
		validTask("2", "1"),
	}}
	require.NoError(t, ValidateJob(j))
}

func TestValidateJobClarificationRequiresQuery(t *testing.T) {
	t.Parallel()

	err := ValidateJob(job.Job{ClarificationNeeded: true})
	require.Error(t, err)

	err = ValidateJob(job.Job{ClarificationNeeded: true, ClarificationQuery: "what city?"})
	require.NoError(t, err)
}

func TestValidateJobRejectsEmptySubTasks(t *testing.T) {
	t.Parallel()

	err := ValidateJob(job.Job{})
	require.Error(t, err)
}

func TestValidateJobRejectsDuplicateIDs(t *testing.T) {
	t.Parallel()

	j := job.Job{SubTasks: []job.SubTask{validTask("1"), validTask("1")}}
	require.Error(t, ValidateJob(j))
}

func TestValidateJobRejectsInvalidActionType(t *testing.T) {
	t.Parallel()

	task := validTask("1")
	task.ActionType = "bogus"
	require.Error(t, ValidateJob(job.Job{SubTasks: []job.SubTask{task}}))
}

func TestValidateJobRejectsEmptyToolName(t *testing.T) {
	t.Parallel()

	task := validTask("1")
	task.ToolOrPrompt.Name = ""
	require.Error(t, ValidateJob(job.Job{SubTasks: []job.SubTask{task}}))
}

func TestValidateJobRejectsEmptyDependencies(t *testing.T) {
	t.Parallel()

	task := validTask("1")
	task.Dependencies = nil
	require.Error(t, ValidateJob(job.Job{SubTasks: []job.SubTask{task}}))
}

func TestValidateJobRejectsUnknownDependency(t *testing.T) {
	t.Parallel()

	j := job.Job{SubTasks: []job.SubTask{validTask("1", "99")}}
	require.Error(t, ValidateJob(j))
}

func TestValidateJobRejectsDependencyCycle(t *testing.T) {
	t.Parallel()

	j := job.Job{SubTasks: []job.SubTask{
		validTask("1", "2"),
		validTask("2", "1"),
	}}
	require.Error(t, ValidateJob(j))
}

func TestValidateJobRejectsSelfDependency(t *testing.T) {
	t.Parallel()

	j := job.Job{SubTasks: []job.SubTask{validTask("1", "1")}}
	require.Error(t, ValidateJob(j))
}
