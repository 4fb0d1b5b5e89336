package planner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dagrun/dagrun/internal/job"
)

func TestRenumberSubTasksAssignsDenseSequence(t *testing.T) {
	t.Parallel()

	j := job.Job{SubTasks: []job.SubTask{
		{ID: "task-a", Dependencies: job.NoDependencies},
		{ID: "task-b", Dependencies: []string{"task-a"}},
		{ID: "task-c", Dependencies: []string{"task-a", "task-b"}},
	}}

	out := RenumberSubTasks(j)
	require.Equal(t, "1", out.SubTasks[0].ID)
	require.Equal(t, "2", out.SubTasks[1].ID)
	require.Equal(t, "3", out.SubTasks[2].ID)
	require.Equal(t, []string{"1"}, out.SubTasks[1].Dependencies)
	require.Equal(t, []string{"1", "2"}, out.SubTasks[2].Dependencies)
}

func TestRenumberSubTasksPreservesNoneSentinel(t *testing.T) {
	t.Parallel()

	j := job.Job{SubTasks: []job.SubTask{
		{ID: "x", Dependencies: job.NoDependencies},
	}}
	out := RenumberSubTasks(j)
	require.Equal(t, []string{"none"}, out.SubTasks[0].Dependencies)
}

func TestRenumberSubTasksDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	j := job.Job{SubTasks: []job.SubTask{
		{ID: "task-a", Dependencies: job.NoDependencies},
	}}
	_ = RenumberSubTasks(j)
	require.Equal(t, "task-a", j.SubTasks[0].ID)
}
