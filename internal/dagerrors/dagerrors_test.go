package dagerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorMessageFormatting(t *testing.T) {
	t.Parallel()

	plain := New(ExecutorDeadlock, "no ready tasks")
	require.Equal(t, "executor.deadlock: no ready tasks", plain.Error())

	cause := errors.New("boom")
	wrapped := Wrap(ExecutorToolError, "tool failed", cause)
	require.Equal(t, "executor.tool_error: tool failed: boom", wrapped.Error())
}

func TestErrorfFormatsMessage(t *testing.T) {
	t.Parallel()

	err := Errorf(PlannerResponseTooLarge, "response is %d bytes", 1024)
	require.Equal(t, "planner.response_too_large: response is 1024 bytes", err.Error())
}

func TestUnwrapAndErrorsIs(t *testing.T) {
	t.Parallel()

	cause := errors.New("root cause")
	wrapped := Wrap(RepositoryError, "write failed", cause)
	require.ErrorIs(t, wrapped, cause)
}

func TestIsMatchesByKind(t *testing.T) {
	t.Parallel()

	a := New(ExecutorDeadlock, "first")
	b := New(ExecutorDeadlock, "second")
	c := New(ExecutorCancelled, "third")

	require.True(t, errors.Is(a, b))
	require.False(t, errors.Is(a, c))
}

func TestKindOfExtractsKindThroughWrapping(t *testing.T) {
	t.Parallel()

	inner := New(SchedulerInvalidCron, "bad expression")
	outer := errors.New("context: " + inner.Error())
	_, ok := KindOf(outer)
	require.False(t, ok, "a plain wrapped string should not resolve a kind")

	kind, ok := KindOf(inner)
	require.True(t, ok)
	require.Equal(t, SchedulerInvalidCron, kind)

	viaFmt := Wrap(SchedulerInvalidCron, "retry", inner)
	kind, ok = KindOf(viaFmt)
	require.True(t, ok)
	require.Equal(t, SchedulerInvalidCron, kind)
}

func TestNilErrorIsSafe(t *testing.T) {
	t.Parallel()

	var e *Error
	require.Equal(t, "", e.Error())
	require.Nil(t, e.Unwrap())
}
