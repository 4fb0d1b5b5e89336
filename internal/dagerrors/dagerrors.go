// Package dagerrors provides the error taxonomy shared by the planner,
// executor, and scheduler. Error carries a design "kind" alongside a
// message and an optional cause, and preserves error chains so callers can
// use errors.Is/errors.As instead of matching on strings.
package dagerrors

import (
	"errors"
	"fmt"
)

// Kind is one of the design-level error kinds from the error taxonomy.
type Kind string

const (
	PlannerResponseTooLarge      Kind = "planner.response_too_large"
	PlannerParseError            Kind = "planner.parse_error"
	PlannerSchemaMismatch        Kind = "planner.schema_mismatch"
	PlannerClarificationRequired Kind = "planner.clarification_required"
	PlannerExhausted             Kind = "planner.exhausted"

	ExecutorToolNotFound    Kind = "executor.tool_not_found"
	ExecutorInputInvalid    Kind = "executor.input_invalid"
	ExecutorToolError       Kind = "executor.tool_error"
	ExecutorBlocked         Kind = "executor.blocked"
	ExecutorDeadlock        Kind = "executor.deadlock"
	ExecutorCancelled       Kind = "executor.cancelled"
	ExecutorSynthesisError  Kind = "executor.synthesis_error"

	SchedulerInvalidCron Kind = "scheduler.invalid_cron"

	RepositoryError Kind = "repository.error"
)

// Error is a chainable, kind-tagged error. A nil *Error is safe to call
// Error()/Unwrap() on.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New constructs an Error with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Errorf constructs an Error with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an existing error, preserving it as
// the cause for errors.Is/errors.As.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the cause, enabling errors.Is/errors.As chains.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is a *Error with the same Kind, letting callers
// write errors.Is(err, dagerrors.New(ExecutorDeadlock, "")).
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// KindOf extracts the Kind from err if it is (or wraps) a *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
