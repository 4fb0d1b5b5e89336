// Package bus implements a process-wide typed pub/sub of execution lifecycle
// events. There is a single logical topic ("dag:event"); subscribers filter
// on execution id themselves. Subscribers are invoked synchronously on the
// emitter's goroutine but are isolated from one another: a subscriber that
// panics or errors is logged and skipped, never blocking its peers.
//
// Typical usage:
//
//	b := bus.New(logger)
//	sub := bus.SubscriberFunc(func(ctx context.Context, evt bus.Event) error {
//	    if evt.ExecutionID() == wantedID {
//	        fmt.Println(evt.Type())
//	    }
//	    return nil
//	})
//	subscription := b.Subscribe(sub)
//	defer subscription.Close()
//
//	b.Publish(ctx, bus.NewExecutionUpdatedEvent(execID, status, total, completed, failed, waiting))
package bus

import (
	"context"
	"sync"

	"github.com/dagrun/dagrun/internal/telemetry"
)

// Type enumerates the tagged event variants emitted on the bus.
type Type string

const (
	ExecutionCreated   Type = "execution.created"
	ExecutionUpdated   Type = "execution.updated"
	ExecutionCompleted Type = "execution.completed"
	ExecutionFailed    Type = "execution.failed"
	ExecutionSuspended Type = "execution.suspended"
	SubStepStarted     Type = "substep.started"
	SubStepCompleted   Type = "substep.completed"
	SubStepFailed      Type = "substep.failed"
	Heartbeat          Type = "heartbeat"
	ToolProgress       Type = "tool.progress"
	ToolCompleted      Type = "tool.completed"
)

// Event is satisfied by every concrete event variant.
type Event interface {
	Type() Type
	ExecutionID() string
	TimestampMS() int64
}

type base struct {
	typ         Type
	executionID string
	timestampMS int64
}

func (b base) Type() Type          { return b.typ }
func (b base) ExecutionID() string { return b.executionID }
func (b base) TimestampMS() int64  { return b.timestampMS }

func newBase(typ Type, executionID string, now func() int64) base {
	return base{typ: typ, executionID: executionID, timestampMS: now()}
}

// ExecutionUpdatedEvent carries fresh progress counters for an execution.
type ExecutionUpdatedEvent struct {
	base
	Status         string
	TotalTasks     int
	CompletedTasks int
	FailedTasks    int
	WaitingTasks   int
}

// ExecutionTerminalEvent covers completed/failed/suspended, which share a
// shape: an optional error/reason string and the final result when present.
type ExecutionTerminalEvent struct {
	base
	Reason      string
	FinalResult string
}

// SubStepEvent covers started/completed/failed for a single sub-step.
type SubStepEvent struct {
	base
	TaskID     string
	SubStepID  string
	DurationMS int64
	Result     any
	Error      string
}

// ToolEvent covers tool.progress and tool.completed, emitted by tool
// implementations through the context they're invoked with.
type ToolEvent struct {
	base
	TaskID  string
	Message string
	Data    any
}

// HeartbeatEvent is emitted by the transport layer, not the core, but is
// declared here so subscribers have one event type to switch on.
type HeartbeatEvent struct{ base }

// NowMS returns the current time in Unix milliseconds. Declared as a var so
// tests can stub it for deterministic timestamps.
var NowMS = func() int64 { return unixMilliNow() }

func NewExecutionCreatedEvent(executionID string) ExecutionTerminalEvent {
	return ExecutionTerminalEvent{base: newBase(ExecutionCreated, executionID, NowMS)}
}

func NewExecutionUpdatedEvent(executionID, status string, total, completed, failed, waiting int) ExecutionUpdatedEvent {
	return ExecutionUpdatedEvent{
		base:           newBase(ExecutionUpdated, executionID, NowMS),
		Status:         status,
		TotalTasks:     total,
		CompletedTasks: completed,
		FailedTasks:    failed,
		WaitingTasks:   waiting,
	}
}

func NewExecutionCompletedEvent(executionID, finalResult string) ExecutionTerminalEvent {
	return ExecutionTerminalEvent{base: newBase(ExecutionCompleted, executionID, NowMS), FinalResult: finalResult}
}

func NewExecutionFailedEvent(executionID, reason string) ExecutionTerminalEvent {
	return ExecutionTerminalEvent{base: newBase(ExecutionFailed, executionID, NowMS), Reason: reason}
}

func NewExecutionSuspendedEvent(executionID, reason string) ExecutionTerminalEvent {
	return ExecutionTerminalEvent{base: newBase(ExecutionSuspended, executionID, NowMS), Reason: reason}
}

func NewSubStepStartedEvent(executionID, taskID, subStepID string) SubStepEvent {
	return SubStepEvent{base: newBase(SubStepStarted, executionID, NowMS), TaskID: taskID, SubStepID: subStepID}
}

func NewSubStepCompletedEvent(executionID, taskID, subStepID string, durationMS int64, result any) SubStepEvent {
	return SubStepEvent{
		base:       newBase(SubStepCompleted, executionID, NowMS),
		TaskID:     taskID,
		SubStepID:  subStepID,
		DurationMS: durationMS,
		Result:     result,
	}
}

func NewSubStepFailedEvent(executionID, taskID, subStepID string, durationMS int64, errMsg string) SubStepEvent {
	return SubStepEvent{
		base:       newBase(SubStepFailed, executionID, NowMS),
		TaskID:     taskID,
		SubStepID:  subStepID,
		DurationMS: durationMS,
		Error:      errMsg,
	}
}

func NewToolProgressEvent(executionID, taskID, message string, data any) ToolEvent {
	return ToolEvent{base: newBase(ToolProgress, executionID, NowMS), TaskID: taskID, Message: message, Data: data}
}

func NewToolCompletedEvent(executionID, taskID string, data any) ToolEvent {
	return ToolEvent{base: newBase(ToolCompleted, executionID, NowMS), TaskID: taskID, Data: data}
}

// Subscriber receives published events.
type Subscriber interface {
	HandleEvent(ctx context.Context, event Event) error
}

// SubscriberFunc adapts an ordinary function to the Subscriber interface.
type SubscriberFunc func(ctx context.Context, event Event) error

func (fn SubscriberFunc) HandleEvent(ctx context.Context, event Event) error { return fn(ctx, event) }

// Subscription is a handle for unregistering from the bus.
type Subscription interface {
	Close()
}

// Bus is the process-wide event fan-out. The subscriber map is guarded by a
// single mutex, per the locking discipline: contention is expected to be
// low, and subscribers must be internally safe for concurrent invocation.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int64]Subscriber
	nextID int64
	logger telemetry.Logger
}

// New constructs an empty Bus. A nil logger is replaced with a no-op logger.
func New(logger telemetry.Logger) *Bus {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Bus{subs: make(map[int64]Subscriber), logger: logger}
}

// Subscribe registers a subscriber and returns a handle to unregister it.
func (b *Bus) Subscribe(sub Subscriber) Subscription {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()
	return &subscription{bus: b, id: id}
}

type subscription struct {
	bus *Bus
	id  int64
}

func (s *subscription) Close() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
}

// Publish fans the event out to every subscriber synchronously on the
// caller's goroutine. A subscriber that returns an error (or panics) is
// logged and skipped; it never blocks or aborts delivery to its peers.
func (b *Bus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(ctx, s, event)
	}
}

func (b *Bus) deliver(ctx context.Context, s Subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error(ctx, "event subscriber panicked", "event_type", event.Type(), "recover", r)
		}
	}()
	if err := s.HandleEvent(ctx, event); err != nil {
		b.logger.Warn(ctx, "event subscriber failed", "event_type", event.Type(), "err", err)
	}
}
