package bus

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func withFixedClock(t *testing.T, ts int64) {
	t.Helper()
	prev := NowMS
	NowMS = func() int64 { return ts }
	t.Cleanup(func() { NowMS = prev })
}

func TestSubscribeAndPublishDeliversToAllSubscribers(t *testing.T) {
	withFixedClock(t, 1000)

	b := New(nil)

	var mu sync.Mutex
	var received []Type

	record := func(ctx context.Context, evt Event) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, evt.Type())
		return nil
	}

	sub1 := b.Subscribe(SubscriberFunc(record))
	defer sub1.Close()
	sub2 := b.Subscribe(SubscriberFunc(record))
	defer sub2.Close()

	b.Publish(context.Background(), NewExecutionCreatedEvent("exec-1"))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []Type{ExecutionCreated, ExecutionCreated}, received)
}

func TestSubscriptionCloseStopsDelivery(t *testing.T) {
	withFixedClock(t, 1000)

	b := New(nil)

	calls := 0
	sub := b.Subscribe(SubscriberFunc(func(ctx context.Context, evt Event) error {
		calls++
		return nil
	}))

	b.Publish(context.Background(), NewExecutionCreatedEvent("exec-1"))
	require.Equal(t, 1, calls)

	sub.Close()

	b.Publish(context.Background(), NewExecutionCreatedEvent("exec-1"))
	require.Equal(t, 1, calls, "closed subscription must not receive further events")
}

func TestPublishIsolatesSubscriberPanic(t *testing.T) {
	withFixedClock(t, 1000)

	b := New(nil)

	b.Subscribe(SubscriberFunc(func(ctx context.Context, evt Event) error {
		panic("boom")
	}))

	survived := false
	b.Subscribe(SubscriberFunc(func(ctx context.Context, evt Event) error {
		survived = true
		return nil
	}))

	require.NotPanics(t, func() {
		b.Publish(context.Background(), NewExecutionCreatedEvent("exec-1"))
	})
	require.True(t, survived, "a panicking subscriber must not block delivery to its peers")
}

func TestPublishIsolatesSubscriberError(t *testing.T) {
	withFixedClock(t, 1000)

	b := New(nil)

	b.Subscribe(SubscriberFunc(func(ctx context.Context, evt Event) error {
		return errors.New("handler failed")
	}))

	survived := false
	b.Subscribe(SubscriberFunc(func(ctx context.Context, evt Event) error {
		survived = true
		return nil
	}))

	b.Publish(context.Background(), NewExecutionCreatedEvent("exec-1"))
	require.True(t, survived)
}

func TestExecutionUpdatedEventCarriesCounters(t *testing.T) {
	withFixedClock(t, 4242)

	evt := NewExecutionUpdatedEvent("exec-1", "running", 5, 2, 1, 2)
	require.Equal(t, ExecutionUpdated, evt.Type())
	require.Equal(t, "exec-1", evt.ExecutionID())
	require.Equal(t, int64(4242), evt.TimestampMS())
	require.Equal(t, "running", evt.Status)
	require.Equal(t, 5, evt.TotalTasks)
	require.Equal(t, 2, evt.CompletedTasks)
	require.Equal(t, 1, evt.FailedTasks)
	require.Equal(t, 2, evt.WaitingTasks)
}

func TestSubStepEventVariants(t *testing.T) {
	withFixedClock(t, 1)

	started := NewSubStepStartedEvent("exec-1", "1", "step-1")
	require.Equal(t, SubStepStarted, started.Type())

	completed := NewSubStepCompletedEvent("exec-1", "1", "step-1", 150, map[string]any{"ok": true})
	require.Equal(t, SubStepCompleted, completed.Type())
	require.Equal(t, int64(150), completed.DurationMS)

	failed := NewSubStepFailedEvent("exec-1", "1", "step-1", 75, "boom")
	require.Equal(t, SubStepFailed, failed.Type())
	require.Equal(t, "boom", failed.Error)
}

func TestNewDefaultsToNoopLoggerWhenNil(t *testing.T) {
	withFixedClock(t, 1)

	b := New(nil)
	b.Subscribe(SubscriberFunc(func(ctx context.Context, evt Event) error {
		return errors.New("swallowed")
	}))
	require.NotPanics(t, func() {
		b.Publish(context.Background(), NewExecutionFailedEvent("exec-1", "reason"))
	})
}
