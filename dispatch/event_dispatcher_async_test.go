package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/fenwick/escore"
	"github.com/fenwick/escore/fixtures"
)

func TestAsyncEventDispatcher_DispatchFansOutToAllHandlers(t *testing.T) {
	d := NewAsyncEventDispatcher(4)
	var calls int32
	OnAsync[fixtures.TestEvent](d, func(context.Context, fixtures.TestEvent) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	OnAsync[fixtures.TestEvent](d, func(context.Context, fixtures.TestEvent) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	event := fixtures.Versioned(fixtures.NewTestEvent("x"), "agg-1", "TestAggregate", 1)
	if err := d.Dispatch(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 handler calls, got %d", calls)
	}
}

func TestAsyncEventDispatcher_NoHandlersIsANoOp(t *testing.T) {
	d := NewAsyncEventDispatcher(1)
	event := fixtures.Versioned(fixtures.NewTestEvent("x"), "agg-1", "TestAggregate", 1)
	if err := d.Dispatch(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAsyncEventDispatcher_OnAnyFiresAlongsideTyped(t *testing.T) {
	d := NewAsyncEventDispatcher(2)
	var typed, any int32
	OnAsync[fixtures.TestEvent](d, func(context.Context, fixtures.TestEvent) error {
		atomic.AddInt32(&typed, 1)
		return nil
	})
	d.OnAny(func(context.Context, escore.Event) error {
		atomic.AddInt32(&any, 1)
		return nil
	})

	event := fixtures.Versioned(fixtures.NewTestEvent("x"), "agg-1", "TestAggregate", 1)
	if err := d.Dispatch(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if typed != 1 || any != 1 {
		t.Fatalf("expected both the typed and any handler to fire, got typed=%d any=%d", typed, any)
	}
}

func TestAsyncEventDispatcher_UnregisterOnAny(t *testing.T) {
	d := NewAsyncEventDispatcher(1)
	var calls int32
	unregister := d.OnAny(func(context.Context, escore.Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	event := fixtures.Versioned(fixtures.NewTestEvent("x"), "agg-1", "TestAggregate", 1)
	_ = d.Dispatch(context.Background(), event)
	unregister()
	_ = d.Dispatch(context.Background(), event)

	if calls != 1 {
		t.Fatalf("expected exactly 1 call before unregistering, got %d", calls)
	}
}

func TestAsyncEventDispatcher_RetriesThenSucceeds(t *testing.T) {
	d := NewAsyncEventDispatcher(1)
	var attempts int32
	OnAsync[fixtures.TestEvent](d, func(context.Context, fixtures.TestEvent) error {
		if atomic.AddInt32(&attempts, 1) < 2 {
			return errors.New("transient")
		}
		return nil
	})

	event := fixtures.Versioned(fixtures.NewTestEvent("x"), "agg-1", "TestAggregate", 1)
	if err := d.Dispatch(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", attempts)
	}
}

func TestAsyncEventDispatcher_RetryExhaustionSurfacesError(t *testing.T) {
	d := NewAsyncEventDispatcher(1)
	boom := errors.New("boom")
	var attempts int32
	OnAsync[fixtures.TestEvent](d, func(context.Context, fixtures.TestEvent) error {
		atomic.AddInt32(&attempts, 1)
		return boom
	})

	event := fixtures.Versioned(fixtures.NewTestEvent("x"), "agg-1", "TestAggregate", 1)
	err := d.Dispatch(context.Background(), event)
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom to surface after exhausting retries, got %v", err)
	}
	if attempts != maxHandlerAttempts {
		t.Fatalf("expected %d attempts, got %d", maxHandlerAttempts, attempts)
	}
}

func TestAsyncEventDispatcher_ConcurrencyConflictShortCircuits(t *testing.T) {
	d := NewAsyncEventDispatcher(1)
	var attempts int32
	OnAsync[fixtures.TestEvent](d, func(context.Context, fixtures.TestEvent) error {
		atomic.AddInt32(&attempts, 1)
		return &escore.ConcurrencyConflictError{SourceId: "agg-1", SourceType: "TestAggregate", Expected: 2, FirstPendingVersion: 5}
	})

	event := fixtures.Versioned(fixtures.NewTestEvent("x"), "agg-1", "TestAggregate", 1)
	if err := d.Dispatch(context.Background(), event); err != nil {
		t.Fatalf("expected a concurrency conflict to be treated as handled, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt before short-circuiting, got %d", attempts)
	}
}

func TestAsyncEventDispatcher_PanicIsRecoveredAsError(t *testing.T) {
	d := NewAsyncEventDispatcher(1)
	OnAsync[fixtures.TestEvent](d, func(context.Context, fixtures.TestEvent) error {
		panic("boom")
	})

	event := fixtures.Versioned(fixtures.NewTestEvent("x"), "agg-1", "TestAggregate", 1)
	err := d.Dispatch(context.Background(), event)
	if err == nil {
		t.Fatalf("expected the panic to surface as an error")
	}
}

func TestAsyncEventDispatcher_ZeroWorkersDefaultsToOne(t *testing.T) {
	d := NewAsyncEventDispatcher(0)
	if d.workers != 1 {
		t.Fatalf("expected workers to default to 1, got %d", d.workers)
	}
}
