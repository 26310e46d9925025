package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fenwick/escore"
	"github.com/fenwick/escore/telemetry"
)

const (
	maxHandlerAttempts  = 3
	asyncRetryBaseDelay = 50 * time.Millisecond
)

// AsyncEventDispatcher fans a single event out to every handler registered
// for its concrete type across a worker pool, retrying each handler
// independently for at most maxHandlerAttempts attempts in total before
// giving up on it.
// Dispatch is a barrier: it blocks until every handler for the event has
// either succeeded, exhausted its retries, or short-circuited on a
// concurrency conflict, then returns the first error (if any).
//
// A handler that panics is treated as a failed attempt rather than
// crashing the worker, mirroring the teacher's command bus worker.
type AsyncEventDispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
	any      []anyHandlerEntry
	nextID   int
	workers  int
}

// NewAsyncEventDispatcher constructs an AsyncEventDispatcher with workers
// concurrent goroutines available to run handlers. workers <= 0 defaults
// to 1.
func NewAsyncEventDispatcher(workers int) *AsyncEventDispatcher {
	if workers <= 0 {
		workers = 1
	}
	return &AsyncEventDispatcher{
		handlers: make(map[string][]EventHandler),
		workers:  workers,
	}
}

// On registers fn for the event type whose TypeName is name, run
// asynchronously by the worker pool.
func (d *AsyncEventDispatcher) On(name string, fn EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = append(d.handlers[name], fn)
}

// OnAsync is the typed variant of On, mirroring dispatch.On for the
// synchronous dispatcher.
func OnAsync[T escore.Event](d *AsyncEventDispatcher, fn func(ctx context.Context, event T) error) {
	var zero T
	d.On(escore.TypeName(zero), typedEventHandler(fn))
}

// OnAny registers fn against the abstract Event type: it runs for every
// dispatched event regardless of concrete type, alongside the type-
// specific handlers, in the same worker pool. The returned function
// unregisters fn.
func (d *AsyncEventDispatcher) OnAny(fn EventHandler) (unregister func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.any = append(d.any, anyHandlerEntry{id: id, fn: fn})
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, entry := range d.any {
			if entry.id == id {
				d.any = append(d.any[:i], d.any[i+1:]...)
				return
			}
		}
	}
}

// Dispatch fans event out to every registered handler for its concrete
// type and waits for all of them to finish. It returns the first handler
// error encountered, after every handler has had its chance to run —
// a slow handler never causes a fast one to be skipped.
func (d *AsyncEventDispatcher) Dispatch(ctx context.Context, event escore.VersionedEvent) error {
	name := escore.TypeName(event.Event)

	d.mu.RLock()
	handlers := append([]EventHandler(nil), d.handlers[name]...)
	for _, entry := range d.any {
		handlers = append(handlers, entry.fn)
	}
	d.mu.RUnlock()

	if len(handlers) == 0 {
		return nil
	}

	sem := make(chan struct{}, d.workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, h := range handlers {
		h := h
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			telemetry.EventsDispatched.Add(ctx, 1)
			start := time.Now()
			err := runWithRetry(ctx, h, event.Event, name)
			telemetry.DispatchDuration.Record(ctx, float64(time.Since(start).Milliseconds()))

			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	return firstErr
}

func runWithRetry(ctx context.Context, h EventHandler, event escore.Event, name string) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(&linearBackOff{base: asyncRetryBaseDelay}, maxHandlerAttempts-1), ctx)
	err := backoff.RetryNotify(
		func() error {
			err := invokeSafely(ctx, h, event)
			if err == nil {
				return nil
			}
			if escore.IsConcurrencyConflict(err) {
				// A competing writer already moved the aggregate forward; this
				// handler's work is stale, not failed. Treat as handled.
				return nil
			}
			return err
		},
		policy,
		func(error, time.Duration) { telemetry.DispatchRetried.Add(ctx, 1) },
	)
	if err != nil {
		return fmt.Errorf("dispatch: handling %s after %d attempts: %w", name, maxHandlerAttempts, err)
	}
	return nil
}

func invokeSafely(ctx context.Context, h EventHandler, event escore.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch: handler panicked: %v", r)
		}
	}()
	return h(ctx, event)
}
