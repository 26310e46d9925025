package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fenwick/escore"
)

// EventHandler processes an Event within ctx. A handler registered for a
// concrete type T never sees any other type; a handler registered for
// escore.Event itself sees every event, in addition to whatever type-
// specific handlers also match.
type EventHandler func(ctx context.Context, event escore.Event) error

// typedEventHandler wraps a handler so it only fires for events asserting
// to T, mirroring the teacher's OnEvent[T] routing pattern.
func typedEventHandler[T escore.Event](fn func(ctx context.Context, event T) error) EventHandler {
	return func(ctx context.Context, event escore.Event) error {
		typed, ok := event.(T)
		if !ok {
			return nil
		}
		return fn(ctx, typed)
	}
}

// anyHandlerEntry pairs a handler registered against the abstract Event
// type with a token identifying it, so it can be unregistered later
// without disturbing handlers registered around it.
type anyHandlerEntry struct {
	id int
	fn EventHandler
}

// SyncEventDispatcher runs every handler registered for an event's
// concrete type on the caller's goroutine, in registration order, with no
// retry: the caller owns the transaction this dispatch happens inside of,
// so a failing handler must unwind it immediately rather than be retried
// behind the caller's back.
type SyncEventDispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
	any      []anyHandlerEntry
	nextID   int
}

// NewSyncEventDispatcher constructs an empty SyncEventDispatcher.
func NewSyncEventDispatcher() *SyncEventDispatcher {
	return &SyncEventDispatcher{handlers: make(map[string][]EventHandler)}
}

// On registers fn for event type T. Multiple handlers may be registered
// for the same type; they run in registration order.
func On[T escore.Event](d *SyncEventDispatcher, fn func(ctx context.Context, event T) error) {
	var zero T
	name := escore.TypeName(zero)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = append(d.handlers[name], typedEventHandler(fn))
}

// OnAny registers fn against the abstract Event type: it runs for every
// dispatched event, regardless of concrete type, after the type-specific
// handlers. The returned function unregisters fn.
func (d *SyncEventDispatcher) OnAny(fn EventHandler) (unregister func()) {
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

// Dispatch runs every handler registered for event's concrete type,
// followed by every handler registered against the abstract Event type.
// The first handler to return an error stops the dispatch and that error
// is returned to the caller.
func (d *SyncEventDispatcher) Dispatch(ctx context.Context, event escore.VersionedEvent) error {
	name := escore.TypeName(event.Event)

	d.mu.RLock()
	handlers := append([]EventHandler(nil), d.handlers[name]...)
	for _, entry := range d.any {
		handlers = append(handlers, entry.fn)
	}
	d.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, event.Event); err != nil {
			return fmt.Errorf("dispatch: handling %s: %w", name, err)
		}
	}
	return nil
}

// RegisteredTypes returns the sorted list of event type names with at
// least one handler registered. Useful for subscription setup.
func (d *SyncEventDispatcher) RegisteredTypes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
