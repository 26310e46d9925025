package bus

import (
	"context"

	"github.com/fenwick/escore"
)

// InMemory is the single-threaded collector used by the rebuilder and by
// handlers that want to queue further work inside the current processing
// round. It is not safe for concurrent use across rounds — like the
// aggregate and event store it wraps, it is owned by one logical
// processing round at a time.
//
// It implements both TransactionalEventBus and TransactionalCommandBus; the
// tx argument is accepted and ignored, since there is no real transaction
// to enroll in — collection is the whole point.
type InMemory struct {
	pendingCommands []escore.Envelope[escore.Command]
	pendingEvents   []escore.Envelope[escore.VersionedEvent]
}

// NewInMemory constructs an empty collector.
func NewInMemory() *InMemory {
	return &InMemory{}
}

// Send enqueues commands for later draining. Order is preserved.
func (b *InMemory) Send(_ context.Context, envelopes []escore.Envelope[escore.Command]) error {
	b.pendingCommands = append(b.pendingCommands, envelopes...)
	return nil
}

// SendWithTx is Send; the in-memory bus has no transaction to enroll in.
func (b *InMemory) SendWithTx(ctx context.Context, _ Tx, envelopes []escore.Envelope[escore.Command]) error {
	return b.Send(ctx, envelopes)
}

// Publish enqueues events for later draining. Order is preserved.
func (b *InMemory) Publish(_ context.Context, envelopes []escore.Envelope[escore.VersionedEvent]) error {
	b.pendingEvents = append(b.pendingEvents, envelopes...)
	return nil
}

// PublishWithTx is Publish; the in-memory bus has no transaction to enroll
// in.
func (b *InMemory) PublishWithTx(ctx context.Context, _ Tx, envelopes []escore.Envelope[escore.VersionedEvent]) error {
	return b.Publish(ctx, envelopes)
}

// HasNewCommands reports whether any command is waiting to be drained.
func (b *InMemory) HasNewCommands() bool {
	return len(b.pendingCommands) > 0
}

// HasNewEvents reports whether any event is waiting to be drained.
func (b *InMemory) HasNewEvents() bool {
	return len(b.pendingEvents) > 0
}

// DrainCommands returns queued commands in FIFO order and clears the queue.
func (b *InMemory) DrainCommands() []escore.Envelope[escore.Command] {
	commands := b.pendingCommands
	b.pendingCommands = nil
	return commands
}

// DrainEvents returns queued events in FIFO order and clears the queue.
func (b *InMemory) DrainEvents() []escore.Envelope[escore.VersionedEvent] {
	events := b.pendingEvents
	b.pendingEvents = nil
	return events
}
