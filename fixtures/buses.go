package fixtures

import (
	"context"
	"sync"

	"github.com/fenwick/escore"
	"github.com/fenwick/escore/bus"
)

// EventBusSpy is a configurable bus.TransactionalEventBus for testing
// Store.Save's outbox co-commit without a real transactional broker. It
// tracks every call and lets a test inject a failure on Publish.
type EventBusSpy struct {
	mu sync.Mutex

	PublishFn func(ctx context.Context, envelopes []escore.Envelope[escore.VersionedEvent]) error

	PublishCalls int
	Published    []escore.Envelope[escore.VersionedEvent]

	publishErr error
}

// NewEventBusSpy creates an empty EventBusSpy.
func NewEventBusSpy() *EventBusSpy {
	return &EventBusSpy{}
}

// FailOnPublish configures the spy to return err from every Publish call.
func (b *EventBusSpy) FailOnPublish(err error) *EventBusSpy {
	b.publishErr = err
	return b
}

func (b *EventBusSpy) Publish(ctx context.Context, envelopes []escore.Envelope[escore.VersionedEvent]) error {
	b.mu.Lock()
	b.PublishCalls++
	b.Published = append(b.Published, envelopes...)
	err := b.publishErr
	fn := b.PublishFn
	b.mu.Unlock()

	if fn != nil {
		return fn(ctx, envelopes)
	}
	return err
}

// PublishWithTx is Publish; the spy has no real transaction to enroll in.
func (b *EventBusSpy) PublishWithTx(ctx context.Context, _ bus.Tx, envelopes []escore.Envelope[escore.VersionedEvent]) error {
	return b.Publish(ctx, envelopes)
}

// Count returns the number of envelopes captured so far.
func (b *EventBusSpy) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Published)
}

// CommandBusSpy is a configurable bus.TransactionalCommandBus for testing a
// saga's co-published commands without a real transactional broker.
type CommandBusSpy struct {
	mu sync.Mutex

	SendFn func(ctx context.Context, envelopes []escore.Envelope[escore.Command]) error

	SendCalls int
	Sent      []escore.Envelope[escore.Command]

	sendErr error
}

// NewCommandBusSpy creates an empty CommandBusSpy.
func NewCommandBusSpy() *CommandBusSpy {
	return &CommandBusSpy{}
}

// FailOnSend configures the spy to return err from every Send call.
func (b *CommandBusSpy) FailOnSend(err error) *CommandBusSpy {
	b.sendErr = err
	return b
}

func (b *CommandBusSpy) Send(ctx context.Context, envelopes []escore.Envelope[escore.Command]) error {
	b.mu.Lock()
	b.SendCalls++
	b.Sent = append(b.Sent, envelopes...)
	err := b.sendErr
	fn := b.SendFn
	b.mu.Unlock()

	if fn != nil {
		return fn(ctx, envelopes)
	}
	return err
}

// SendWithTx is Send; the spy has no real transaction to enroll in.
func (b *CommandBusSpy) SendWithTx(ctx context.Context, _ bus.Tx, envelopes []escore.Envelope[escore.Command]) error {
	return b.Send(ctx, envelopes)
}

// Count returns the number of envelopes captured so far.
func (b *CommandBusSpy) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Sent)
}
