// Package bus provides the outbound message collectors the event store
// co-commits with persisted events: an in-memory FIFO collector used by
// handlers and the rebuilder, and the transactional-enrollment capability a
// production, SQL-backed bus must expose to be usable by the event store
// at all.
package bus

import (
	"context"

	"github.com/fenwick/escore"
)

// Tx is an opaque transaction handle threaded from the event store into a
// bus's write path so outbox rows commit atomically with the event rows
// that produced them. The in-memory bus ignores it; a SQL-backed bus type-
// asserts it to its own driver transaction type (e.g. *gorm.DB).
type Tx any

// EventBus is the minimal publish surface any event bus exposes.
type EventBus interface {
	Publish(ctx context.Context, envelopes []escore.Envelope[escore.VersionedEvent]) error
}

// TransactionalEventBus is the capability the event store actually
// requires: an event bus that can enroll its write in the caller's
// transaction. A bus that only implements EventBus is rejected at event
// store construction with ErrIncompatibleBus — see escore.ErrIncompatibleBus.
type TransactionalEventBus interface {
	EventBus
	PublishWithTx(ctx context.Context, tx Tx, envelopes []escore.Envelope[escore.VersionedEvent]) error
}

// CommandBus is the minimal send surface any command bus exposes.
type CommandBus interface {
	Send(ctx context.Context, envelopes []escore.Envelope[escore.Command]) error
}

// TransactionalCommandBus is the capability the event store requires of a
// command bus before it will co-publish a saga's pending commands.
type TransactionalCommandBus interface {
	CommandBus
	SendWithTx(ctx context.Context, tx Tx, envelopes []escore.Envelope[escore.Command]) error
}
