package escore

import (
	"time"

	"github.com/google/uuid"
)

// Message is the common identity shared by every Command and Event flowing
// through the core. Ids are unique; CreationDate records when the message
// was produced, not when it was persisted or dispatched.
type Message interface {
	MessageID() uuid.UUID
	CreatedAt() time.Time
}

// Command carries an intent to change the state of a single target
// aggregate. Unlike Event, a Command is never written to the event store —
// only the events it produces are; the message log (package messagelog)
// is where commands are recorded for a later rebuild to replay.
type Command interface {
	Message
	TargetID() string
}

// Event describes something that has already happened. Events carry no
// target of their own; a VersionedEvent narrows this down to one that
// belongs to a specific aggregate stream.
type Event interface {
	Message
	EventType() string
}

// VersionedEvent is an Event that has been stamped onto an aggregate's
// stream. SourceId/SourceType identify the stream; Version is strictly
// positive and monotonically increasing per (SourceId, SourceType) with no
// gaps; CorrelationId links the event back to the command (or, for events
// produced while handling another event, to that event's own correlation
// id) that triggered it.
type VersionedEvent struct {
	Event
	SourceId      string
	SourceType    string
	Version       uint64
	CorrelationId string
	CreationDate  time.Time
}

// BaseMessage implements Message and is embedded by concrete command/event
// payload types instead of each one hand-rolling an id and timestamp.
type BaseMessage struct {
	ID      uuid.UUID `json:"messageId"`
	Created time.Time `json:"createdAt"`
}

// NewBaseMessage stamps a fresh message identity with the current time.
func NewBaseMessage() BaseMessage {
	return BaseMessage{ID: uuid.New(), Created: time.Now()}
}

func (b BaseMessage) MessageID() uuid.UUID { return b.ID }
func (b BaseMessage) CreatedAt() time.Time { return b.Created }

// Envelope wraps a Message with delivery metadata assigned by the bus or
// dispatcher handing it to a recipient: a stable MessageId for idempotency
// checks, a CorrelationId for causal tracing, and a human-readable TraceId
// threaded through logs.
type Envelope[T Message] struct {
	MessageId     uuid.UUID
	CorrelationId string
	TraceId       string
	Payload       T
}

// NewEnvelope wraps a message, deriving MessageId from the payload itself.
func NewEnvelope[T Message](payload T, correlationId, traceId string) Envelope[T] {
	return Envelope[T]{
		MessageId:     payload.MessageID(),
		CorrelationId: correlationId,
		TraceId:       traceId,
		Payload:       payload,
	}
}

// CorrelationIDOf derives the correlation id a newly produced event should
// carry: for a triggering Command it is the command's own id (the start of
// the causal chain); for a triggering VersionedEvent it is that event's own
// correlation id, so the whole chain traces back to the original command.
func CorrelationIDOf(triggering Message) string {
	switch m := triggering.(type) {
	case VersionedEvent:
		return m.CorrelationId
	case Command:
		return m.MessageID().String()
	default:
		return triggering.MessageID().String()
	}
}
