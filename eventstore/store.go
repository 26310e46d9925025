package eventstore

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/fenwick/escore"
	"github.com/fenwick/escore/bus"
	"github.com/fenwick/escore/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Factory constructs a fresh, empty aggregate ready to receive LoadFrom —
// the "new id, no history" construction path. Find and Get use it as the
// starting point before replaying a snapshot and/or a tail of events.
type Factory[T escore.Aggregate] func(id string) T

// Store is the per-aggregate-type event store: Find/Get/Save, built on top
// of a shared RawStore. One Store[T] is constructed per aggregate type T.
type Store[T escore.Aggregate] struct {
	raw        RawStore
	eventBus   bus.TransactionalEventBus
	commandBus bus.TransactionalCommandBus
	cache      *escore.SnapshotCache
	factory    Factory[T]
	sourceType string
	serializer escore.Serializer
	freshness  time.Duration
}

// Option configures a Store at construction time.
type Option[T escore.Aggregate] func(*Store[T])

// WithSnapshotCache enables snapshot acceleration for memento-originator
// aggregates. Without it, Find/Get always read the full history.
func WithSnapshotCache[T escore.Aggregate](cache *escore.SnapshotCache) Option[T] {
	return func(s *Store[T]) { s.cache = cache }
}

// WithCommandBus supplies the transactional command bus used to co-publish
// a saga's pending commands. Required only for aggregate types that
// implement escore.CommandEmitter.
func WithCommandBus[T escore.Aggregate](b bus.CommandBus) Option[T] {
	return func(s *Store[T]) {
		if txBus, ok := b.(bus.TransactionalCommandBus); ok {
			s.commandBus = txBus
		}
	}
}

// WithSnapshotFreshness overrides the default 1-second snapshot-freshness
// window (spec §4.4/§9 — preserved but made configurable).
func WithSnapshotFreshness[T escore.Aggregate](d time.Duration) Option[T] {
	return func(s *Store[T]) { s.freshness = d }
}

// New constructs a Store[T] for aggregate type sourceType. eventBus must
// implement bus.TransactionalEventBus or construction fails with
// escore.ErrIncompatibleBus — an event bus that cannot enroll its publish
// in the caller's transaction cannot satisfy the outbox guarantee this
// store exists to provide.
func New[T escore.Aggregate](
	raw RawStore,
	eventBus bus.EventBus,
	factory Factory[T],
	sourceType string,
	serializer escore.Serializer,
	opts ...Option[T],
) (*Store[T], error) {
	txBus, ok := eventBus.(bus.TransactionalEventBus)
	if !ok {
		return nil, escore.ErrIncompatibleBus
	}

	s := &Store[T]{
		raw:        raw,
		eventBus:   txBus,
		factory:    factory,
		sourceType: sourceType,
		serializer: serializer,
		freshness:  time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Find loads the aggregate identified by id, or returns the zero value (a
// nil T) if it has no persisted events. It tries the snapshot cache first
// when T is a memento originator and a cache is configured; a snapshot
// refreshed within the freshness window is trusted without reading the
// tail. Otherwise it reads events with Version > snapshot.Version (or the
// full history, with no snapshot) and replays them.
func (s *Store[T]) Find(ctx context.Context, id string) (T, error) {
	var zero T
	ctx, span := telemetry.Tracer.Start(ctx, "escore.eventstore.find",
		trace.WithAttributes(
			attribute.String("aggregate.type", s.sourceType),
			attribute.String("aggregate.id", id),
		),
	)
	defer span.End()

	agg := s.factory(id)
	fromVersion := uint64(0)

	if s.cache != nil {
		if mo, ok := any(agg).(escore.MementoOriginator); ok {
			if memento, age, found := s.cache.Get(s.sourceType, id); found {
				if age < s.freshness {
					if err := mo.RestoreFromMemento(memento); err != nil {
						return zero, err
					}
					telemetry.SnapshotHits.Add(ctx, 1)
					return agg, nil
				}
				if err := mo.RestoreFromMemento(memento); err != nil {
					return zero, err
				}
				fromVersion = memento.Version
			}
			telemetry.SnapshotMisses.Add(ctx, 1)
		}
	}

	records, err := s.raw.LoadTail(ctx, id, s.sourceType, fromVersion)
	if err != nil {
		return zero, fmt.Errorf("eventstore: load tail for %s/%s: %w", s.sourceType, id, err)
	}
	if fromVersion == 0 && len(records) == 0 {
		return zero, nil
	}

	history, err := s.decodeAll(records)
	if err != nil {
		return zero, err
	}
	telemetry.EventsLoaded.Add(ctx, int64(len(history)))

	if err := agg.LoadFrom(history); err != nil {
		return zero, err
	}
	return agg, nil
}

// Get is Find but fails with escore.ErrNotFound instead of returning a nil
// aggregate.
func (s *Store[T]) Get(ctx context.Context, id string) (T, error) {
	agg, err := s.Find(ctx, id)
	if err != nil {
		var zero T
		return zero, err
	}
	if isNil(agg) {
		var zero T
		return zero, fmt.Errorf("%w: %s/%s", escore.ErrNotFound, s.sourceType, id)
	}
	return agg, nil
}

// isNil reports whether v — a value of a generic, pointer-shaped Aggregate
// type parameter — is nil. any(v) == nil is never true here: boxing a nil
// *T into an interface produces a non-nil interface carrying a nil pointer
// (the classic typed-nil gotcha), which would make Get silently return a
// nil aggregate with no error instead of escore.ErrNotFound.
func isNil(v any) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func:
		return rv.IsNil()
	default:
		return false
	}
}

func (s *Store[T]) decodeAll(records []EventRecord) ([]escore.VersionedEvent, error) {
	history := make([]escore.VersionedEvent, len(records))
	for i, record := range records {
		event, err := s.serializer.Deserialize(strings.NewReader(record.Payload))
		if err != nil {
			return nil, err
		}
		domainEvent, ok := event.(escore.Event)
		if !ok {
			return nil, fmt.Errorf("eventstore: deserialized payload for %s is not an escore.Event", record.EventType)
		}
		history[i] = escore.VersionedEvent{
			Event:         domainEvent,
			SourceId:      record.AggregateId,
			SourceType:    record.AggregateType,
			Version:       record.Version,
			CorrelationId: record.CorrelationId,
			CreationDate:  record.CreationDate,
		}
	}
	return history, nil
}

// Save atomically appends aggregate's pending events and, for a saga, its
// pending commands, per spec §4.3. If aggregate has no pending events, it
// returns successfully without opening a transaction. On any failure the
// snapshot cache entry for this identity is marked stale so the next Find
// bypasses it and reads the tail.
func (s *Store[T]) Save(ctx context.Context, aggregate T, triggering escore.Message) error {
	ctx, span := telemetry.Tracer.Start(ctx, "escore.eventstore.save",
		trace.WithAttributes(
			attribute.String("aggregate.type", aggregate.SourceType()),
			attribute.String("aggregate.id", aggregate.Id()),
		),
	)
	defer span.End()

	pending := aggregate.DrainPending()
	if len(pending) == 0 {
		span.AddEvent("no pending events, nothing to save")
		return nil
	}

	correlationId := escore.CorrelationIDOf(triggering)
	traceId := escore.TraceIDFromContext(ctx)

	var commands []escore.Command
	if emitter, ok := any(aggregate).(escore.CommandEmitter); ok {
		commands = emitter.DrainPendingCommands()
	}
	if len(commands) > 0 && s.commandBus == nil {
		if s.cache != nil {
			s.cache.MarkStale(aggregate.SourceType(), aggregate.Id())
		}
		return fmt.Errorf("eventstore: %s/%s emitted %d commands but no command bus is configured", aggregate.SourceType(), aggregate.Id(), len(commands))
	}

	now := time.Now()
	records := make([]EventRecord, len(pending))
	for i, event := range pending {
		var buf bytes.Buffer
		if err := s.serializer.Serialize(&buf, event.Event); err != nil {
			if s.cache != nil {
				s.cache.MarkStale(aggregate.SourceType(), aggregate.Id())
			}
			return err
		}
		records[i] = EventRecord{
			AggregateId:   aggregate.Id(),
			AggregateType: aggregate.SourceType(),
			Version:       event.Version,
			Payload:       buf.String(),
			EventType:     escore.TypeName(event.Event),
			CorrelationId: correlationId,
			CreationDate:  now,
		}
	}

	err := s.saveTx(ctx, aggregate, records, pending, commands, correlationId, traceId)
	if err != nil {
		if s.cache != nil {
			s.cache.MarkStale(aggregate.SourceType(), aggregate.Id())
		}
		telemetry.ConcurrencyConflicts.Add(ctx, boolToInt64(escore.IsConcurrencyConflict(err)))
		return err
	}

	telemetry.EventsAppended.Add(ctx, int64(len(records)))

	if mo, ok := any(aggregate).(escore.MementoOriginator); ok && s.cache != nil {
		memento, merr := mo.SaveToMemento()
		if merr == nil {
			s.cache.Set(memento)
		}
	}
	return nil
}

// saveTx runs the append + outbox co-commit inside one RawStore
// transaction: a non-blocking MaxVersion read guards against an obviously
// stale caller, AppendEvents enforces the real guarantee via the primary
// key, and PublishWithTx/SendWithTx enroll the outbox writes in the same
// transaction so a crash between them can never leave one committed
// without the other.
func (s *Store[T]) saveTx(
	ctx context.Context,
	aggregate T,
	records []EventRecord,
	pending []escore.VersionedEvent,
	commands []escore.Command,
	correlationId, traceId string,
) error {
	return s.raw.Transaction(ctx, func(tx *gorm.DB) error {
		current, err := s.raw.MaxVersion(ctx, tx, aggregate.Id(), aggregate.SourceType())
		if err != nil {
			return err
		}
		if current+1 != records[0].Version {
			return &escore.ConcurrencyConflictError{
				SourceId:            aggregate.Id(),
				SourceType:          aggregate.SourceType(),
				Expected:            current + 1,
				FirstPendingVersion: records[0].Version,
			}
		}

		if err := s.raw.AppendEvents(ctx, tx, records); err != nil {
			return err
		}

		eventEnvelopes := make([]escore.Envelope[escore.VersionedEvent], len(pending))
		for i, versioned := range pending {
			eventEnvelopes[i] = escore.NewEnvelope[escore.VersionedEvent](versioned, correlationId, traceId)
		}
		if err := s.eventBus.PublishWithTx(ctx, tx, eventEnvelopes); err != nil {
			return err
		}

		if len(commands) > 0 {
			commandEnvelopes := make([]escore.Envelope[escore.Command], len(commands))
			for i, command := range commands {
				commandEnvelopes[i] = escore.NewEnvelope[escore.Command](command, correlationId, traceId)
			}
			if err := s.commandBus.SendWithTx(ctx, tx, commandEnvelopes); err != nil {
				return err
			}
		}
		return nil
	})
}

func boolToInt64(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
