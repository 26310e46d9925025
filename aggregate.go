package escore

import "fmt"

// Rehydrator applies a domain event to an aggregate's in-memory state. It is
// registered per concrete event type name, once, in the owning aggregate's
// constructor — there is no reflection-based discovery of "which method
// handles which event" at apply time, only a table lookup.
type Rehydrator func(event Event)

// Aggregate identifies the minimal surface the event store needs from any
// event-sourced entity: a stable (SourceType, Id) identity, the version it
// has applied so far, and a way to drain the events it has produced since
// it was loaded.
type Aggregate interface {
	Id() string
	SourceType() string
	Version() uint64
	DrainPending() []VersionedEvent
	HasPending() bool
	LoadFrom(history []VersionedEvent) error
}

// EventSourced is the base every event-sourced aggregate embeds. It holds
// the identity, the last applied Version, the ordered list of not-yet
// persisted events, and the event-type → Rehydrator table.
//
// An aggregate is constructed one of three ways: fresh with a new id
// (NewEventSourced, no LoadFrom call), from a full event history
// (NewEventSourced then LoadFrom), or from a memento plus a tail of events
// whose version exceeds the memento's (memento originator's own restore
// method, then LoadFrom with just the tail).
type EventSourced struct {
	id          string
	sourceType  string
	version     uint64
	pending     []VersionedEvent
	rehydrators map[string]Rehydrator
}

// NewEventSourced constructs the base for an aggregate identified by id,
// whose stable kind is sourceType.
func NewEventSourced(id, sourceType string) *EventSourced {
	return &EventSourced{
		id:          id,
		sourceType:  sourceType,
		rehydrators: make(map[string]Rehydrator),
	}
}

// Register associates a Rehydrator with an event type name. Call once per
// event type the aggregate emits or otherwise applies, from the embedding
// aggregate's constructor.
func (a *EventSourced) Register(eventType string, fn Rehydrator) {
	a.rehydrators[eventType] = fn
}

// Id returns the aggregate's identifier.
func (a *EventSourced) Id() string { return a.id }

// SourceType returns the aggregate's stable kind.
func (a *EventSourced) SourceType() string { return a.sourceType }

// Version returns the last applied version.
func (a *EventSourced) Version() uint64 { return a.version }

// LoadFrom applies a history of events in ascending Version order via
// their registered rehydrators and sets Version to the last applied
// event's Version. It never appends to pending. Returns
// ErrRehydrationMismatch if any event's version does not equal the
// previously applied version + 1 — a version gap indicates corrupted or
// out-of-order history and LoadFrom refuses to guess past it.
func (a *EventSourced) LoadFrom(history []VersionedEvent) error {
	for _, event := range history {
		if event.Version != a.version+1 {
			return fmt.Errorf("%w: %s/%s: expected version %d, got %d",
				ErrRehydrationMismatch, a.sourceType, a.id, a.version+1, event.Version)
		}
		if err := a.apply(event.Event); err != nil {
			return err
		}
		a.version = event.Version
	}
	return nil
}

func (a *EventSourced) apply(event Event) error {
	fn, ok := a.rehydrators[TypeName(event)]
	if !ok {
		return fmt.Errorf("%w: %s on %s/%s", ErrMissingRehydrator, TypeName(event), a.sourceType, a.id)
	}
	fn(event)
	return nil
}

// Update stamps a newly decided domain event onto the aggregate: assigns
// SourceId, SourceType and the next Version, runs the matching rehydrator,
// appends the stamped event to pending, and advances Version. A missing
// rehydrator here is the same programming error LoadFrom reports — it is
// returned rather than silently dropped so domain code notices immediately.
func (a *EventSourced) Update(event Event) error {
	if err := a.apply(event); err != nil {
		return err
	}
	a.version++
	a.pending = append(a.pending, VersionedEvent{
		Event:      event,
		SourceId:   a.id,
		SourceType: a.sourceType,
		Version:    a.version,
	})
	return nil
}

// DrainPending returns pending events in insertion order and clears the
// list. Only the event store's Save should call this.
func (a *EventSourced) DrainPending() []VersionedEvent {
	pending := a.pending
	a.pending = nil
	return pending
}

// HasPending reports whether the aggregate has events awaiting Save.
func (a *EventSourced) HasPending() bool {
	return len(a.pending) > 0
}

// RestoreVersion is used by memento originators to fast-forward Version
// when restoring from a snapshot, before LoadFrom applies the tail of
// events newer than the snapshot.
func (a *EventSourced) RestoreVersion(version uint64) {
	a.version = version
}

// CommandEmitter is the capability a Saga exposes: in addition to emitting
// events, it accumulates commands to be co-published on save. The event
// store checks for this capability (not aggregate type) before
// co-publishing — see Save.
type CommandEmitter interface {
	Aggregate
	DrainPendingCommands() []Command
}

// Saga embeds EventSourced and additionally accumulates pending commands,
// satisfying CommandEmitter.
type Saga struct {
	*EventSourced
	pendingCommands []Command
}

// NewSaga constructs the base for a saga identified by id.
func NewSaga(id, sourceType string) *Saga {
	return &Saga{EventSourced: NewEventSourced(id, sourceType)}
}

// Dispatch queues a command to be sent on the command bus when this saga is
// next saved, in the same transaction as its own events.
func (s *Saga) Dispatch(cmd Command) {
	s.pendingCommands = append(s.pendingCommands, cmd)
}

// DrainPendingCommands returns pending commands in insertion order and
// clears the list. Only the event store's Save should call this.
func (s *Saga) DrainPendingCommands() []Command {
	commands := s.pendingCommands
	s.pendingCommands = nil
	return commands
}
