package escore

// ForeignStreamKey identifies one foreign event stream a ComplexEventSourced
// aggregate tracks: the foreign aggregate's type, its id, and the event
// type being consumed. Each key has its own independent version counter —
// an aggregate may consume several event types from the same foreign
// aggregate, each progressing independently.
type ForeignStreamKey struct {
	SourceType string
	SourceId   string
	EventType  string
}

func foreignKeyOf(event VersionedEvent) ForeignStreamKey {
	return ForeignStreamKey{
		SourceType: event.SourceType,
		SourceId:   event.SourceId,
		EventType:  TypeName(event.Event),
	}
}

// ForeignEventProcessed is the bookkeeping event a ComplexEventSourced
// aggregate emits whenever it successfully applies a foreign event to the
// domain handler. On rehydrate it advances lastProcessed[Key] and drops any
// parked copy of (Key, Version) — it is how "this foreign event has been
// consumed" becomes part of the aggregate's own durable history.
type ForeignEventProcessed struct {
	BaseMessage
	Key     ForeignStreamKey
	Version uint64
}

func (ForeignEventProcessed) EventType() string { return "ForeignEventProcessed" }

// ForeignEventParked is the bookkeeping event emitted when a foreign event
// arrives before its turn — its version is ahead of the stream's
// lastProcessed version by more than one. On rehydrate it appends the
// parked copy so a later in-order arrival can drain it.
type ForeignEventParked struct {
	BaseMessage
	Foreign VersionedEvent
}

func (ForeignEventParked) EventType() string { return "ForeignEventParked" }

// ForeignEventHandler applies one foreign event's payload to domain state.
// It must be idempotent only in the sense that ComplexEventSourced never
// calls it twice for the same (stream, version) — TryProcessForeign is what
// enforces that guarantee.
type ForeignEventHandler func(event VersionedEvent) error

// ComplexEventSourced extends EventSourced with ordered, idempotent
// consumption of events produced by other aggregates. It tracks, per
// foreign stream, the last processed version, and holds a list of events
// that arrived early ("parked") until their predecessor shows up.
type ComplexEventSourced struct {
	*EventSourced
	lastProcessed map[ForeignStreamKey]uint64
	parked        []VersionedEvent
}

// NewComplexEventSourced constructs the base for a complex aggregate
// identified by id, and registers the rehydrators for its two bookkeeping
// event types. Embedding aggregates must still register their own domain
// event rehydrators as usual.
func NewComplexEventSourced(id, sourceType string) *ComplexEventSourced {
	c := &ComplexEventSourced{
		EventSourced:  NewEventSourced(id, sourceType),
		lastProcessed: make(map[ForeignStreamKey]uint64),
	}
	c.Register("ForeignEventProcessed", func(event Event) {
		e := event.(ForeignEventProcessed)
		c.lastProcessed[e.Key] = e.Version
		c.parked = removeParked(c.parked, e.Key, e.Version)
	})
	c.Register("ForeignEventParked", func(event Event) {
		e := event.(ForeignEventParked)
		if !hasParked(c.parked, e.Foreign) {
			c.parked = append(c.parked, e.Foreign)
		}
	})
	return c
}

func removeParked(parked []VersionedEvent, key ForeignStreamKey, version uint64) []VersionedEvent {
	out := parked[:0]
	for _, p := range parked {
		if foreignKeyOf(p) == key && p.Version == version {
			continue
		}
		out = append(out, p)
	}
	return out
}

func hasParked(parked []VersionedEvent, event VersionedEvent) bool {
	key := foreignKeyOf(event)
	for _, p := range parked {
		if foreignKeyOf(p) == key && p.Version == event.Version {
			return true
		}
	}
	return false
}

// LastProcessedVersion returns the last version consumed for a foreign
// stream, or 0 if none has been consumed yet.
func (c *ComplexEventSourced) LastProcessedVersion(key ForeignStreamKey) uint64 {
	return c.lastProcessed[key]
}

// Parked returns the events currently parked awaiting their turn, for
// inspection or testing. Callers must not mutate the returned slice.
func (c *ComplexEventSourced) Parked() []VersionedEvent {
	return c.parked
}

// TryProcessForeign attempts to consume one foreign event, per spec §4.2:
//
//  1. duplicate (version <= lastProcessed): no-op, returns (false, nil).
//  2. in-order (version == lastProcessed+1): applies via handle, emits
//     ForeignEventProcessed, then drains any now-in-order parked events.
//  3. early (version > lastProcessed+1): parks it unless an identical copy
//     is already parked.
//
// Returns whether the event (or any event it unblocked) was newly applied
// to the domain handler.
func (c *ComplexEventSourced) TryProcessForeign(event VersionedEvent, handle ForeignEventHandler) (bool, error) {
	key := foreignKeyOf(event)
	lastV := c.lastProcessed[key]

	if event.Version <= lastV {
		return false, nil
	}

	if event.Version != lastV+1 {
		if hasParked(c.parked, event) {
			return false, nil
		}
		if err := c.Update(ForeignEventParked{BaseMessage: NewBaseMessage(), Foreign: event}); err != nil {
			return false, err
		}
		return false, nil
	}

	if err := handle(event); err != nil {
		return false, err
	}
	if err := c.Update(ForeignEventProcessed{BaseMessage: NewBaseMessage(), Key: key, Version: event.Version}); err != nil {
		return false, err
	}

	for {
		next, ok := c.nextParked(key)
		if !ok {
			break
		}
		if err := handle(next); err != nil {
			return true, err
		}
		if err := c.Update(ForeignEventProcessed{BaseMessage: NewBaseMessage(), Key: key, Version: next.Version}); err != nil {
			return true, err
		}
	}

	return true, nil
}

func (c *ComplexEventSourced) nextParked(key ForeignStreamKey) (VersionedEvent, bool) {
	want := c.lastProcessed[key] + 1
	for _, p := range c.parked {
		if foreignKeyOf(p) == key && p.Version == want {
			return p, true
		}
	}
	return VersionedEvent{}, false
}
