package escore

// Memento is an opaque snapshot of an aggregate's state at a given
// Version. Only the owning aggregate type knows how to decode the bytes;
// the snapshot cache and the event store never look inside them.
type Memento struct {
	SourceId   string
	SourceType string
	Version    uint64
	Payload    []byte
}

// MementoOriginator is the capability an aggregate exposes if it can
// serialize/deserialize its own state to/from a Memento. Aggregates that do
// not implement this are never snapshotted — the event store always falls
// back to full history replay for them.
type MementoOriginator interface {
	Aggregate
	SaveToMemento() (Memento, error)
	RestoreFromMemento(memento Memento) error
}
