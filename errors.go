package escore

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Each is distinguishable via errors.Is/errors.As so
// callers never need to match on an error string.
var (
	// ErrNotFound is raised by Get when the aggregate has no persisted events.
	ErrNotFound = errors.New("escore: aggregate not found")

	// ErrNoHandler is raised by the command processor when no handler is
	// registered for a command's concrete type. It indicates a programming
	// error, not a transient condition.
	ErrNoHandler = errors.New("escore: no handler registered for command")

	// ErrDuplicateHandler is raised at registration time when a second
	// handler is registered for a command type that already has one.
	ErrDuplicateHandler = errors.New("escore: handler already registered for command type")

	// ErrIncompatibleBus is raised at event-store construction time when a
	// supplied bus cannot enroll writes in the caller's transaction.
	ErrIncompatibleBus = errors.New("escore: bus cannot enroll in a transaction")

	// ErrRehydrationMismatch indicates LoadFrom encountered a version gap:
	// the history is corrupted or was assembled out of order.
	ErrRehydrationMismatch = errors.New("escore: rehydration version mismatch")

	// ErrMissingRehydrator indicates an aggregate applied an event for which
	// no rehydrator was registered. Always a programming error.
	ErrMissingRehydrator = errors.New("escore: no rehydrator registered for event type")
)

// ConcurrencyConflictError is raised by the event store's Save when the
// first pending event's version does not immediately follow the last
// persisted version for (SourceId, SourceType).
type ConcurrencyConflictError struct {
	SourceId            string
	SourceType          string
	Expected            uint64
	FirstPendingVersion uint64
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf(
		"escore: concurrency conflict on %s/%s: expected next version %d, pending event has version %d",
		e.SourceType, e.SourceId, e.Expected, e.FirstPendingVersion,
	)
}

// IsConcurrencyConflict reports whether err is (or wraps) a
// ConcurrencyConflictError.
func IsConcurrencyConflict(err error) bool {
	var conflict *ConcurrencyConflictError
	return errors.As(err, &conflict)
}

// SerializationError wraps a failure from the Serializer contract. The
// rebuilder treats any SerializationError as fatal to the whole rebuild.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("escore: serialization error: %v", e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// WrapSerializationError wraps err as a SerializationError, or returns nil
// if err is nil.
func WrapSerializationError(err error) error {
	if err == nil {
		return nil
	}
	return &SerializationError{Err: err}
}

// TransientIOError marks a database failure the caller should retry. The
// command processor and the asynchronous event dispatcher are the only two
// places that retry automatically; everywhere else a TransientIOError
// unwinds the current transaction like any other error.
type TransientIOError struct {
	Err error
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("escore: transient I/O error: %v", e.Err)
}

func (e *TransientIOError) Unwrap() error {
	return e.Err
}

// WrapTransientIOError wraps err as a TransientIOError, or returns nil if
// err is nil.
func WrapTransientIOError(err error) error {
	if err == nil {
		return nil
	}
	return &TransientIOError{Err: err}
}
