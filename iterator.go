package escore

import "context"

// Iterator is a lazy, forward-only sequence of T produced by repeated calls
// to a next function. The rebuilder streams a source message log through
// one of these instead of materializing it, so replaying a multi-million-
// row log does not require unbounded memory.
type Iterator[T any] struct {
	nextFunc func(ctx context.Context) (*T, error)
	current  *T
	err      error
	done     bool
}

// NewIterator constructs an Iterator[T] from nextFunc. nextFunc must return
// (nil, nil) once exhausted, or (nil, err) on failure.
func NewIterator[T any](nextFunc func(ctx context.Context) (*T, error)) *Iterator[T] {
	return &Iterator[T]{nextFunc: nextFunc}
}

// Next advances the iterator, returning false once it is exhausted or has
// failed. Callers check Err after a false return to distinguish the two.
func (it *Iterator[T]) Next(ctx context.Context) bool {
	if it.done || it.err != nil {
		return false
	}
	it.current, it.err = it.nextFunc(ctx)
	if it.current == nil || it.err != nil {
		it.done = true
		return false
	}
	return true
}

// Value returns the item produced by the most recent successful Next call.
func (it *Iterator[T]) Value() T {
	return *it.current
}

// Err returns the error that ended iteration, if any.
func (it *Iterator[T]) Err() error {
	return it.err
}

// All drains the iterator into a slice. Intended for tests and small
// streams; production rebuild code should stay on Next/Value to preserve
// the constant-memory guarantee.
func (it *Iterator[T]) All(ctx context.Context) ([]T, error) {
	var results []T
	for it.Next(ctx) {
		results = append(results, it.Value())
	}
	return results, it.Err()
}
