package fixtures

import (
	"context"

	"github.com/fenwick/escore"
)

// SliceIterator builds an escore.Iterator[T] that yields items in order,
// then exhausts (nil, nil) as escore.Iterator.Next requires.
func SliceIterator[T any](items []T) *escore.Iterator[T] {
	idx := 0
	return escore.NewIterator(func(ctx context.Context) (*T, error) {
		if idx >= len(items) {
			return nil, nil
		}
		item := items[idx]
		idx++
		return &item, nil
	})
}

// EmptyIterator returns an iterator that yields no items.
func EmptyIterator[T any]() *escore.Iterator[T] {
	return SliceIterator[T](nil)
}

// FailingIterator returns an iterator that fails immediately with err.
func FailingIterator[T any](err error) *escore.Iterator[T] {
	return escore.NewIterator(func(ctx context.Context) (*T, error) {
		return nil, err
	})
}

// FailAfterNIterator yields the first n items of items, then fails with err.
func FailAfterNIterator[T any](items []T, n int, err error) *escore.Iterator[T] {
	idx := 0
	return escore.NewIterator(func(ctx context.Context) (*T, error) {
		if idx >= n {
			return nil, err
		}
		if idx >= len(items) {
			return nil, nil
		}
		item := items[idx]
		idx++
		return &item, nil
	})
}

// ContextAwareIterator yields items but checks ctx for cancellation before
// each one, mirroring how the message log's real StreamAscending behaves
// under a canceled context.
func ContextAwareIterator[T any](items []T) *escore.Iterator[T] {
	idx := 0
	return escore.NewIterator(func(ctx context.Context) (*T, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if idx >= len(items) {
			return nil, nil
		}
		item := items[idx]
		idx++
		return &item, nil
	})
}
