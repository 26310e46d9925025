package escore

import (
	"context"
	"errors"
	"testing"
)

func sliceNext(items []int) func(context.Context) (*int, error) {
	idx := 0
	return func(context.Context) (*int, error) {
		if idx >= len(items) {
			return nil, nil
		}
		v := items[idx]
		idx++
		return &v, nil
	}
}

func TestIterator_AllDrainsInOrder(t *testing.T) {
	it := NewIterator(sliceNext([]int{1, 2, 3}))

	got, err := it.All(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("unexpected sequence: %v", got)
	}
}

func TestIterator_EmptySequence(t *testing.T) {
	it := NewIterator(sliceNext(nil))

	if it.Next(context.Background()) {
		t.Fatalf("expected Next to return false on an empty sequence")
	}
	if it.Err() != nil {
		t.Fatalf("expected no error, got %v", it.Err())
	}
}

func TestIterator_StopsAndSurfacesError(t *testing.T) {
	boom := errors.New("boom")
	it := NewIterator(func(context.Context) (*int, error) {
		return nil, boom
	})

	if it.Next(context.Background()) {
		t.Fatalf("expected Next to return false on error")
	}
	if !errors.Is(it.Err(), boom) {
		t.Fatalf("expected Err to surface the underlying error, got %v", it.Err())
	}
}

func TestIterator_NextFalseAfterExhaustion(t *testing.T) {
	it := NewIterator(sliceNext([]int{1}))

	if !it.Next(context.Background()) {
		t.Fatalf("expected first Next to succeed")
	}
	if it.Value() != 1 {
		t.Fatalf("expected value 1, got %d", it.Value())
	}
	if it.Next(context.Background()) {
		t.Fatalf("expected second Next to return false")
	}
	if it.Next(context.Background()) {
		t.Fatalf("expected iterator to stay exhausted")
	}
}
