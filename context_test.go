package escore

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestWithDeliveryMetadata_RoundTrip(t *testing.T) {
	id := uuid.New()
	ctx := WithDeliveryMetadata(context.Background(), id, "corr-1", "trace-1")

	if got := MessageIDFromContext(ctx); got != id {
		t.Fatalf("expected message id %v, got %v", id, got)
	}
	if got := CorrelationIDFromContext(ctx); got != "corr-1" {
		t.Fatalf("expected correlation id corr-1, got %q", got)
	}
	if got := TraceIDFromContext(ctx); got != "trace-1" {
		t.Fatalf("expected trace id trace-1, got %q", got)
	}
}

func TestContextAccessors_DefaultsOnBareContext(t *testing.T) {
	ctx := context.Background()

	if got := MessageIDFromContext(ctx); got != uuid.Nil {
		t.Fatalf("expected uuid.Nil, got %v", got)
	}
	if got := CorrelationIDFromContext(ctx); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
	if got := TraceIDFromContext(ctx); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}

func TestCorrelationIDOf(t *testing.T) {
	cmd := testDispatchCmd{BaseMessage: NewBaseMessage(), Target: "agg-1"}
	if got := CorrelationIDOf(cmd); got != cmd.MessageID().String() {
		t.Fatalf("expected a command's own id, got %q", got)
	}

	versioned := VersionedEvent{
		Event:         testAppended{BaseMessage: NewBaseMessage(), Data: "x"},
		CorrelationId: "chain-1",
	}
	if got := CorrelationIDOf(versioned); got != "chain-1" {
		t.Fatalf("expected the triggering event's own correlation id, got %q", got)
	}
}
