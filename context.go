package escore

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey string

const (
	messageIDKey     ctxKey = "messageId"
	correlationIDKey ctxKey = "correlationId"
	traceIDKey       ctxKey = "traceId"
)

// WithDeliveryMetadata threads an envelope's delivery metadata onto ctx so
// that logging middleware and handlers can read it without the metadata
// being passed down every function signature. Dispatchers call this once
// per handler invocation, per spec: every delivered message carries its
// MessageId, CorrelationId, and a human-readable TraceId.
func WithDeliveryMetadata(ctx context.Context, messageId uuid.UUID, correlationId, traceId string) context.Context {
	ctx = context.WithValue(ctx, messageIDKey, messageId)
	ctx = context.WithValue(ctx, correlationIDKey, correlationId)
	ctx = context.WithValue(ctx, traceIDKey, traceId)
	return ctx
}

// MessageIDFromContext returns the MessageId or uuid.Nil if not present.
func MessageIDFromContext(ctx context.Context) uuid.UUID {
	if v := ctx.Value(messageIDKey); v != nil {
		if id, ok := v.(uuid.UUID); ok {
			return id
		}
	}
	return uuid.Nil
}

// CorrelationIDFromContext returns the CorrelationId or "" if not present.
func CorrelationIDFromContext(ctx context.Context) string {
	if v := ctx.Value(correlationIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// TraceIDFromContext returns the human-readable TraceId or "" if not present.
func TraceIDFromContext(ctx context.Context) string {
	if v := ctx.Value(traceIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
