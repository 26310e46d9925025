package logging

import (
	"context"
	"log/slog"

	"github.com/fenwick/escore"
	"github.com/fenwick/escore/dispatch"
)

// WithEventLogging wraps an EventHandler with structured logging, mirroring
// the teacher's eventhandler.go WithLoggingMiddleware but reading delivery
// metadata from escore's context helpers instead of the teacher's
// stream/causation-specific ones.
func WithEventLogging(logger *slog.Logger, next dispatch.EventHandler) dispatch.EventHandler {
	return func(ctx context.Context, event escore.Event) error {
		l := logger.With(
			"event", escore.TypeName(event),
			"messageId", escore.MessageIDFromContext(ctx),
			"correlationId", escore.CorrelationIDFromContext(ctx),
			"traceId", escore.TraceIDFromContext(ctx),
		)

		l.DebugContext(ctx, "event processing started")
		err := next(ctx, event)
		if err != nil {
			l.ErrorContext(ctx, "event processing failed", "error", err)
			return err
		}
		l.DebugContext(ctx, "event processed successfully")
		return nil
	}
}
