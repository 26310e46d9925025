// Package logging provides slog-based middleware for the two dispatch
// surfaces — the command processor and the event dispatchers — following
// the same wrap-a-handler pattern the teacher used for its own command and
// event handlers, unified onto log/slog instead of the teacher's mixed
// logrus/slog split.
package logging

import (
	"context"
	"log/slog"

	"github.com/fenwick/escore"
	"github.com/fenwick/escore/dispatch"
)

// WithCommandLogging wraps a CommandHandler with structured logging: one
// debug line before the handler runs and one more after it succeeds; on
// failure an error line is logged in place of the second debug line. Delivery metadata already stashed on ctx by
// escore.WithDeliveryMetadata is pulled in automatically.
func WithCommandLogging[C escore.Command](logger *slog.Logger, next dispatch.CommandHandler[C]) dispatch.CommandHandler[C] {
	return func(ctx context.Context, command C) error {
		l := logger.With(
			"command", escore.TypeName(command),
			"target", command.TargetID(),
			"correlationId", escore.CorrelationIDFromContext(ctx),
			"traceId", escore.TraceIDFromContext(ctx),
		)

		l.DebugContext(ctx, "command processing started")
		err := next(ctx, command)
		if err != nil {
			l.ErrorContext(ctx, "command processing failed", "error", err)
			return err
		}
		l.DebugContext(ctx, "command processed successfully")
		return nil
	}
}
