// Package dispatch implements the two consumption-side primitives every
// handler ultimately runs under: a type-keyed CommandProcessor with bounded
// retry, and two EventDispatcher variants — a synchronous one that runs
// handlers on the caller's goroutine, and an asynchronous one that fans
// them out across a worker pool.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fenwick/escore"
	"github.com/fenwick/escore/telemetry"
)

// CommandHandler processes a command of concrete type C, returning the
// error that should determine whether the processor retries.
type CommandHandler[C escore.Command] func(ctx context.Context, command C) error

// AuditHandler is invoked after a command's specific handler succeeds,
// regardless of concrete type — the hook a rebuild's message-audit log
// registers to record that a command was processed.
type AuditHandler func(ctx context.Context, command escore.Command) error

// CommandProcessor dispatches a command to the one handler registered for
// its concrete type, making up to three attempts with linear backoff before
// giving up. It has no notion of shards or queues: one ProcessMessage call
// runs entirely on the caller's goroutine, return value and all.
type CommandProcessor struct {
	mu       sync.RWMutex
	handlers map[string]func(ctx context.Context, command escore.Command) error
	audit    AuditHandler
}

// NewCommandProcessor constructs an empty CommandProcessor.
func NewCommandProcessor() *CommandProcessor {
	return &CommandProcessor{
		handlers: make(map[string]func(ctx context.Context, command escore.Command) error),
	}
}

// Register adds a handler for command type C. It panics if a handler is
// already registered for that type — a programming error caught at
// startup, not something to recover from at request time.
func Register[C escore.Command](p *CommandProcessor, handler CommandHandler[C]) {
	var zero C
	name := escore.TypeName(zero)

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.handlers[name]; exists {
		panic(fmt.Sprintf("dispatch: %s: %v", name, escore.ErrDuplicateHandler))
	}

	p.handlers[name] = func(ctx context.Context, command escore.Command) error {
		c, ok := command.(C)
		if !ok {
			return fmt.Errorf("dispatch: expected command type %s but got %T", name, command)
		}
		return handler(ctx, c)
	}
}

// WithAuditHandler installs fn to run after every successful command
// dispatch, regardless of concrete type. Used by the rebuilder to record
// that a command was processed without needing a handler per command type.
func (p *CommandProcessor) WithAuditHandler(fn AuditHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.audit = fn
}

// SwapAuditHandler installs fn as the audit handler and returns whatever
// was previously installed, so a caller can restore it later. The
// rebuilder uses this to point the audit hook at its own, temporary audit
// log for the duration of one rebuild.
func (p *CommandProcessor) SwapAuditHandler(fn AuditHandler) (previous AuditHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	previous = p.audit
	p.audit = fn
	return previous
}

const (
	maxCommandAttempts = 3
	retryBaseDelay     = time.Second
)

// ProcessMessage dispatches command to its registered handler. On failure
// it retries, via a linear N*retryBaseDelay backoff.BackOff, for at most
// maxCommandAttempts attempts in total; the error from the final attempt is
// returned unwrapped, except that once ctx is done retrying stops and ctx's
// error is returned instead.
// escore.ErrNoHandler is never retried — no amount of waiting registers a
// handler that doesn't exist.
func (p *CommandProcessor) ProcessMessage(ctx context.Context, command escore.Command) error {
	name := escore.TypeName(command)

	p.mu.RLock()
	handler, ok := p.handlers[name]
	audit := p.audit
	p.mu.RUnlock()

	if !ok {
		return fmt.Errorf("dispatch: %s: %w", name, escore.ErrNoHandler)
	}

	start := time.Now()
	policy := backoff.WithContext(backoff.WithMaxRetries(&linearBackOff{base: retryBaseDelay}, maxCommandAttempts-1), ctx)
	err := backoff.RetryNotify(
		func() error { return handler(ctx, command) },
		policy,
		func(error, time.Duration) { telemetry.CommandsRetried.Add(ctx, 1) },
	)
	telemetry.CommandsDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	if err != nil {
		return err
	}

	telemetry.CommandsHandled.Add(ctx, 1)
	if audit != nil {
		return audit(ctx, command)
	}
	return nil
}
