// Package telemetry is the core's perf-counter hooks: a single
// instrumentation scope of OpenTelemetry counters/histograms, consumed by
// the event store, the command processor, both event dispatcher variants,
// and the rebuilder, instead of each component rolling its own ad-hoc
// counters.
package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/fenwick/escore"

var (
	meter  metric.Meter
	Tracer trace.Tracer

	// Command processor metrics
	CommandsHandled  metric.Int64Counter
	CommandsRetried  metric.Int64Counter
	CommandsDuration metric.Float64Histogram

	// Event store metrics
	EventsAppended       metric.Int64Counter
	EventsLoaded         metric.Int64Counter
	ConcurrencyConflicts metric.Int64Counter
	SnapshotHits         metric.Int64Counter
	SnapshotMisses       metric.Int64Counter

	// Event dispatcher metrics
	EventsDispatched   metric.Int64Counter
	DispatchRetried    metric.Int64Counter
	DispatchDuration   metric.Float64Histogram

	// Rebuilder metrics — the spec's "perf-counter hooks" component.
	RebuildMessagesTotal     metric.Int64UpDownCounter
	RebuildMessagesProcessed metric.Int64Counter
	RebuildDuplicatesSkipped metric.Int64Counter
	RebuildDuration          metric.Float64Histogram

	once        sync.Once
	initErr     error
	initialized bool
)

// Init initializes the global meter and every counter/histogram. Call once
// at application startup; safe to call more than once.
func Init() error {
	once.Do(func() {
		meter = otel.Meter(instrumentationName)
		Tracer = otel.Tracer(instrumentationName)
		initErr = initializeMetrics()
		initialized = initErr == nil
	})
	return initErr
}

// MustInit initializes metrics and panics on error. Intended for use in
// main(), mirroring the fail-fast startup pattern the rest of the core
// uses for registration errors (DuplicateHandler, IncompatibleBus).
func MustInit() {
	if err := Init(); err != nil {
		panic("telemetry: failed to initialize metrics: " + err.Error())
	}
}

// IsInitialized reports whether Init has completed successfully.
func IsInitialized() bool {
	return initialized
}

func initializeMetrics() error {
	var err error

	CommandsHandled, err = meter.Int64Counter(
		"escore.commands.handled",
		metric.WithDescription("Number of commands handled by the command processor"),
		metric.WithUnit("{command}"),
	)
	if err != nil {
		return err
	}

	CommandsRetried, err = meter.Int64Counter(
		"escore.commands.retried",
		metric.WithDescription("Number of command handler retry attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return err
	}

	CommandsDuration, err = meter.Float64Histogram(
		"escore.commands.duration",
		metric.WithDescription("Command handling duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)
	if err != nil {
		return err
	}

	EventsAppended, err = meter.Int64Counter(
		"escore.events.appended",
		metric.WithDescription("Number of events appended to the event store"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return err
	}

	EventsLoaded, err = meter.Int64Counter(
		"escore.events.loaded",
		metric.WithDescription("Number of events loaded while rehydrating an aggregate"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return err
	}

	ConcurrencyConflicts, err = meter.Int64Counter(
		"escore.concurrency.conflicts",
		metric.WithDescription("Number of optimistic concurrency conflicts raised on save"),
		metric.WithUnit("{conflict}"),
	)
	if err != nil {
		return err
	}

	SnapshotHits, err = meter.Int64Counter(
		"escore.snapshot.hits",
		metric.WithDescription("Number of Find/Get calls served entirely from a fresh snapshot"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return err
	}

	SnapshotMisses, err = meter.Int64Counter(
		"escore.snapshot.misses",
		metric.WithDescription("Number of Find/Get calls that had to read the event tail"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return err
	}

	EventsDispatched, err = meter.Int64Counter(
		"escore.dispatch.events",
		metric.WithDescription("Number of event deliveries handed to dispatch handlers"),
		metric.WithUnit("{delivery}"),
	)
	if err != nil {
		return err
	}

	DispatchRetried, err = meter.Int64Counter(
		"escore.dispatch.retried",
		metric.WithDescription("Number of asynchronous dispatcher handler retry attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return err
	}

	DispatchDuration, err = meter.Float64Histogram(
		"escore.dispatch.duration",
		metric.WithDescription("Event dispatch duration, per handler"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000),
	)
	if err != nil {
		return err
	}

	RebuildMessagesTotal, err = meter.Int64UpDownCounter(
		"escore.rebuild.messages_total",
		metric.WithDescription("Total messages counted for the in-progress rebuild"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return err
	}

	RebuildMessagesProcessed, err = meter.Int64Counter(
		"escore.rebuild.messages_processed",
		metric.WithDescription("Messages replayed so far during a rebuild"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return err
	}

	RebuildDuplicatesSkipped, err = meter.Int64Counter(
		"escore.rebuild.duplicates_skipped",
		metric.WithDescription("Messages skipped during rebuild because the audit log had already seen them"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return err
	}

	RebuildDuration, err = meter.Float64Histogram(
		"escore.rebuild.duration",
		metric.WithDescription("Total wall-clock duration of a rebuild run"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(100, 500, 1000, 5000, 10000, 30000, 60000),
	)
	return err
}
