package rebuild

import (
	"bytes"
	"context"
	"os"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fenwick/escore"
	"github.com/fenwick/escore/auditlog"
	"github.com/fenwick/escore/bus"
	"github.com/fenwick/escore/dispatch"
	"github.com/fenwick/escore/eventstore"
	"github.com/fenwick/escore/fixtures"
	"github.com/fenwick/escore/messagelog"
	"github.com/fenwick/escore/telemetry"
)

func TestMain(m *testing.M) {
	telemetry.MustInit()
	os.Exit(m.Run())
}

// fakeSource is a fixed, in-memory messagelog.Source, for driving a rebuild
// without a real database backing the log itself.
type fakeSource struct {
	records []messagelog.Record
}

func (s *fakeSource) Count(context.Context) (int64, error) {
	return int64(len(s.records)), nil
}

func (s *fakeSource) StreamAscending(context.Context) (*escore.Iterator[messagelog.Record], error) {
	idx := 0
	return escore.NewIterator(func(context.Context) (*messagelog.Record, error) {
		if idx >= len(s.records) {
			return nil, nil
		}
		r := s.records[idx]
		idx++
		return &r, nil
	}), nil
}

func serializeCommand(t *testing.T, serializer escore.Serializer, cmd escore.Command) string {
	t.Helper()
	var buf bytes.Buffer
	if err := serializer.Serialize(&buf, cmd); err != nil {
		t.Fatalf("unexpected error serializing: %v", err)
	}
	return buf.String()
}

func newTestAudit(t *testing.T) *auditlog.SQLMessageAuditLog {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("unexpected error opening database: %v", err)
	}
	log, err := auditlog.NewSQLMessageAuditLog(db)
	if err != nil {
		t.Fatalf("unexpected error constructing audit log: %v", err)
	}
	return log
}

// harness wires a rebuilder against a real command processor and event
// store, so that replaying a logged command actually appends events and
// those events actually reach the dispatcher, exercising the full chain a
// hand-rolled stub would only pretend to.
type harness struct {
	raw        *eventstore.MemoryRawStore
	serializer escore.Serializer
	store      *eventstore.Store[*fixtures.TestAggregate]
	processor  *dispatch.CommandProcessor
	dispatcher *dispatch.SyncEventDispatcher
	audit      *auditlog.SQLMessageAuditLog
	inMemBus   *bus.InMemory
	dispatched []escore.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	raw := eventstore.NewMemoryRawStore()
	serializer := escore.NewJSONSerializer(fixtures.TestEvent{}, fixtures.TestCommand{})
	inMemBus := bus.NewInMemory()

	store, err := eventstore.New[*fixtures.TestAggregate](raw, inMemBus, fixtures.NewTestAggregate, "TestAggregate", serializer)
	if err != nil {
		t.Fatalf("unexpected error constructing store: %v", err)
	}

	processor := dispatch.NewCommandProcessor()
	dispatch.Register[fixtures.TestCommand](processor, func(ctx context.Context, cmd fixtures.TestCommand) error {
		agg, err := store.Find(ctx, cmd.Target)
		if err != nil {
			return err
		}
		if agg == nil {
			agg = fixtures.NewTestAggregate(cmd.Target)
		}
		if err := agg.Append(cmd.Data); err != nil {
			return err
		}
		return store.Save(ctx, agg, cmd)
	})

	h := &harness{
		raw: raw, serializer: serializer, store: store,
		processor: processor, audit: newTestAudit(t), inMemBus: inMemBus,
	}

	h.dispatcher = dispatch.NewSyncEventDispatcher()
	dispatch.On[fixtures.TestEvent](h.dispatcher, func(_ context.Context, event fixtures.TestEvent) error {
		h.dispatched = append(h.dispatched, event)
		return nil
	})

	return h
}

func TestRebuilder_ReplaysCommandAndAppendsEvent(t *testing.T) {
	h := newHarness(t)
	cmd := fixtures.NewTestCommand("agg-1", "hello")
	source := &fakeSource{records: []messagelog.Record{
		{Id: 1, Kind: messagelog.KindCommand, Payload: serializeCommand(t, h.serializer, cmd), CorrelationId: cmd.MessageID().String()},
	}}

	r := New(source, h.raw, h.audit, h.processor, h.dispatcher, h.serializer, h.inMemBus)
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	agg, err := h.store.Get(context.Background(), "agg-1")
	if err != nil {
		t.Fatalf("unexpected error loading replayed aggregate: %v", err)
	}
	if agg.Version() != 1 {
		t.Fatalf("expected version 1, got %d", agg.Version())
	}
	if len(h.dispatched) != 1 {
		t.Fatalf("expected the replayed event to reach the dispatcher, got %d deliveries", len(h.dispatched))
	}
}

func TestRebuilder_TruncatesDestinationBeforeReplay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	preexisting := fixtures.NewTestAggregate("stale-agg")
	_ = preexisting.Append("leftover")
	if err := h.store.Save(ctx, preexisting, fixtures.NewTestCommand("stale-agg", "leftover")); err != nil {
		t.Fatalf("unexpected error seeding a pre-existing aggregate: %v", err)
	}
	h.inMemBus.DrainEvents()

	source := &fakeSource{}
	r := New(source, h.raw, h.audit, h.processor, h.dispatcher, h.serializer, h.inMemBus)
	if err := r.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found, err := h.store.Find(ctx, "stale-agg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found != nil {
		t.Fatalf("expected the pre-existing aggregate to have been truncated away")
	}
}

func TestRebuilder_DuplicateCommandInLogIsProcessedOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	cmd := fixtures.NewTestCommand("agg-1", "hello")
	payload := serializeCommand(t, h.serializer, cmd)

	// The same logged command appears twice — e.g. the log was appended to
	// but a prior rebuild attempt crashed partway through, recording it as
	// processed before failing to commit. A correct rebuild processes it
	// exactly once.
	source := &fakeSource{records: []messagelog.Record{
		{Id: 1, Kind: messagelog.KindCommand, Payload: payload, CorrelationId: cmd.MessageID().String()},
		{Id: 2, Kind: messagelog.KindCommand, Payload: payload, CorrelationId: cmd.MessageID().String()},
	}}
	r := New(source, h.raw, h.audit, h.processor, h.dispatcher, h.serializer, h.inMemBus)
	if err := r.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found, err := h.store.Get(ctx, "agg-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found.Version() != 1 {
		t.Fatalf("expected the duplicate entry to be skipped, leaving version 1, got %d", found.Version())
	}
	if len(h.dispatched) != 1 {
		t.Fatalf("expected exactly 1 dispatched event, got %d", len(h.dispatched))
	}
}

func TestRebuilder_UnknownMessageKindFails(t *testing.T) {
	h := newHarness(t)
	source := &fakeSource{records: []messagelog.Record{
		{Id: 1, Kind: messagelog.Kind("Bogus"), Payload: serializeCommand(t, h.serializer, fixtures.NewTestCommand("agg-1", "x"))},
	}}

	r := New(source, h.raw, h.audit, h.processor, h.dispatcher, h.serializer, h.inMemBus)
	if err := r.Run(context.Background()); err == nil {
		t.Fatalf("expected an error for an unrecognized message kind")
	}
}
