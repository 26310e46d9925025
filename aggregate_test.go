package escore

import (
	"errors"
	"testing"
)

type testAppended struct {
	BaseMessage
	Data string
}

func (testAppended) EventType() string { return "testAppended" }

type testAgg struct {
	*EventSourced
	history []string
}

func newTestAgg(id string) *testAgg {
	a := &testAgg{EventSourced: NewEventSourced(id, "testAgg")}
	a.Register(TypeName(testAppended{}), func(e Event) {
		a.history = append(a.history, e.(testAppended).Data)
	})
	return a
}

func (a *testAgg) Append(data string) error {
	return a.Update(testAppended{BaseMessage: NewBaseMessage(), Data: data})
}

func TestEventSourced_UpdateAppendsPendingAndAdvancesVersion(t *testing.T) {
	a := newTestAgg("agg-1")

	if err := a.Append("one"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.Append("two"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if a.Version() != 2 {
		t.Fatalf("expected version 2, got %d", a.Version())
	}
	if got := []string{"one", "two"}; a.history[0] != got[0] || a.history[1] != got[1] {
		t.Fatalf("rehydrator not applied: %v", a.history)
	}
	if !a.HasPending() {
		t.Fatalf("expected pending events")
	}

	pending := a.DrainPending()
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending events, got %d", len(pending))
	}
	if pending[0].Version != 1 || pending[1].Version != 2 {
		t.Fatalf("unexpected pending versions: %+v", pending)
	}
	if a.HasPending() {
		t.Fatalf("expected pending events cleared after drain")
	}
}

func TestEventSourced_UpdateMissingRehydrator(t *testing.T) {
	a := NewEventSourced("agg-1", "testAgg")

	err := a.Update(testAppended{BaseMessage: NewBaseMessage(), Data: "x"})
	if !errors.Is(err, ErrMissingRehydrator) {
		t.Fatalf("expected ErrMissingRehydrator, got %v", err)
	}
}

func TestEventSourced_LoadFromAppliesInOrder(t *testing.T) {
	a := newTestAgg("agg-1")

	history := []VersionedEvent{
		{Event: testAppended{BaseMessage: NewBaseMessage(), Data: "one"}, SourceId: "agg-1", SourceType: "testAgg", Version: 1},
		{Event: testAppended{BaseMessage: NewBaseMessage(), Data: "two"}, SourceId: "agg-1", SourceType: "testAgg", Version: 2},
	}

	if err := a.LoadFrom(history); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Version() != 2 {
		t.Fatalf("expected version 2, got %d", a.Version())
	}
	if a.HasPending() {
		t.Fatalf("LoadFrom must never populate pending")
	}
}

func TestEventSourced_LoadFromVersionGap(t *testing.T) {
	a := newTestAgg("agg-1")

	history := []VersionedEvent{
		{Event: testAppended{BaseMessage: NewBaseMessage(), Data: "one"}, SourceId: "agg-1", SourceType: "testAgg", Version: 1},
		{Event: testAppended{BaseMessage: NewBaseMessage(), Data: "three"}, SourceId: "agg-1", SourceType: "testAgg", Version: 3},
	}

	if err := a.LoadFrom(history); !errors.Is(err, ErrRehydrationMismatch) {
		t.Fatalf("expected ErrRehydrationMismatch, got %v", err)
	}
}

type testSagaAgg struct {
	*Saga
}

func newTestSagaAgg(id string) *testSagaAgg {
	s := &testSagaAgg{Saga: NewSaga(id, "testSagaAgg")}
	s.Register(TypeName(testAppended{}), func(Event) {})
	return s
}

type testDispatchCmd struct {
	BaseMessage
	Target string
}

func (c testDispatchCmd) TargetID() string { return c.Target }

func TestSaga_DispatchDrainsPendingCommands(t *testing.T) {
	s := newTestSagaAgg("saga-1")
	if err := s.Update(testAppended{BaseMessage: NewBaseMessage(), Data: "x"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Dispatch(testDispatchCmd{BaseMessage: NewBaseMessage(), Target: "other"})

	var emitter CommandEmitter = s
	cmds := emitter.DrainPendingCommands()
	if len(cmds) != 1 {
		t.Fatalf("expected 1 pending command, got %d", len(cmds))
	}
	if len(emitter.DrainPendingCommands()) != 0 {
		t.Fatalf("expected pending commands cleared after drain")
	}
}
