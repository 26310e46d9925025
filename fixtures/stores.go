package fixtures

import (
	"context"
	"strings"
	"sync"

	"gorm.io/gorm"

	"github.com/fenwick/escore"
	"github.com/fenwick/escore/eventstore"
)

// TestAggregate is a minimal escore.Aggregate backed by *escore.EventSourced,
// for exercising eventstore.Store[T] without a real domain model. Applying a
// TestEvent appends its Data to History.
type TestAggregate struct {
	*escore.EventSourced
	History []string
}

// NewTestAggregate constructs a fresh TestAggregate with the given id,
// matching the eventstore.Factory[*TestAggregate] signature.
func NewTestAggregate(id string) *TestAggregate {
	a := &TestAggregate{EventSourced: escore.NewEventSourced(id, "TestAggregate")}
	a.Register(escore.TypeName(TestEvent{}), func(event escore.Event) {
		a.History = append(a.History, event.(TestEvent).Data)
	})
	return a
}

// Append decides and applies a TestEvent carrying data.
func (a *TestAggregate) Append(data string) error {
	return a.Update(NewTestEvent(data))
}

// TestMementoAggregate is a TestAggregate that additionally implements
// escore.MementoOriginator, for exercising the snapshot-cache path.
type TestMementoAggregate struct {
	*TestAggregate
}

// NewTestMementoAggregate constructs a fresh TestMementoAggregate, matching
// the eventstore.Factory[*TestMementoAggregate] signature.
func NewTestMementoAggregate(id string) *TestMementoAggregate {
	return &TestMementoAggregate{TestAggregate: NewTestAggregate(id)}
}

type testMementoPayload struct {
	History []string
}

func (a *TestMementoAggregate) SaveToMemento() (escore.Memento, error) {
	return escore.Memento{
		SourceId:   a.Id(),
		SourceType: a.SourceType(),
		Version:    a.Version(),
		Payload:    []byte(strings.Join(a.History, ",")),
	}, nil
}

func (a *TestMementoAggregate) RestoreFromMemento(memento escore.Memento) error {
	if len(memento.Payload) == 0 {
		a.History = nil
	} else {
		a.History = strings.Split(string(memento.Payload), ",")
	}
	a.RestoreVersion(memento.Version)
	return nil
}

// TestSaga is a minimal escore.CommandEmitter backed by *escore.Saga, for
// exercising a saga's co-published commands through eventstore.Store[T].
type TestSaga struct {
	*escore.Saga
}

// NewTestSaga constructs a fresh TestSaga, matching the
// eventstore.Factory[*TestSaga] signature.
func NewTestSaga(id string) *TestSaga {
	s := &TestSaga{Saga: escore.NewSaga(id, "TestSaga")}
	s.Register(escore.TypeName(TestEvent{}), func(escore.Event) {})
	return s
}

// AppendAndDispatch decides a TestEvent and queues cmd to be co-published on
// the next Save.
func (s *TestSaga) AppendAndDispatch(data string, cmd escore.Command) error {
	if err := s.Update(NewTestEvent(data)); err != nil {
		return err
	}
	s.Dispatch(cmd)
	return nil
}

// FailingRawStore wraps an eventstore.RawStore and lets a test inject a
// failure on AppendEvents or LoadTail without needing a real database
// connection to break.
type FailingRawStore struct {
	mu sync.Mutex
	eventstore.RawStore

	appendErr error
	loadErr   error
}

// NewFailingRawStore wraps inner (typically eventstore.NewMemoryRawStore()).
func NewFailingRawStore(inner eventstore.RawStore) *FailingRawStore {
	return &FailingRawStore{RawStore: inner}
}

// FailOnAppend configures every subsequent AppendEvents call to return err.
func (s *FailingRawStore) FailOnAppend(err error) *FailingRawStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendErr = err
	return s
}

// FailOnLoad configures every subsequent LoadTail call to return err.
func (s *FailingRawStore) FailOnLoad(err error) *FailingRawStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadErr = err
	return s
}

func (s *FailingRawStore) AppendEvents(ctx context.Context, tx *gorm.DB, records []eventstore.EventRecord) error {
	s.mu.Lock()
	err := s.appendErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.RawStore.AppendEvents(ctx, tx, records)
}

func (s *FailingRawStore) LoadTail(ctx context.Context, aggregateId, aggregateType string, fromVersion uint64) ([]eventstore.EventRecord, error) {
	s.mu.Lock()
	err := s.loadErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.RawStore.LoadTail(ctx, aggregateId, aggregateType, fromVersion)
}
