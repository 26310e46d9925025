package eventstore

import (
	"context"
	"sort"
	"sync"

	"gorm.io/gorm"

	"github.com/fenwick/escore"
)

// MemoryRawStore is an in-process RawStore, used by tests and by the
// rebuilder when exercising a scenario without a real database. It honors
// the same concurrency and truncation semantics as SQLRawStore so the two
// are interchangeable behind the RawStore interface.
//
// Transaction does not open a real database transaction — there is nothing
// to roll back to. Each method instead takes the store's mutex for its own
// duration, mirroring the teacher's in-memory store, which is deliberately
// simpler than its SQL sibling.
type MemoryRawStore struct {
	mu        sync.Mutex
	events    map[string][]EventRecord // key: aggregateType + "/" + aggregateId
	snapshots map[string]SnapshotRecord
}

// NewMemoryRawStore constructs an empty in-memory RawStore.
func NewMemoryRawStore() *MemoryRawStore {
	return &MemoryRawStore{
		events:    make(map[string][]EventRecord),
		snapshots: make(map[string]SnapshotRecord),
	}
}

func streamKey(aggregateId, aggregateType string) string {
	return aggregateType + "/" + aggregateId
}

func (m *MemoryRawStore) MaxVersion(_ context.Context, _ *gorm.DB, aggregateId, aggregateType string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := m.events[streamKey(aggregateId, aggregateType)]
	var max uint64
	for _, r := range records {
		if r.Version > max {
			max = r.Version
		}
	}
	return max, nil
}

func (m *MemoryRawStore) AppendEvents(_ context.Context, _ *gorm.DB, records []EventRecord) error {
	if len(records) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := streamKey(records[0].AggregateId, records[0].AggregateType)
	existing := m.events[key]
	current := uint64(0)
	for _, r := range existing {
		if r.Version > current {
			current = r.Version
		}
	}
	if current+1 != records[0].Version {
		return &escore.ConcurrencyConflictError{
			SourceId:            records[0].AggregateId,
			SourceType:          records[0].AggregateType,
			Expected:            current + 1,
			FirstPendingVersion: records[0].Version,
		}
	}
	m.events[key] = append(existing, records...)
	return nil
}

func (m *MemoryRawStore) LoadTail(_ context.Context, aggregateId, aggregateType string, fromVersion uint64) ([]EventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var tail []EventRecord
	for _, r := range m.events[streamKey(aggregateId, aggregateType)] {
		if r.Version > fromVersion {
			tail = append(tail, r)
		}
	}
	sort.Slice(tail, func(i, j int) bool { return tail[i].Version < tail[j].Version })
	return tail, nil
}

func (m *MemoryRawStore) LoadSnapshot(_ context.Context, aggregateId, aggregateType string) (SnapshotRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.snapshots[streamKey(aggregateId, aggregateType)]
	return record, ok, nil
}

func (m *MemoryRawStore) SaveSnapshot(_ context.Context, snapshot SnapshotRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshots[streamKey(snapshot.AggregateId, snapshot.AggregateType)] = snapshot
	return nil
}

func (m *MemoryRawStore) Transaction(_ context.Context, fn func(tx *gorm.DB) error) error {
	// No real transaction boundary: each operation fn calls (MaxVersion,
	// AppendEvents, ...) takes m.mu for its own duration, so there is no
	// reentrancy hazard, but also no isolation from concurrent callers
	// outside of what those per-operation locks provide.
	return fn(nil)
}

func (m *MemoryRawStore) TruncateAll(_ context.Context, _ *gorm.DB) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = make(map[string][]EventRecord)
	m.snapshots = make(map[string]SnapshotRecord)
	return nil
}
