package escore

import (
	"sync"
	"time"
)

// snapshotKey is the (aggregateType, id) composite key the cache is keyed
// by.
type snapshotKey struct {
	sourceType string
	id         string
}

// snapshotEntry pairs a Memento with the wall-clock time it was refreshed
// at. A zero refreshedAt means "never" — MarkStale's effect.
type snapshotEntry struct {
	memento     Memento
	refreshedAt time.Time
}

// SnapshotCache is a keyed store of (aggregateType, id) → (Memento,
// lastRefreshAt), shared across processing rounds and therefore required to
// be safe for concurrent Get/Set/MarkStale. It is the only consistency
// shortcut the event store takes: an entry refreshed within the event
// store's freshness window (eventstore.WithSnapshotFreshness, default one
// second) is trusted without re-reading the event tail; anything older
// forces a tail read. The cache itself only reports an entry's age. Correctness never depends on the cache being strongly consistent —
// the event store always verifies versions at commit time regardless.
type SnapshotCache struct {
	mu    sync.Mutex
	data  map[snapshotKey]snapshotEntry
	clock func() time.Time
}

// NewSnapshotCache constructs an empty cache.
func NewSnapshotCache() *SnapshotCache {
	return &SnapshotCache{
		data:  make(map[snapshotKey]snapshotEntry),
		clock: time.Now,
	}
}

// Get returns the cached memento for (sourceType, id) and how long ago it
// was refreshed. The second return value is false if nothing is cached.
func (c *SnapshotCache) Get(sourceType, id string) (Memento, time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[snapshotKey{sourceType: sourceType, id: id}]
	if !ok || entry.refreshedAt.IsZero() {
		return Memento{}, 0, false
	}
	return entry.memento, c.clock().Sub(entry.refreshedAt), true
}

// Set refreshes the cached memento, stamping the current wall-clock time as
// its refresh time. Called only after a successful commit.
func (c *SnapshotCache) Set(memento Memento) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[snapshotKey{sourceType: memento.SourceType, id: memento.SourceId}] = snapshotEntry{
		memento:     memento,
		refreshedAt: c.clock(),
	}
}

// MarkStale sets the entry's refresh time to "never", so the next lookup
// treats it as absent and forces a tail read. Called on any save failure
// for the aggregate's identity.
func (c *SnapshotCache) MarkStale(sourceType, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := snapshotKey{sourceType: sourceType, id: id}
	if entry, ok := c.data[key]; ok {
		entry.refreshedAt = time.Time{}
		c.data[key] = entry
	}
}
