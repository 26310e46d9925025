// Package eventstore implements the transactional event store: optimistic
// concurrency on append, snapshot-cache acceleration of reads, and
// outbox-style co-commit of outbound events (and a saga's outbound
// commands) with the event rows that produced them.
package eventstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fenwick/escore"
)

// EventRecord is the persisted row shape for one event, matching the
// logical schema of EventStore.Events: primary key (AggregateId,
// AggregateType, Version), uniqueness enforced by the database.
type EventRecord struct {
	AggregateId   string    `gorm:"column:aggregate_id;size:255;primaryKey"`
	AggregateType string    `gorm:"column:aggregate_type;size:255;primaryKey"`
	Version       uint64    `gorm:"column:version;primaryKey"`
	Payload       string    `gorm:"column:payload"`
	EventType     string    `gorm:"column:event_type;size:255"`
	CorrelationId string    `gorm:"column:correlation_id"`
	CreationDate  time.Time `gorm:"column:creation_date"`
}

// TableName pins the physical table name regardless of the struct name.
func (EventRecord) TableName() string { return "events" }

// SnapshotRecord is the persisted row shape for the optional durable
// Snapshots table. The in-process SnapshotCache is the hot path for reads;
// this table only exists so the rebuilder has something to truncate
// alongside Events, per spec.
type SnapshotRecord struct {
	AggregateId   string `gorm:"column:aggregate_id;primaryKey"`
	AggregateType string `gorm:"column:aggregate_type;primaryKey"`
	Payload       []byte `gorm:"column:payload"`
	Version       uint64 `gorm:"column:version"`
	CreationDate  time.Time
}

// TableName pins the physical table name regardless of the struct name.
func (SnapshotRecord) TableName() string { return "snapshots" }

// RawStore is the table-level persistence surface shared by every
// aggregate type: one physical Events table, discriminated by
// AggregateType. The generic Store[T] built on top of it is what
// application code actually calls; RawStore is also what the rebuilder
// truncates and replays into directly.
type RawStore interface {
	// MaxVersion returns the highest persisted Version for
	// (aggregateId, aggregateType), or 0 if no events exist. It must use a
	// non-blocking read so a slow concurrent writer cannot stall it.
	MaxVersion(ctx context.Context, tx *gorm.DB, aggregateId, aggregateType string) (uint64, error)

	// AppendEvents inserts records within tx. A primary-key collision
	// (another writer won the race for the same version) is translated to
	// *escore.ConcurrencyConflictError.
	AppendEvents(ctx context.Context, tx *gorm.DB, records []EventRecord) error

	// LoadTail returns persisted events for (aggregateId, aggregateType)
	// with Version > fromVersion, ascending.
	LoadTail(ctx context.Context, aggregateId, aggregateType string, fromVersion uint64) ([]EventRecord, error)

	// LoadSnapshot returns the durable snapshot row for
	// (aggregateId, aggregateType), if any.
	LoadSnapshot(ctx context.Context, aggregateId, aggregateType string) (SnapshotRecord, bool, error)

	// SaveSnapshot upserts the durable snapshot row.
	SaveSnapshot(ctx context.Context, snapshot SnapshotRecord) error

	// Transaction runs fn within a single database transaction under
	// read-committed isolation, with the vendor's automatic retry/execution
	// strategy suspended for the duration — no implicit reconnection may
	// happen inside a transaction that has already started.
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error

	// TruncateAll deletes every row of Events and Snapshots within tx. Used
	// exclusively by the rebuilder before replaying a message log.
	TruncateAll(ctx context.Context, tx *gorm.DB) error
}

// SQLRawStore is the production RawStore, backed by gorm over Postgres or
// SQLite — the same two backends aneshas-eventstore supports, selected by
// which gorm.Dialector the caller opens.
type SQLRawStore struct {
	db *gorm.DB
}

// NewSQLRawStore wraps an already-opened *gorm.DB (Postgres or SQLite
// dialector) and ensures the Events/Snapshots tables exist.
func NewSQLRawStore(db *gorm.DB) (*SQLRawStore, error) {
	if err := db.AutoMigrate(&EventRecord{}, &SnapshotRecord{}); err != nil {
		return nil, fmt.Errorf("eventstore: migrate schema: %w", err)
	}
	return &SQLRawStore{db: db}, nil
}

// dialCfg selects which backend OpenSQLRawStore connects to.
type dialCfg struct {
	postgresDSN string
	sqlitePath  string
}

// DialOption configures OpenSQLRawStore's backend selection.
type DialOption func(*dialCfg)

// WithPostgresDSN selects Postgres as the backing store.
func WithPostgresDSN(dsn string) DialOption {
	return func(c *dialCfg) { c.postgresDSN = dsn }
}

// WithSQLitePath selects SQLite as the backing store.
func WithSQLitePath(path string) DialOption {
	return func(c *dialCfg) { c.sqlitePath = path }
}

// OpenSQLRawStore opens a fresh database connection per opts and wraps it
// in a SQLRawStore, mirroring aneshas-eventstore's dual-backend dial
// pattern. Callers that already manage a *gorm.DB — for instance to share
// one connection across eventstore, auditlog, and messagelog — should use
// NewSQLRawStore directly instead.
func OpenSQLRawStore(opts ...DialOption) (*SQLRawStore, error) {
	var cfg dialCfg
	for _, opt := range opts {
		opt(&cfg)
	}

	var dial gorm.Dialector
	switch {
	case cfg.postgresDSN != "":
		dial = postgres.Open(cfg.postgresDSN)
	case cfg.sqlitePath != "":
		dial = sqlite.Open(cfg.sqlitePath)
	default:
		return nil, fmt.Errorf("eventstore: either a postgres dsn or a sqlite path must be provided")
	}

	db, err := gorm.Open(dial, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("eventstore: open database: %w", err)
	}
	return NewSQLRawStore(db)
}

func (s *SQLRawStore) MaxVersion(ctx context.Context, tx *gorm.DB, aggregateId, aggregateType string) (uint64, error) {
	if tx == nil {
		tx = s.db
	}
	var maxVersion uint64
	// READPAST/NOWAIT is vendor-specific; a production Postgres deployment
	// would add clause.Locking{Strength: "SHARE", Options: "NOWAIT"} here.
	// Plain read-committed reads suffice for the concurrency invariant,
	// which is actually enforced by the primary key on insert below.
	err := tx.WithContext(ctx).
		Model(&EventRecord{}).
		Where("aggregate_id = ? AND aggregate_type = ?", aggregateId, aggregateType).
		Select("COALESCE(MAX(version), 0)").
		Scan(&maxVersion).Error
	return maxVersion, err
}

func (s *SQLRawStore) AppendEvents(ctx context.Context, tx *gorm.DB, records []EventRecord) error {
	if tx == nil {
		tx = s.db
	}
	err := tx.WithContext(ctx).Create(&records).Error
	if isUniqueViolation(err) {
		first := records[0]
		return &escore.ConcurrencyConflictError{
			SourceId:            first.AggregateId,
			SourceType:          first.AggregateType,
			FirstPendingVersion: first.Version,
		}
	}
	return err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func (s *SQLRawStore) LoadTail(ctx context.Context, aggregateId, aggregateType string, fromVersion uint64) ([]EventRecord, error) {
	var records []EventRecord
	err := s.db.WithContext(ctx).
		Where("aggregate_id = ? AND aggregate_type = ? AND version > ?", aggregateId, aggregateType, fromVersion).
		Order("version ASC").
		Find(&records).Error
	return records, err
}

func (s *SQLRawStore) LoadSnapshot(ctx context.Context, aggregateId, aggregateType string) (SnapshotRecord, bool, error) {
	var record SnapshotRecord
	err := s.db.WithContext(ctx).
		Where("aggregate_id = ? AND aggregate_type = ?", aggregateId, aggregateType).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return SnapshotRecord{}, false, nil
	}
	if err != nil {
		return SnapshotRecord{}, false, err
	}
	return record, true, nil
}

func (s *SQLRawStore) SaveSnapshot(ctx context.Context, snapshot SnapshotRecord) error {
	return s.db.WithContext(ctx).Save(&snapshot).Error
}

func (s *SQLRawStore) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

func (s *SQLRawStore) TruncateAll(ctx context.Context, tx *gorm.DB) error {
	if tx == nil {
		tx = s.db
	}
	if err := tx.WithContext(ctx).Exec("DELETE FROM events").Error; err != nil {
		return err
	}
	return tx.WithContext(ctx).Exec("DELETE FROM snapshots").Error
}
