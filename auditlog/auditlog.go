// Package auditlog implements the durable table of processed-message keys
// the rebuilder uses to suppress double-application when replaying: a
// command is a duplicate if its Id has been seen before; an event is a
// duplicate if its (SourceType, SourceId, Version) triple has.
package auditlog

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/fenwick/escore"
)

// Record is the persisted row shape for one audited message.
type Record struct {
	Id            uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	MessageId     string `gorm:"column:message_id;uniqueIndex:idx_audit_message"`
	Kind          string `gorm:"column:kind"` // "command" or "event"
	SourceType    string `gorm:"column:source_type"`
	SourceId      string `gorm:"column:source_id"`
	Version       uint64 `gorm:"column:version"`
	Metadata      string `gorm:"column:metadata"`
	ProcessedDate time.Time
}

// TableName pins the physical table name regardless of the struct name.
func (Record) TableName() string { return "message_audit_log" }

// key identifies a message for duplicate detection — a command's Id, or an
// event's (SourceType, SourceId, Version) triple per spec §4.8.
func key(message escore.Message) (kind, sourceType, sourceId string, version uint64, messageKey string) {
	switch m := message.(type) {
	case escore.VersionedEvent:
		return "event", m.SourceType, m.SourceId, m.Version, fmt.Sprintf("%s/%s/%d", m.SourceType, m.SourceId, m.Version)
	default:
		return "command", "", "", 0, m.MessageID().String()
	}
}

// MessageAuditLog is the duplicate-detection surface the rebuilder
// consults before — and records into after — every message it processes.
// Every method accepts an optional tx: nil means "run against the log's
// own connection"; a non-nil tx (as produced by Transaction) enrolls the
// call in the caller's transaction, mirroring eventstore.RawStore.
type MessageAuditLog interface {
	// IsDuplicate reports whether message has already been recorded.
	IsDuplicate(ctx context.Context, tx *gorm.DB, message escore.Message) (bool, error)

	// Save records message as processed, with optional free-form metadata.
	Save(ctx context.Context, tx *gorm.DB, message escore.Message, metadata string) error

	// TruncateAndReseed deletes every row and resets the identity sequence —
	// the rebuilder's step 7, applied to the destination audit log before
	// it commits the replayed entries.
	TruncateAndReseed(ctx context.Context, tx *gorm.DB) error

	// Transaction runs fn within one database transaction.
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// SQLMessageAuditLog is the production MessageAuditLog, backed by gorm.
type SQLMessageAuditLog struct {
	db *gorm.DB
}

// NewSQLMessageAuditLog wraps an already-opened *gorm.DB and ensures the
// audit table exists.
func NewSQLMessageAuditLog(db *gorm.DB) (*SQLMessageAuditLog, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, err
	}
	return &SQLMessageAuditLog{db: db}, nil
}

func (l *SQLMessageAuditLog) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return l.db
}

func (l *SQLMessageAuditLog) IsDuplicate(ctx context.Context, tx *gorm.DB, message escore.Message) (bool, error) {
	kind, sourceType, sourceId, version, messageKey := key(message)

	query := l.conn(tx).WithContext(ctx).Model(&Record{}).Where("kind = ?", kind)
	if kind == "event" {
		query = query.Where("source_type = ? AND source_id = ? AND version = ?", sourceType, sourceId, version)
	} else {
		query = query.Where("message_id = ?", messageKey)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (l *SQLMessageAuditLog) Save(ctx context.Context, tx *gorm.DB, message escore.Message, metadata string) error {
	kind, sourceType, sourceId, version, messageKey := key(message)
	record := Record{
		MessageId:     messageKey,
		Kind:          kind,
		SourceType:    sourceType,
		SourceId:      sourceId,
		Version:       version,
		Metadata:      metadata,
		ProcessedDate: message.CreatedAt(),
	}
	return l.conn(tx).WithContext(ctx).Create(&record).Error
}

// TruncateAndReseed empties the table and, on SQLite, resets its identity
// sequence so replayed rows get the same ids a fresh database would have
// assigned — sqlite_sequence is SQLite-specific; Postgres has no equivalent
// table and tolerates gaps in a serial column without correctness issues,
// so the reseed step is simply a no-op there.
func (l *SQLMessageAuditLog) TruncateAndReseed(ctx context.Context, tx *gorm.DB) error {
	conn := l.conn(tx).WithContext(ctx)
	if err := conn.Exec("DELETE FROM message_audit_log").Error; err != nil {
		return err
	}
	if l.db.Dialector.Name() != "sqlite" {
		return nil
	}
	return conn.Exec("DELETE FROM sqlite_sequence WHERE name = 'message_audit_log'").Error
}

func (l *SQLMessageAuditLog) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return l.db.WithContext(ctx).Transaction(fn)
}
