// Package messagelog implements the durable, append-only record of every
// command and event ever processed — the rebuilder's sole input. Records
// are read back in ascending Id order, lazily, so a rebuild never needs to
// hold the whole log in memory.
package messagelog

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/fenwick/escore"
)

// Kind discriminates a logged message's broad category.
type Kind string

const (
	KindCommand Kind = "Command"
	KindEvent   Kind = "Event"
)

// Record is one row of MessageLog.Messages.
type Record struct {
	Id            uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	Payload       string `gorm:"column:payload"`
	Kind          Kind   `gorm:"column:kind"`
	SourceId      string `gorm:"column:source_id"`
	SourceType    string `gorm:"column:source_type"`
	Version       uint64 `gorm:"column:version"`
	CorrelationId string `gorm:"column:correlation_id"`
	CreatedDate   time.Time
}

// TableName pins the physical table name regardless of the struct name.
func (Record) TableName() string { return "message_log" }

// Source is the read surface the rebuilder needs: a count for progress
// reporting, and a lazy, ascending-Id stream of records.
type Source interface {
	Count(ctx context.Context) (int64, error)
	StreamAscending(ctx context.Context) (*escore.Iterator[Record], error)
}

// Appender is the write surface production code uses to grow the log —
// every command sent and every event published should also be appended
// here so a later rebuild has something to replay.
type Appender interface {
	Append(ctx context.Context, record Record) error
}

// SQLMessageLog is the production Source/Appender, backed by gorm.
type SQLMessageLog struct {
	db *gorm.DB
}

// NewSQLMessageLog wraps an already-opened *gorm.DB and ensures the table
// exists.
func NewSQLMessageLog(db *gorm.DB) (*SQLMessageLog, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, err
	}
	return &SQLMessageLog{db: db}, nil
}

func (l *SQLMessageLog) Append(ctx context.Context, record Record) error {
	return l.db.WithContext(ctx).Create(&record).Error
}

func (l *SQLMessageLog) Count(ctx context.Context) (int64, error) {
	var count int64
	err := l.db.WithContext(ctx).Model(&Record{}).Count(&count).Error
	return count, err
}

// StreamAscending pages through the table in fixed-size batches ordered by
// Id, presenting them as a single lazy Iterator[Record].
func (l *SQLMessageLog) StreamAscending(ctx context.Context) (*escore.Iterator[Record], error) {
	const pageSize = 256

	var (
		lastId uint64
		buffer []Record
		offset int
	)

	fetchNextPage := func() error {
		buffer = nil
		offset = 0
		return l.db.WithContext(ctx).
			Where("id > ?", lastId).
			Order("id ASC").
			Limit(pageSize).
			Find(&buffer).Error
	}

	return escore.NewIterator(func(ctx context.Context) (*Record, error) {
		if offset >= len(buffer) {
			if err := fetchNextPage(); err != nil {
				return nil, err
			}
			if len(buffer) == 0 {
				return nil, nil
			}
		}
		record := buffer[offset]
		offset++
		lastId = record.Id
		return &record, nil
	}), nil
}
