package auditlog

import (
	"context"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fenwick/escore/fixtures"
)

func newTestLog(t *testing.T) *SQLMessageAuditLog {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("unexpected error opening database: %v", err)
	}
	log, err := NewSQLMessageAuditLog(db)
	if err != nil {
		t.Fatalf("unexpected error constructing audit log: %v", err)
	}
	return log
}

func TestMessageAuditLog_CommandIsNotADuplicateUntilSaved(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()
	cmd := fixtures.NewTestCommand("agg-1", "x")

	dup, err := log.IsDuplicate(ctx, nil, cmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dup {
		t.Fatalf("expected a never-seen command not to be a duplicate")
	}

	if err := log.Save(ctx, nil, cmd, ""); err != nil {
		t.Fatalf("unexpected error saving: %v", err)
	}

	dup, err = log.IsDuplicate(ctx, nil, cmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dup {
		t.Fatalf("expected the command to be a duplicate after being saved")
	}
}

func TestMessageAuditLog_EventDuplicateKeyIsCompositeNotMessageId(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	first := fixtures.Versioned(fixtures.NewTestEvent("one"), "agg-1", "TestAggregate", 1)
	if err := log.Save(ctx, nil, first, ""); err != nil {
		t.Fatalf("unexpected error saving: %v", err)
	}

	// A distinct message id, same (SourceType, SourceId, Version) triple —
	// still a duplicate, since events are keyed by stream position, not id.
	replay := fixtures.Versioned(fixtures.NewTestEvent("one-resent"), "agg-1", "TestAggregate", 1)
	dup, err := log.IsDuplicate(ctx, nil, replay)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dup {
		t.Fatalf("expected a resent event at the same stream position to be a duplicate")
	}

	next := fixtures.Versioned(fixtures.NewTestEvent("two"), "agg-1", "TestAggregate", 2)
	dup, err = log.IsDuplicate(ctx, nil, next)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dup {
		t.Fatalf("expected a new stream position not to be a duplicate")
	}
}

func TestMessageAuditLog_CommandAndEventKeysDoNotCollide(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	cmd := fixtures.NewTestCommand("agg-1", "x")
	if err := log.Save(ctx, nil, cmd, ""); err != nil {
		t.Fatalf("unexpected error saving command: %v", err)
	}

	event := fixtures.Versioned(fixtures.NewTestEvent("x"), "agg-1", "TestAggregate", 1)
	dup, err := log.IsDuplicate(ctx, nil, event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dup {
		t.Fatalf("expected an event to never collide with a command's key, even on the same stream")
	}
}

func TestMessageAuditLog_TruncateAndReseedClearsRows(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()
	cmd := fixtures.NewTestCommand("agg-1", "x")

	if err := log.Save(ctx, nil, cmd, ""); err != nil {
		t.Fatalf("unexpected error saving: %v", err)
	}
	if err := log.TruncateAndReseed(ctx, nil); err != nil {
		t.Fatalf("unexpected error truncating: %v", err)
	}

	dup, err := log.IsDuplicate(ctx, nil, cmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dup {
		t.Fatalf("expected the audit log to be empty after truncation")
	}
}

func TestMessageAuditLog_TransactionEnrollsSave(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()
	cmd := fixtures.NewTestCommand("agg-1", "x")

	err := log.Transaction(ctx, func(tx *gorm.DB) error {
		return log.Save(ctx, tx, cmd, "")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dup, err := log.IsDuplicate(ctx, nil, cmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dup {
		t.Fatalf("expected the transactionally-saved command to be visible afterward")
	}
}

func TestMessageAuditLog_FailedTransactionRollsBack(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()
	cmd := fixtures.NewTestCommand("agg-1", "x")
	boom := errorForRollback{}

	err := log.Transaction(ctx, func(tx *gorm.DB) error {
		if err := log.Save(ctx, tx, cmd, ""); err != nil {
			return err
		}
		return boom
	})
	if err == nil {
		t.Fatalf("expected the transaction to fail")
	}

	dup, err := log.IsDuplicate(ctx, nil, cmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dup {
		t.Fatalf("expected the save to have been rolled back")
	}
}

type errorForRollback struct{}

func (errorForRollback) Error() string { return "rollback me" }
