package audit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/gluk-w/claworc/shellrelay/internal/database"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestAuditor(t *testing.T) *Auditor {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&database.AuditLog{}); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return NewAuditor(db, 0)
}

func TestLogRedactsCommand(t *testing.T) {
	a := newTestAuditor(t)
	if err := a.Log(Entry{
		Identity:  "alice",
		EventType: EventSessionStart,
		Command:   "sshpass -p hunter2 ssh root@db",
	}); err != nil {
		t.Fatalf("Log: %v", err)
	}

	res, err := a.Query(QueryOptions{Identity: "alice"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Total != 1 {
		t.Fatalf("total = %d, want 1", res.Total)
	}
	if got := res.Entries[0].Command; got != "sshpass -p [REDACTED] ssh root@db" {
		t.Errorf("stored command = %q", got)
	}
}

func TestQueryFilters(t *testing.T) {
	a := newTestAuditor(t)
	a.Log(Entry{Identity: "alice", EventType: EventCommandExecuted, Command: "echo hi", ExitCode: IntPtr(0)})
	a.Log(Entry{Identity: "alice", EventType: EventCommandRejected, Command: "rm -rf /"})
	a.Log(Entry{Identity: "bob", EventType: EventCommandExecuted, Command: "ls"})

	res, err := a.Query(QueryOptions{EventType: EventCommandExecuted})
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 2 {
		t.Errorf("executed total = %d, want 2", res.Total)
	}

	res, _ = a.Query(QueryOptions{Identity: "alice", EventType: EventCommandRejected})
	if res.Total != 1 || res.Entries[0].Command != "rm -rf /" {
		t.Errorf("rejected = %+v", res.Entries)
	}

	res, _ = a.Query(QueryOptions{Limit: 1})
	if len(res.Entries) != 1 || res.Total != 3 || res.Entries[0].Identity != "bob" {
		t.Errorf("limit query = %+v", res)
	}
}

func TestQueryLimitBounds(t *testing.T) {
	a := newTestAuditor(t)
	res, err := a.Query(QueryOptions{Limit: 5000, Offset: -3})
	if err != nil {
		t.Fatal(err)
	}
	if res.Limit != 1000 || res.Offset != 0 {
		t.Errorf("limit/offset = %d/%d", res.Limit, res.Offset)
	}
	res, _ = a.Query(QueryOptions{})
	if res.Limit != 50 {
		t.Errorf("default limit = %d", res.Limit)
	}
}

func TestPurgeOlderThan(t *testing.T) {
	a := newTestAuditor(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	a.SetNowFunc(func() time.Time { return now.AddDate(0, 0, -40) })
	a.Log(Entry{Identity: "alice", EventType: EventSessionEnd})
	a.SetNowFunc(func() time.Time { return now.AddDate(0, 0, -5) })
	a.Log(Entry{Identity: "alice", EventType: EventSessionEnd})

	a.SetNowFunc(func() time.Time { return now })
	n, err := a.PurgeOlderThan(0)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d, want 1", n)
	}
	res, _ := a.Query(QueryOptions{})
	if res.Total != 1 {
		t.Errorf("remaining = %d, want 1", res.Total)
	}
	if a.RetentionDays() != DefaultRetentionDays {
		t.Errorf("retention = %d", a.RetentionDays())
	}
}
