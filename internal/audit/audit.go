// Package audit records who ran what, and how it ended, in the database.
//
// Command text is passed through policy.Redact before it is stored. Input
// typed into a session is never stored, only its length.
package audit

import (
	"log"
	"sync"
	"time"

	"github.com/gluk-w/claworc/shellrelay/internal/database"
	"github.com/gluk-w/claworc/shellrelay/internal/logutil"
	"github.com/gluk-w/claworc/shellrelay/internal/policy"
	"gorm.io/gorm"
)

// Event types.
const (
	EventCommandRejected = "command_rejected"
	EventCommandExecuted = "command_executed"
	EventSessionStart    = "session_start"
	EventSessionEnd      = "session_end"
	EventSessionExpired  = "session_expired"
	EventAuthFailure     = "auth_failure"
	EventInputDelivered  = "input_delivered"
)

// DefaultRetentionDays is the default number of days to keep audit logs.
const DefaultRetentionDays = 30

// Entry contains the fields needed to create an audit log entry.
type Entry struct {
	Identity   string
	SessionID  string
	EventType  string
	Command    string
	Details    string
	ExitCode   *int
	DurationMs int64
}

// Logger is the write side of the Auditor, for components that only emit
// events.
type Logger interface {
	Log(entry Entry) error
}

// Auditor writes audit records to the database and also emits log lines.
type Auditor struct {
	mu            sync.RWMutex
	db            *gorm.DB
	retentionDays int
	nowFn         func() time.Time
}

// NewAuditor creates an Auditor. If retentionDays is 0, DefaultRetentionDays
// is used.
func NewAuditor(db *gorm.DB, retentionDays int) *Auditor {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Auditor{
		db:            db,
		retentionDays: retentionDays,
		nowFn:         time.Now,
	}
}

// Log records an audit event.
func (a *Auditor) Log(entry Entry) error {
	record := database.AuditLog{
		CreatedAt:  a.now(),
		Identity:   entry.Identity,
		SessionID:  entry.SessionID,
		EventType:  entry.EventType,
		Command:    policy.Redact(entry.Command),
		Details:    entry.Details,
		ExitCode:   entry.ExitCode,
		DurationMs: entry.DurationMs,
	}

	if err := a.db.Create(&record).Error; err != nil {
		log.Printf("[audit] failed to write audit log: %v", err)
		return err
	}

	log.Printf("[audit] %s identity=%s session=%s command=%s details=%s",
		entry.EventType,
		logutil.SanitizeForLog(entry.Identity),
		entry.SessionID,
		logutil.SanitizeForLog(logutil.Truncate(record.Command, 120)),
		logutil.SanitizeForLog(entry.Details),
	)
	return nil
}

func (a *Auditor) now() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.nowFn()
}

// QueryOptions specifies filters for retrieving audit logs.
type QueryOptions struct {
	Identity  string
	SessionID string
	EventType string
	Since     *time.Time
	Until     *time.Time
	Limit     int
	Offset    int
}

// QueryResult contains audit log entries and pagination metadata.
type QueryResult struct {
	Entries []database.AuditLog `json:"entries"`
	Total   int64               `json:"total"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

// Query retrieves audit log entries matching the given options, newest
// first.
func (a *Auditor) Query(opts QueryOptions) (*QueryResult, error) {
	tx := a.db.Model(&database.AuditLog{})

	if opts.Identity != "" {
		tx = tx.Where("identity = ?", opts.Identity)
	}
	if opts.SessionID != "" {
		tx = tx.Where("session_id = ?", opts.SessionID)
	}
	if opts.EventType != "" {
		tx = tx.Where("event_type = ?", opts.EventType)
	}
	if opts.Since != nil {
		tx = tx.Where("created_at >= ?", *opts.Since)
	}
	if opts.Until != nil {
		tx = tx.Where("created_at <= ?", *opts.Until)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, err
	}

	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	var entries []database.AuditLog
	if err := tx.Order("created_at DESC, id DESC").Offset(opts.Offset).Limit(opts.Limit).Find(&entries).Error; err != nil {
		return nil, err
	}

	return &QueryResult{
		Entries: entries,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	}, nil
}

// PurgeOlderThan removes entries older than days, or the configured
// retention when days <= 0. Returns the number of records deleted.
func (a *Auditor) PurgeOlderThan(days int) (int64, error) {
	if days <= 0 {
		days = a.retentionDays
	}
	cutoff := a.now().AddDate(0, 0, -days)
	result := a.db.Where("created_at < ?", cutoff).Delete(&database.AuditLog{})
	if result.Error != nil {
		log.Printf("[audit] purge failed: %v", result.Error)
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		log.Printf("[audit] purged %d audit log entries older than %d days", result.RowsAffected, days)
	}
	return result.RowsAffected, nil
}

// RetentionDays returns the configured retention period.
func (a *Auditor) RetentionDays() int {
	return a.retentionDays
}

// SetNowFunc sets the clock function used for testing.
func (a *Auditor) SetNowFunc(fn func() time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nowFn = fn
}

// IntPtr returns a pointer to v, for Entry.ExitCode.
func IntPtr(v int) *int {
	return &v
}
