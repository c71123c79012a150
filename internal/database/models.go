package database

import "time"

type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// AuditLog is one recorded session or command event.
type AuditLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
	Identity   string    `gorm:"index;not null" json:"identity"`
	SessionID  string    `gorm:"index" json:"session_id,omitempty"`
	EventType  string    `gorm:"index;not null" json:"event_type"`
	Command    string    `json:"command,omitempty"`
	Details    string    `json:"details,omitempty"`
	ExitCode   *int      `json:"exit_code,omitempty"`
	DurationMs int64     `json:"duration_ms"`
}
