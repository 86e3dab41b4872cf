// Package recording orchestrates hand-scoped recording sessions,
// delegating device control to the replay controller and clip
// placement to the storage helper.
package recording

import (
	"time"

	"github.com/google/uuid"
)

// Status is a recording session lifecycle state. A session transitions
// to exactly one terminal status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRecording Status = "recording"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Session is one hand-scoped recording. Owned exclusively by the
// orchestrator until it reaches a terminal status.
type Session struct {
	ID         string    `json:"id"`
	TableID    string    `json:"table_id"`
	HandNumber int       `json:"hand_number"`
	Status     Status    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at,omitempty"`
	FilePath   string    `json:"file_path,omitempty"`
	FileName   string    `json:"file_name,omitempty"`
	FileSize   int64     `json:"file_size,omitempty"`
	Error      string    `json:"error,omitempty"`

	// Suspect marks a completed session shorter than the configured
	// minimum duration, usually a mis-triggered or cut-off capture.
	Suspect bool `json:"suspect,omitempty"`
}

// newSession creates a pending session for a hand.
func newSession(tableID string, handNumber int) *Session {
	return &Session{
		ID:         uuid.NewString(),
		TableID:    tableID,
		HandNumber: handNumber,
		Status:     StatusPending,
		StartedAt:  time.Now(),
	}
}

// Duration returns the session length, zero while still recording.
func (s *Session) Duration() time.Duration {
	if s.EndedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}
