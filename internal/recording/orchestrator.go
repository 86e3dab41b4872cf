package recording

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/tablecap/tablecap-go/internal/conf"
	"github.com/tablecap/tablecap-go/internal/errors"
	"github.com/tablecap/tablecap-go/internal/events"
	"github.com/tablecap/tablecap-go/internal/logging"
	"github.com/tablecap/tablecap-go/internal/observability"
	"github.com/tablecap/tablecap-go/internal/vmix"
)

// DeviceController is the replay control surface the orchestrator
// needs. *vmix.ReplayController satisfies it.
type DeviceController interface {
	StartHandRecording(ctx context.Context, tableID string, handNumber int) error
	EndHandRecording(ctx context.Context) vmix.HandRecordingResult
	CancelHandRecording(ctx context.Context) error
}

// ReadyFunc gates new recordings on ingestion readiness. Nil means
// always ready.
type ReadyFunc func() bool

// CompletionFunc is invoked synchronously when a session reaches a
// terminal status.
type CompletionFunc func(session *Session)

// Stats aggregates orchestrator state on demand.
type Stats struct {
	Active        int           `json:"active"`
	Completed     int           `json:"completed"`
	Failed        int           `json:"failed"`
	Cancelled     int           `json:"cancelled"`
	TotalDuration time.Duration `json:"total_duration"`
	Storage       StorageStats  `json:"storage"`
}

// Orchestrator maps fusion and failure events to per-table recording
// sessions. At most one session records per table, enforced by the
// stop-before-start policy.
type Orchestrator struct {
	settings   conf.RecordingSettings
	device     DeviceController
	storage    *Storage
	ready      ReadyFunc
	onComplete CompletionFunc
	bus        *events.Bus
	metrics    *observability.RecordingMetrics
	logger     *slog.Logger

	mu      sync.Mutex
	active  map[string]*Session
	history []*Session
}

// NewOrchestrator creates the recording orchestrator. ready,
// onComplete, bus and metrics may be nil.
func NewOrchestrator(settings conf.RecordingSettings, device DeviceController, storage *Storage, ready ReadyFunc, onComplete CompletionFunc, bus *events.Bus, metrics *observability.RecordingMetrics) *Orchestrator {
	if settings.HistorySize <= 0 {
		settings.HistorySize = 100
	}
	return &Orchestrator{
		settings:   settings,
		device:     device,
		storage:    storage,
		ready:      ready,
		onComplete: onComplete,
		bus:        bus,
		metrics:    metrics,
		logger:     logging.ForService("recording"),
		active:     make(map[string]*Session),
	}
}

// StartRecording begins a session for a hand. An already-active
// session for the table is stopped first, logged as a warning. While
// the ingestion path is mid-switch, the request is rejected as
// not-ready rather than queued.
func (o *Orchestrator) StartRecording(ctx context.Context, tableID string, handNumber int) (*Session, error) {
	if o.ready != nil && !o.ready() {
		return nil, errors.Newf("ingestion path is not ready, recording for table %s rejected", tableID).
			Component("recording").
			Category(errors.CategoryState).
			Context("table", tableID).
			Build()
	}

	o.mu.Lock()
	previous := o.active[tableID]
	o.mu.Unlock()

	if previous != nil {
		o.logger.Warn("recording already active for table, stopping it first",
			"table", tableID,
			"previous_hand", previous.HandNumber,
			"new_hand", handNumber,
		)
		if _, err := o.StopRecording(ctx, tableID); err != nil {
			o.logger.Warn("failed to stop previous recording", "table", tableID, "error", err)
		}
	}

	session := newSession(tableID, handNumber)

	if err := o.device.StartHandRecording(ctx, tableID, handNumber); err != nil {
		session.Status = StatusFailed
		session.EndedAt = time.Now()
		session.Error = err.Error()
		o.finish(session)
		return nil, errors.New(err).
			Component("recording").
			Category(errors.CategoryRecording).
			Context("table", tableID).
			Context("hand", handNumber).
			Build()
	}

	session.Status = StatusRecording

	o.mu.Lock()
	o.active[tableID] = session
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.ActiveSessions.Inc()
	}
	o.logger.Info("recording session started",
		"table", tableID,
		"hand", handNumber,
		"session", session.ID,
	)
	return session, nil
}

// StopRecording ends the active session for a table. The session
// reaches completed or failed depending on the device outcome, and is
// appended to the bounded history either way.
func (o *Orchestrator) StopRecording(ctx context.Context, tableID string) (*Session, error) {
	o.mu.Lock()
	session := o.active[tableID]
	delete(o.active, tableID)
	o.mu.Unlock()

	if session == nil {
		return nil, errors.Newf("no active recording for table %s", tableID).
			Component("recording").
			Category(errors.CategoryState).
			Context("table", tableID).
			Build()
	}

	result := o.device.EndHandRecording(ctx)
	session.EndedAt = time.Now()

	if result.Success {
		session.Status = StatusCompleted
		session.FileName = o.storage.FileName(tableID, session.HandNumber, session.StartedAt)
		session.FilePath = o.storage.FilePath(tableID, session.HandNumber, session.StartedAt)
		if info, err := os.Stat(session.FilePath); err == nil {
			session.FileSize = info.Size()
		}
		if min := time.Duration(o.settings.MinDurationSeconds) * time.Second; min > 0 && session.Duration() < min {
			session.Suspect = true
			o.logger.Warn("completed clip shorter than minimum duration",
				"table", tableID,
				"hand", session.HandNumber,
				"duration", session.Duration(),
				"minimum", min,
			)
		}
	} else {
		session.Status = StatusFailed
		session.Error = result.Error
	}

	if o.metrics != nil {
		o.metrics.ActiveSessions.Dec()
	}
	o.finish(session)

	o.logger.Info("recording session finished",
		"table", tableID,
		"hand", session.HandNumber,
		"status", string(session.Status),
		"duration", session.Duration(),
	)
	return session, nil
}

// CancelRecording discards the active session for a table without
// completing it.
func (o *Orchestrator) CancelRecording(ctx context.Context, tableID string) error {
	o.mu.Lock()
	session := o.active[tableID]
	delete(o.active, tableID)
	o.mu.Unlock()

	if session == nil {
		return errors.Newf("no active recording for table %s", tableID).
			Component("recording").
			Category(errors.CategoryState).
			Context("table", tableID).
			Build()
	}

	if err := o.device.CancelHandRecording(ctx); err != nil {
		o.logger.Warn("device cancel failed", "table", tableID, "error", err)
	}

	session.Status = StatusCancelled
	session.EndedAt = time.Now()
	if o.metrics != nil {
		o.metrics.ActiveSessions.Dec()
	}
	o.finish(session)

	o.logger.Info("recording session cancelled", "table", tableID, "hand", session.HandNumber)
	return nil
}

// StopAll ends every active session, used at shutdown.
func (o *Orchestrator) StopAll(ctx context.Context) {
	o.mu.Lock()
	tables := make([]string, 0, len(o.active))
	for tableID := range o.active {
		tables = append(tables, tableID)
	}
	o.mu.Unlock()

	for _, tableID := range tables {
		if _, err := o.StopRecording(ctx, tableID); err != nil {
			o.logger.Warn("failed to stop recording during shutdown", "table", tableID, "error", err)
		}
	}
}

// ActiveSession returns the recording session for a table, or nil.
func (o *Orchestrator) ActiveSession(tableID string) *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active[tableID]
}

// History returns a copy of terminal sessions, oldest first.
func (o *Orchestrator) History() []*Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Session(nil), o.history...)
}

// Stats derives aggregate numbers on demand.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	stats := Stats{Active: len(o.active)}
	for _, session := range o.history {
		switch session.Status {
		case StatusCompleted:
			stats.Completed++
			stats.TotalDuration += session.Duration()
		case StatusFailed:
			stats.Failed++
		case StatusCancelled:
			stats.Cancelled++
		}
	}
	o.mu.Unlock()

	if o.storage != nil {
		if storageStats, err := o.storage.Stats(); err == nil {
			stats.Storage = storageStats
		}
	}
	return stats
}

// finish appends a terminal session to the bounded history and fires
// the completion callback and event.
func (o *Orchestrator) finish(session *Session) {
	o.mu.Lock()
	o.history = append(o.history, session)
	if len(o.history) > o.settings.HistorySize {
		o.history = o.history[len(o.history)-o.settings.HistorySize:]
	}
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.SessionsTotal.WithLabelValues(string(session.Status)).Inc()
	}
	if o.bus != nil {
		o.bus.TryPublish(events.RecordingFinishedEvent{
			TableID:    session.TableID,
			HandNumber: session.HandNumber,
			Status:     string(session.Status),
			FilePath:   session.FilePath,
			Duration:   session.Duration(),
			At:         session.EndedAt,
		})
	}
	if o.onComplete != nil {
		o.fireCompletion(session)
	}
}

func (o *Orchestrator) fireCompletion(session *Session) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("completion callback panicked", "panic", r)
		}
	}()
	o.onComplete(session)
}
