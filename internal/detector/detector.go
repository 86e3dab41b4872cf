// Package detector tracks liveness of the primary and secondary
// channels and declares the automation-failed condition that activates
// manual marking.
package detector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tablecap/tablecap-go/internal/conf"
	"github.com/tablecap/tablecap-go/internal/events"
	"github.com/tablecap/tablecap-go/internal/logging"
	"github.com/tablecap/tablecap-go/internal/observability"
)

// Reason identifies why fallback mode was tripped.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonPrimaryTimeout Reason = "primary_timeout"
	ReasonBothFailed     Reason = "both_failed"
	ReasonFusionMismatch Reason = "fusion_mismatch"
	ReasonManualOverride Reason = "manual_override"
)

// AutomationState is a snapshot of channel liveness and fallback
// status.
type AutomationState struct {
	PrimaryConnected      bool      `json:"primary_connected"`
	SecondaryConnected    bool      `json:"secondary_connected"`
	LastPrimaryEvent      time.Time `json:"last_primary_event"`
	LastSecondaryEvent    time.Time `json:"last_secondary_event"`
	PrimaryEventCount     uint64    `json:"primary_event_count"`
	SecondaryEventCount   uint64    `json:"secondary_event_count"`
	ConsecutiveMismatches int       `json:"consecutive_mismatches"`
	LastMismatchAt        time.Time `json:"last_mismatch_at"`
	FallbackActive        bool      `json:"fallback_active"`
	FallbackReason        Reason    `json:"fallback_reason"`
	FallbackSince         time.Time `json:"fallback_since"`
}

// FailureEvent is one retained trip record for postmortem analysis.
type FailureEvent struct {
	Reason   Reason          `json:"reason"`
	At       time.Time       `json:"at"`
	Snapshot AutomationState `json:"snapshot"`
}

// AlertFunc is invoked exactly once per fallback trip.
type AlertFunc func(reason Reason, state AutomationState)

// Config holds the failure detector parameters.
type Config struct {
	// PrimaryTimeout is the maximum silence tolerated on a connected
	// primary channel.
	PrimaryTimeout time.Duration

	// SecondaryTimeout is the maximum silence tolerated on the
	// secondary channel, checked only while the primary is down.
	SecondaryTimeout time.Duration

	// MismatchThreshold is the consecutive fusion mismatch streak that
	// trips fallback.
	MismatchThreshold int

	// CheckInterval is how often Run evaluates timeouts.
	CheckInterval time.Duration

	// HistorySize bounds the retained trip history.
	HistorySize int
}

// ConfigFromSettings extracts the detector parameters from the
// application settings.
func ConfigFromSettings(settings *conf.Settings) Config {
	return Config{
		PrimaryTimeout:    time.Duration(settings.Fallback.PrimaryTimeoutSeconds) * time.Second,
		SecondaryTimeout:  time.Duration(settings.Fallback.SecondaryTimeoutSeconds) * time.Second,
		MismatchThreshold: settings.Fallback.MismatchThreshold,
	}
}

// Detector tracks both channels independently and trips fallback with
// hysteresis: once tripped, repeated trip conditions are no-ops until
// an explicit reset.
type Detector struct {
	config  Config
	onAlert AlertFunc
	bus     *events.Bus
	metrics *observability.FailoverMetrics
	logger  *slog.Logger

	mu      sync.Mutex
	state   AutomationState
	history []FailureEvent
}

// NewDetector creates a failure detector. onAlert, bus and metrics may
// be nil.
func NewDetector(config Config, onAlert AlertFunc, bus *events.Bus, metrics *observability.FailoverMetrics) *Detector {
	if config.PrimaryTimeout <= 0 {
		config.PrimaryTimeout = 30 * time.Second
	}
	if config.SecondaryTimeout <= 0 {
		config.SecondaryTimeout = 60 * time.Second
	}
	if config.MismatchThreshold <= 0 {
		config.MismatchThreshold = 3
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = 5 * time.Second
	}
	if config.HistorySize <= 0 {
		config.HistorySize = 100
	}
	return &Detector{
		config:  config,
		onAlert: onAlert,
		bus:     bus,
		metrics: metrics,
		logger:  logging.ForService("detector"),
	}
}

// UpdatePrimaryStatus records primary channel liveness. An event
// receipt also clears the fusion mismatch streak, since a flowing
// primary is direct evidence automation still works.
func (d *Detector) UpdatePrimaryStatus(connected, eventReceived bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state.PrimaryConnected = connected
	if eventReceived {
		d.state.LastPrimaryEvent = time.Now()
		d.state.PrimaryEventCount++
		d.state.ConsecutiveMismatches = 0
	}
}

// UpdateSecondaryStatus records secondary channel liveness.
func (d *Detector) UpdateSecondaryStatus(connected, eventReceived bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state.SecondaryConnected = connected
	if eventReceived {
		d.state.LastSecondaryEvent = time.Now()
		d.state.SecondaryEventCount++
		d.state.ConsecutiveMismatches = 0
	}
}

// RecordFusionMismatch increments the mismatch streak and trips
// fallback when it reaches the threshold.
func (d *Detector) RecordFusionMismatch() {
	d.mu.Lock()
	d.state.ConsecutiveMismatches++
	d.state.LastMismatchAt = time.Now()
	streak := d.state.ConsecutiveMismatches
	d.mu.Unlock()

	d.logger.Warn("fusion mismatch recorded",
		"streak", streak,
		"threshold", d.config.MismatchThreshold,
	)

	if streak >= d.config.MismatchThreshold {
		d.TriggerFallback(ReasonFusionMismatch)
	}
}

// RecordFusionMatch resets the mismatch streak.
func (d *Detector) RecordFusionMatch() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state.ConsecutiveMismatches = 0
}

// CheckTimeouts evaluates channel silence and returns the applicable
// trip reason, or ReasonNone. The secondary timeout only applies while
// the primary is disconnected, so a healthy primary never trips on a
// quiet analyzer.
func (d *Detector) CheckTimeouts() Reason {
	d.mu.Lock()
	state := d.state
	d.mu.Unlock()

	now := time.Now()

	if state.PrimaryConnected && !state.LastPrimaryEvent.IsZero() &&
		now.Sub(state.LastPrimaryEvent) > d.config.PrimaryTimeout {
		return ReasonPrimaryTimeout
	}

	if !state.PrimaryConnected && !state.LastSecondaryEvent.IsZero() &&
		now.Sub(state.LastSecondaryEvent) > d.config.SecondaryTimeout {
		return ReasonBothFailed
	}

	return ReasonNone
}

// TriggerFallback declares automation failure. Idempotent: while
// already tripped, repeated calls produce no callback, event or
// history entry.
func (d *Detector) TriggerFallback(reason Reason) {
	d.mu.Lock()
	if d.state.FallbackActive {
		d.mu.Unlock()
		return
	}
	d.state.FallbackActive = true
	d.state.FallbackReason = reason
	d.state.FallbackSince = time.Now()
	snapshot := d.state

	event := FailureEvent{Reason: reason, At: snapshot.FallbackSince, Snapshot: snapshot}
	d.history = append(d.history, event)
	if len(d.history) > d.config.HistorySize {
		d.history = d.history[len(d.history)-d.config.HistorySize:]
	}
	d.mu.Unlock()

	d.logger.Error("automation failure declared, manual fallback active",
		"reason", string(reason),
	)

	if d.metrics != nil {
		d.metrics.FallbackTrips.Inc()
	}
	if d.bus != nil {
		d.bus.TryPublish(events.AutomationAlertEvent{
			Reason:  string(reason),
			Message: "automation failure declared, switch to manual marking",
			Snapshot: map[string]any{
				"primary_connected":      snapshot.PrimaryConnected,
				"secondary_connected":    snapshot.SecondaryConnected,
				"consecutive_mismatches": snapshot.ConsecutiveMismatches,
				"primary_event_count":    snapshot.PrimaryEventCount,
				"secondary_event_count":  snapshot.SecondaryEventCount,
			},
			At: snapshot.FallbackSince,
		})
	}
	if d.onAlert != nil {
		d.fireAlert(reason, snapshot)
	}
}

func (d *Detector) fireAlert(reason Reason, state AutomationState) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("alert callback panicked", "panic", r)
		}
	}()
	d.onAlert(reason, state)
}

// ResetFallback clears the fallback condition and the mismatch streak.
func (d *Detector) ResetFallback() {
	d.mu.Lock()
	wasActive := d.state.FallbackActive
	d.state.FallbackActive = false
	d.state.FallbackReason = ReasonNone
	d.state.FallbackSince = time.Time{}
	d.state.ConsecutiveMismatches = 0
	d.mu.Unlock()

	if !wasActive {
		return
	}

	d.logger.Info("fallback mode reset, automation resumed")
	if d.bus != nil {
		d.bus.TryPublish(events.AutomationResetEvent{At: time.Now()})
	}
}

// FallbackActive reports whether the automation-failed condition is
// declared.
func (d *Detector) FallbackActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.FallbackActive
}

// Snapshot returns a copy of the current automation state.
func (d *Detector) Snapshot() AutomationState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// History returns a copy of the retained trip events, oldest first.
func (d *Detector) History() []FailureEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]FailureEvent(nil), d.history...)
}

// Run periodically evaluates timeouts until ctx is cancelled, tripping
// fallback when one fires.
func (d *Detector) Run(ctx context.Context) {
	ticker := time.NewTicker(d.config.CheckInterval)
	defer ticker.Stop()

	d.logger.Info("failure detector running", "interval", d.config.CheckInterval)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("failure detector stopped")
			return
		case <-ticker.C:
			if reason := d.CheckTimeouts(); reason != ReasonNone {
				d.TriggerFallback(reason)
			}
		}
	}
}
