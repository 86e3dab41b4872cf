// Package events provides an asynchronous event bus decoupling fusion,
// failover and recording from notification and persistence consumers,
// so a slow or failing subscriber cannot stall a producer.
package events

import (
	"time"

	"github.com/tablecap/tablecap-go/internal/model"
)

// Topic names for published events.
const (
	TopicFusedResult       = "fusion.result"
	TopicAutomationAlert   = "automation.alert"
	TopicAutomationReset   = "automation.reset"
	TopicModeChange        = "ingest.mode"
	TopicRecordingFinished = "recording.finished"
	TopicManualMark        = "manual.mark"
	TopicManualHand        = "manual.hand"
)

// Event is anything that can be published on the bus.
type Event interface {
	// Topic returns the event topic for consumer routing
	Topic() string

	// Timestamp returns when the event occurred
	Timestamp() time.Time
}

// Consumer processes published events.
type Consumer interface {
	// Name returns the consumer name for identification
	Name() string

	// ProcessEvent processes a single event
	ProcessEvent(event Event) error
}

// BusStats contains runtime statistics for monitoring
type BusStats struct {
	EventsReceived  uint64
	EventsProcessed uint64
	EventsDropped   uint64
	ConsumerErrors  uint64
}

// FusedResultEvent is published for every fused hand verdict.
type FusedResultEvent struct {
	Result *model.FusedResult
}

func (e FusedResultEvent) Topic() string        { return TopicFusedResult }
func (e FusedResultEvent) Timestamp() time.Time { return e.Result.Timestamp }

// AutomationAlertEvent is published when the failure detector trips
// fallback mode.
type AutomationAlertEvent struct {
	Reason   string
	Message  string
	Snapshot map[string]any
	At       time.Time
}

func (e AutomationAlertEvent) Topic() string        { return TopicAutomationAlert }
func (e AutomationAlertEvent) Timestamp() time.Time { return e.At }

// AutomationResetEvent is published when fallback mode is explicitly
// cleared.
type AutomationResetEvent struct {
	At time.Time
}

func (e AutomationResetEvent) Topic() string        { return TopicAutomationReset }
func (e AutomationResetEvent) Timestamp() time.Time { return e.At }

// ModeChangeEvent is published when the failover coordinator switches
// between the primary and fallback ingestion watchers.
type ModeChangeEvent struct {
	Mode string
	At   time.Time
}

func (e ModeChangeEvent) Topic() string        { return TopicModeChange }
func (e ModeChangeEvent) Timestamp() time.Time { return e.At }

// RecordingFinishedEvent is published when a recording session reaches a
// terminal state.
type RecordingFinishedEvent struct {
	TableID    string
	HandNumber int
	Status     string
	FilePath   string
	Duration   time.Duration
	At         time.Time
}

func (e RecordingFinishedEvent) Topic() string        { return TopicRecordingFinished }
func (e RecordingFinishedEvent) Timestamp() time.Time { return e.At }

// ManualMarkEvent is published for every operator mark.
type ManualMarkEvent struct {
	TableID  string
	MarkKind string
	At       time.Time
}

func (e ManualMarkEvent) Topic() string        { return TopicManualMark }
func (e ManualMarkEvent) Timestamp() time.Time { return e.At }

// ManualHandEvent is published when a start/end mark pair completes a
// manually captured hand.
type ManualHandEvent struct {
	TableID  string
	Duration time.Duration
	At       time.Time
}

func (e ManualHandEvent) Topic() string        { return TopicManualHand }
func (e ManualHandEvent) Timestamp() time.Time { return e.At }
