// Package manual implements the operator marking facility used when
// automation has failed: per-table hand boundary marks, highlight
// annotations and the pairing of start/end marks into captured hands.
package manual

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tablecap/tablecap-go/internal/events"
	"github.com/tablecap/tablecap-go/internal/logging"
)

// MarkKind is the kind of operator mark.
type MarkKind string

const (
	MarkHandStart MarkKind = "hand_start"
	MarkHandEnd   MarkKind = "hand_end"
	MarkHighlight MarkKind = "highlight"
)

// Mark is a single operator annotation.
type Mark struct {
	ID             string    `json:"id"`
	TableID        string    `json:"table_id"`
	Kind           MarkKind  `json:"kind"`
	At             time.Time `json:"at"`
	Operator       string    `json:"operator"`
	Note           string    `json:"note,omitempty"`
	FallbackReason string    `json:"fallback_reason,omitempty"`

	// Orphaned marks an end that arrived with no open start.
	Orphaned bool `json:"orphaned,omitempty"`
}

// PairedMark associates exactly one start mark with one end mark.
type PairedMark struct {
	ID       string        `json:"id"`
	TableID  string        `json:"table_id"`
	Start    Mark          `json:"start"`
	End      Mark          `json:"end"`
	Duration time.Duration `json:"duration"`
}

// MarkCreatedFunc is invoked synchronously for every recorded mark.
type MarkCreatedFunc func(mark Mark)

// HandCompletedFunc is invoked synchronously when a start/end pair
// completes a hand.
type HandCompletedFunc func(hand PairedMark)

// Marker records operator marks for one table. At most one unpaired
// start mark is open at any time.
type Marker struct {
	tableID     string
	onMark      MarkCreatedFunc
	onCompleted HandCompletedFunc
	bus         *events.Bus
	logger      *slog.Logger

	mu        sync.Mutex
	openStart *Mark
	marks     []Mark
	hands     []PairedMark
}

// NewMarker creates a marking facility for one table. Callbacks and
// bus may be nil.
func NewMarker(tableID string, onMark MarkCreatedFunc, onCompleted HandCompletedFunc, bus *events.Bus) *Marker {
	return &Marker{
		tableID:     tableID,
		onMark:      onMark,
		onCompleted: onCompleted,
		bus:         bus,
		logger:      logging.ForService("manual").With("table", tableID),
	}
}

// MarkHandStart opens a new hand boundary. A prior unclosed start is
// abandoned with a warning, not an error, because the operator hitting
// start twice means the first hand was never going to close.
func (m *Marker) MarkHandStart(operator, note, fallbackReason string) Mark {
	mark := m.newMark(MarkHandStart, operator, note, fallbackReason)

	m.mu.Lock()
	if m.openStart != nil {
		m.logger.Warn("abandoning unclosed hand start",
			"abandoned_mark", m.openStart.ID,
			"opened_at", m.openStart.At,
		)
	}
	m.openStart = &mark
	m.marks = append(m.marks, mark)
	m.mu.Unlock()

	m.record(mark)
	return mark
}

// MarkHandEnd closes the open start into a PairedMark. Without an open
// start the end is recorded as an orphan and no pair is produced.
func (m *Marker) MarkHandEnd(operator, note, fallbackReason string) (PairedMark, bool) {
	mark := m.newMark(MarkHandEnd, operator, note, fallbackReason)

	m.mu.Lock()
	start := m.openStart
	m.openStart = nil
	if start == nil {
		mark.Orphaned = true
	}
	m.marks = append(m.marks, mark)

	var hand PairedMark
	if start != nil {
		hand = PairedMark{
			ID:       uuid.NewString(),
			TableID:  m.tableID,
			Start:    *start,
			End:      mark,
			Duration: mark.At.Sub(start.At),
		}
		m.hands = append(m.hands, hand)
	}
	m.mu.Unlock()

	m.record(mark)

	if start == nil {
		m.logger.Warn("hand end without open start, recording orphan mark", "mark", mark.ID)
		return PairedMark{}, false
	}

	m.logger.Info("manual hand completed",
		"hand", hand.ID,
		"duration", hand.Duration,
	)
	if m.onCompleted != nil {
		m.fire(func() { m.onCompleted(hand) })
	}
	if m.bus != nil {
		m.bus.TryPublish(events.ManualHandEvent{
			TableID:  m.tableID,
			Duration: hand.Duration,
			At:       hand.End.At,
		})
	}
	return hand, true
}

// MarkHighlight records a standalone annotation, independent of hand
// boundaries.
func (m *Marker) MarkHighlight(operator, note, fallbackReason string) Mark {
	mark := m.newMark(MarkHighlight, operator, note, fallbackReason)

	m.mu.Lock()
	m.marks = append(m.marks, mark)
	m.mu.Unlock()

	m.record(mark)
	return mark
}

// CancelCurrentHand discards the open start mark without pairing it.
// Returns false if no hand was open.
func (m *Marker) CancelCurrentHand() bool {
	m.mu.Lock()
	start := m.openStart
	m.openStart = nil
	m.mu.Unlock()

	if start == nil {
		return false
	}
	m.logger.Info("cancelled open hand", "mark", start.ID)
	return true
}

// OpenStart returns the currently open start mark, or nil.
func (m *Marker) OpenStart() *Mark {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openStart == nil {
		return nil
	}
	mark := *m.openStart
	return &mark
}

// CurrentHandDuration returns how long the open hand has been running,
// or false when no hand is open.
func (m *Marker) CurrentHandDuration() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openStart == nil {
		return 0, false
	}
	return time.Since(m.openStart.At), true
}

// Marks returns a copy of all recorded marks, oldest first.
func (m *Marker) Marks() []Mark {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Mark(nil), m.marks...)
}

// Hands returns a copy of all completed hands, oldest first.
func (m *Marker) Hands() []PairedMark {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PairedMark(nil), m.hands...)
}

func (m *Marker) newMark(kind MarkKind, operator, note, fallbackReason string) Mark {
	return Mark{
		ID:             uuid.NewString(),
		TableID:        m.tableID,
		Kind:           kind,
		At:             time.Now(),
		Operator:       operator,
		Note:           note,
		FallbackReason: fallbackReason,
	}
}

// record notifies the mark callback and publishes the mark event.
func (m *Marker) record(mark Mark) {
	if m.onMark != nil {
		m.fire(func() { m.onMark(mark) })
	}
	if m.bus != nil {
		m.bus.TryPublish(events.ManualMarkEvent{
			TableID:  m.tableID,
			MarkKind: string(mark.Kind),
			At:       mark.At,
		})
	}
}

// fire runs a callback, containing panics so an operator UI bug cannot
// take down marking.
func (m *Marker) fire(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("mark callback panicked", "panic", r)
		}
	}()
	fn()
}

// MultiTableMarker lazily creates and caches one marking facility per
// table, so each table's state stays isolated.
type MultiTableMarker struct {
	onMark      MarkCreatedFunc
	onCompleted HandCompletedFunc
	bus         *events.Bus

	mu      sync.Mutex
	markers map[string]*Marker
}

// NewMultiTableMarker creates the per-table marker registry.
func NewMultiTableMarker(onMark MarkCreatedFunc, onCompleted HandCompletedFunc, bus *events.Bus) *MultiTableMarker {
	return &MultiTableMarker{
		onMark:      onMark,
		onCompleted: onCompleted,
		bus:         bus,
		markers:     make(map[string]*Marker),
	}
}

// ForTable returns the marker for a table, creating it on first
// access.
func (mt *MultiTableMarker) ForTable(tableID string) *Marker {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	marker, ok := mt.markers[tableID]
	if !ok {
		marker = NewMarker(tableID, mt.onMark, mt.onCompleted, mt.bus)
		mt.markers[tableID] = marker
	}
	return marker
}

// Tables returns the table ids with an instantiated marker.
func (mt *MultiTableMarker) Tables() []string {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	tables := make([]string, 0, len(mt.markers))
	for id := range mt.markers {
		tables = append(tables, id)
	}
	return tables
}
