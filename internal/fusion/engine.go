// Package fusion reconciles primary feed results and secondary analyzer
// detections into a single authoritative verdict per hand.
package fusion

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/tablecap/tablecap-go/internal/conf"
	"github.com/tablecap/tablecap-go/internal/events"
	"github.com/tablecap/tablecap-go/internal/logging"
	"github.com/tablecap/tablecap-go/internal/model"
	"github.com/tablecap/tablecap-go/internal/observability"
)

// Config holds the fusion decision parameters.
type Config struct {
	// ConfidenceThreshold is the minimum secondary confidence accepted
	// when the primary feed produced nothing.
	ConfidenceThreshold float64

	// TimestampTolerance is the maximum skew between primary and
	// secondary timestamps for a cross-validation match.
	TimestampTolerance time.Duration
}

// ConfigFromSettings extracts the fusion parameters from the
// application settings.
func ConfigFromSettings(settings *conf.Settings) Config {
	return Config{
		ConfidenceThreshold: settings.Secondary.ConfidenceThreshold,
		TimestampTolerance:  time.Duration(settings.Fusion.TimestampToleranceSeconds * float64(time.Second)),
	}
}

// Stats are monotonic fusion counters, kept per table and aggregated.
// They only reset through ResetStats.
type Stats struct {
	Total             uint64 `json:"total"`
	PrimaryOnly       uint64 `json:"primary_only"`
	CrossValidated    uint64 `json:"cross_validated"`
	SecondaryFallback uint64 `json:"secondary_fallback"`
	Undetected        uint64 `json:"undetected"`
	ReviewFlagged     uint64 `json:"review_flagged"`
}

// Engine applies the fusion decision matrix. It has no side effects
// beyond counters, metrics and a non-blocking event publication, so a
// slow downstream consumer can never stall ingestion.
type Engine struct {
	config  Config
	bus     *events.Bus
	metrics *observability.FusionMetrics
	logger  *slog.Logger

	mu        sync.Mutex
	perTable  map[string]*Stats
	aggregate Stats
}

// NewEngine creates a fusion engine. The bus and metrics may be nil,
// in which case publication and metric updates are skipped.
func NewEngine(config Config, bus *events.Bus, metrics *observability.FusionMetrics) *Engine {
	return &Engine{
		config:   config,
		bus:      bus,
		metrics:  metrics,
		logger:   logging.ForService("fusion"),
		perTable: make(map[string]*Stats),
	}
}

// Fuse produces the authoritative verdict for one hand. Exactly one of
// three classifications results, evaluated in order: a present primary
// always wins, a confident ranked secondary is the fallback, anything
// else is left to manual handling. tableID is only consulted when both
// inputs are nil.
func (e *Engine) Fuse(tableID string, primary *model.HandResult, secondary *model.SecondaryResult) *model.FusedResult {
	var fused *model.FusedResult

	switch {
	case primary != nil:
		validated := e.crossValidate(primary, secondary)
		fused = model.NewPrimaryFused(primary, secondary, validated)

	case secondary != nil && secondary.HandRank != nil && secondary.Confidence >= e.config.ConfidenceThreshold:
		fused = model.NewSecondaryFused(secondary)

	default:
		if secondary != nil {
			tableID = secondary.TableID
		}
		fused = model.NewManualFused(tableID, secondary)
	}

	e.record(fused)

	e.logger.Info("fused hand result",
		"table", fused.TableID,
		"hand", fused.HandNumber,
		"rank", fused.HandRank.String(),
		"source", string(fused.Source),
		"cross_validated", fused.CrossValidated,
		"requires_review", fused.RequiresReview,
	)

	if e.bus != nil {
		e.bus.TryPublish(events.FusedResultEvent{Result: fused})
	}

	return fused
}

// crossValidate reports whether the secondary confirms the primary. A
// missing or rankless secondary cannot contradict the primary, so it
// counts as validated. A ranked secondary must agree on rank and fall
// within the timestamp tolerance.
func (e *Engine) crossValidate(primary *model.HandResult, secondary *model.SecondaryResult) bool {
	if secondary == nil || secondary.HandRank == nil {
		return true
	}
	if *secondary.HandRank != primary.HandRank {
		return false
	}
	skew := primary.Timestamp.Sub(secondary.Timestamp)
	return math.Abs(skew.Seconds()) <= e.config.TimestampTolerance.Seconds()
}

func (e *Engine) record(fused *model.FusedResult) {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats, ok := e.perTable[fused.TableID]
	if !ok {
		stats = &Stats{}
		e.perTable[fused.TableID] = stats
	}

	for _, s := range []*Stats{stats, &e.aggregate} {
		s.Total++
		switch fused.Source {
		case model.SourcePrimary:
			if fused.CrossValidated && fused.Secondary != nil {
				s.CrossValidated++
			} else if fused.Secondary == nil {
				s.PrimaryOnly++
			}
		case model.SourceSecondary:
			s.SecondaryFallback++
		case model.SourceManual:
			s.Undetected++
		}
		if fused.RequiresReview {
			s.ReviewFlagged++
		}
	}

	if e.metrics != nil {
		e.metrics.ResultsTotal.WithLabelValues(fused.TableID, string(fused.Source)).Inc()
		if fused.CrossValidated && fused.Secondary != nil {
			e.metrics.CrossValidated.WithLabelValues(fused.TableID).Inc()
		}
		if fused.RequiresReview {
			e.metrics.ReviewFlagged.WithLabelValues(fused.TableID).Inc()
		}
	}
}

// TableStats returns a copy of the counters for one table. Unknown
// tables return zero counters.
func (e *Engine) TableStats(tableID string) Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	if stats, ok := e.perTable[tableID]; ok {
		return *stats
	}
	return Stats{}
}

// AggregateStats returns a copy of the counters summed across tables.
func (e *Engine) AggregateStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.aggregate
}

// ResetStats clears all counters, per table and aggregate.
func (e *Engine) ResetStats() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.perTable = make(map[string]*Stats)
	e.aggregate = Stats{}
}
