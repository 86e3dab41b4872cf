package model

import "time"

// SourceType classifies which channel a fused result trusts.
type SourceType string

const (
	SourcePrimary   SourceType = "primary"
	SourceSecondary SourceType = "secondary"
	SourceManual    SourceType = "manual"
)

// FusedResult is the single authoritative verdict for one hand.
// Construct through NewPrimaryFused, NewSecondaryFused or
// NewManualFused so the source classification always agrees with the
// populated contributor fields. Never mutated after creation.
type FusedResult struct {
	TableID        string           `json:"table_id"`
	HandNumber     int              `json:"hand_number"`
	HandRank       HandRank         `json:"hand_rank"`
	Confidence     float64          `json:"confidence"`
	Source         SourceType       `json:"source"`
	Primary        *HandResult      `json:"primary_result,omitempty"`
	Secondary      *SecondaryResult `json:"secondary_result,omitempty"`
	CrossValidated bool             `json:"cross_validated"`
	RequiresReview bool             `json:"requires_review"`
	Timestamp      time.Time        `json:"timestamp"`
}

// NewPrimaryFused builds a primary-trusted result. The rank is always
// the primary's, even when the secondary disagreed. A present but
// unmatched secondary flags the result for review.
func NewPrimaryFused(primary *HandResult, secondary *SecondaryResult, validated bool) *FusedResult {
	return &FusedResult{
		TableID:        primary.TableID,
		HandNumber:     primary.HandNumber,
		HandRank:       primary.HandRank,
		Confidence:     1.0,
		Source:         SourcePrimary,
		Primary:        primary,
		Secondary:      secondary,
		CrossValidated: validated,
		RequiresReview: !validated && secondary != nil,
		Timestamp:      primary.Timestamp,
	}
}

// NewSecondaryFused builds a secondary-trusted result used when the
// primary feed produced nothing. The hand number is unknown (-1) and
// AI-sourced results always require review. The caller must have
// checked that secondary.HandRank is non-nil.
func NewSecondaryFused(secondary *SecondaryResult) *FusedResult {
	return &FusedResult{
		TableID:        secondary.TableID,
		HandNumber:     -1,
		HandRank:       *secondary.HandRank,
		Confidence:     secondary.Confidence,
		Source:         SourceSecondary,
		Secondary:      secondary,
		RequiresReview: true,
		Timestamp:      secondary.Timestamp,
	}
}

// NewManualFused builds the undetected verdict: neither source
// produced a usable result, so the hand must be handled manually. A
// below-threshold or rankless secondary is kept as context.
func NewManualFused(tableID string, secondary *SecondaryResult) *FusedResult {
	return &FusedResult{
		TableID:        tableID,
		HandNumber:     -1,
		HandRank:       HighCard,
		Confidence:     0.0,
		Source:         SourceManual,
		Secondary:      secondary,
		RequiresReview: true,
		Timestamp:      time.Now(),
	}
}
