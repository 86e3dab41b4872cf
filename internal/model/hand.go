// Package model defines the data types flowing through the capture
// pipeline: primary feed hand results, secondary analyzer detections,
// and the fused verdicts produced from them.
package model

import (
	"fmt"
	"strings"
	"time"
)

// HandRank identifies the final strength of a poker hand, strongest
// first.
type HandRank int

const (
	RoyalFlush HandRank = iota + 1
	StraightFlush
	FourOfAKind
	FullHouse
	Flush
	Straight
	ThreeOfAKind
	TwoPair
	OnePair
	HighCard
)

var rankNames = map[HandRank]string{
	RoyalFlush:    "royal_flush",
	StraightFlush: "straight_flush",
	FourOfAKind:   "four_of_a_kind",
	FullHouse:     "full_house",
	Flush:         "flush",
	Straight:      "straight",
	ThreeOfAKind:  "three_of_a_kind",
	TwoPair:       "two_pair",
	OnePair:       "one_pair",
	HighCard:      "high_card",
}

func (r HandRank) String() string {
	if name, ok := rankNames[r]; ok {
		return name
	}
	return fmt.Sprintf("unknown_rank_%d", int(r))
}

// Valid reports whether r is a defined rank value.
func (r HandRank) Valid() bool {
	_, ok := rankNames[r]
	return ok
}

// IsPremium reports whether the rank is broadcast-worthy on its own.
// Full house or better qualifies.
func (r HandRank) IsPremium() bool {
	return r.Valid() && r <= FullHouse
}

// Card is a single playing card, e.g. "As" or "10h".
type Card struct {
	Rank string `json:"rank"`
	Suit string `json:"suit"`
}

func (c Card) String() string {
	return c.Rank + c.Suit
}

// ParseCard parses short card notation. The rank is everything but the
// final rune, so both "Th" and "10h" forms are accepted.
func ParseCard(s string) (Card, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || len(s) > 3 {
		return Card{}, fmt.Errorf("invalid card notation %q", s)
	}
	return Card{Rank: s[:len(s)-1], Suit: s[len(s)-1:]}, nil
}

// PlayerShowdown describes one player present at showdown.
type PlayerShowdown struct {
	Seat      int     `json:"seat"`
	Name      string  `json:"name"`
	HoleCards []Card  `json:"hole_cards"`
	Stack     float64 `json:"stack"`
}

// HandResult is a completed hand reported by the primary feed. The
// sensor data behind it is deterministic, so Confidence is always 1.0.
// Immutable once produced.
type HandResult struct {
	TableID        string           `json:"table_id"`
	HandNumber     int              `json:"hand_number"`
	HandRank       HandRank         `json:"hand_rank"`
	RankScore      float64          `json:"rank_score"`
	Premium        bool             `json:"premium"`
	Confidence     float64          `json:"confidence"`
	Showdown       []PlayerShowdown `json:"showdown"`
	PotSize        float64          `json:"pot_size"`
	Timestamp      time.Time        `json:"timestamp"`
	CommunityCards []Card           `json:"community_cards"`
	Winner         string           `json:"winner"`
}

// SecondaryEvent is the kind of moment the video analyzer detected.
type SecondaryEvent string

const (
	EventHandStart SecondaryEvent = "hand_start"
	EventHandEnd   SecondaryEvent = "hand_end"
	EventShowdown  SecondaryEvent = "showdown"
	EventAllIn     SecondaryEvent = "all_in"
	EventAction    SecondaryEvent = "action"
	EventNone      SecondaryEvent = "none"
)

// SecondaryResult is a detection from the AI video analyzer. HandRank
// is nil when the analyzer saw an event but could not classify the
// hand. Immutable once produced.
type SecondaryResult struct {
	TableID       string         `json:"table_id"`
	DetectedEvent SecondaryEvent `json:"detected_event"`
	DetectedCards []Card         `json:"detected_cards"`
	HandRank      *HandRank      `json:"hand_rank,omitempty"`
	Confidence    float64        `json:"confidence"`
	Context       string         `json:"context"`
	Timestamp     time.Time      `json:"timestamp"`
}
