package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandRankOrdering(t *testing.T) {
	t.Parallel()

	assert.Less(t, int(RoyalFlush), int(HighCard), "stronger ranks have lower values")
	assert.Equal(t, "full_house", FullHouse.String())
	assert.Equal(t, "unknown_rank_99", HandRank(99).String())
	assert.True(t, FullHouse.Valid())
	assert.False(t, HandRank(0).Valid())
}

func TestIsPremium(t *testing.T) {
	t.Parallel()

	premium := []HandRank{RoyalFlush, StraightFlush, FourOfAKind, FullHouse}
	for _, rank := range premium {
		assert.True(t, rank.IsPremium(), rank.String())
	}

	ordinary := []HandRank{Flush, Straight, ThreeOfAKind, TwoPair, OnePair, HighCard}
	for _, rank := range ordinary {
		assert.False(t, rank.IsPremium(), rank.String())
	}

	assert.False(t, HandRank(42).IsPremium())
}

func TestParseCard(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    Card
		wantErr bool
	}{
		{input: "As", want: Card{Rank: "A", Suit: "s"}},
		{input: "10h", want: Card{Rank: "10", Suit: "h"}},
		{input: " Kd ", want: Card{Rank: "K", Suit: "d"}},
		{input: "x", wantErr: true},
		{input: "1234", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		card, err := ParseCard(tt.input)
		if tt.wantErr {
			require.Error(t, err, tt.input)
			continue
		}
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, card)
	}
}
