package domain

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	quotadomain "github.com/smallbiznis/insightzen/internal/quota/domain"
	"github.com/stretchr/testify/assert"
)

func ids(cells []quotadomain.QuotaCell) []snowflake.ID {
	out := make([]snowflake.ID, 0, len(cells))
	for _, c := range cells {
		out = append(out, c.ID)
	}
	return out
}

func TestOrderCandidatesBaseOrder(t *testing.T) {
	cells := []quotadomain.QuotaCell{
		{ID: 1, Target: 10, Achieved: 5, Weight: 1},
		{ID: 2, Target: 10, Achieved: 2, Weight: 1},
		{ID: 3, Target: 10, Achieved: 9, Weight: 2},
		{ID: 4, Target: 10, Achieved: 10, Weight: 5},
		{ID: 5, Target: 10, Achieved: 2, Weight: 1},
	}
	got := OrderCandidates(quotadomain.OverflowStrict, cells)
	assert.Equal(t, []snowflake.ID{3, 2, 5, 1}, ids(got))
	assert.Equal(t, snowflake.ID(1), cells[0].ID, "input untouched")
}

func TestOrderCandidatesStrictDropsFullInFlight(t *testing.T) {
	cells := []quotadomain.QuotaCell{
		{ID: 1, Target: 3, Achieved: 1, InProgress: 2, Weight: 1},
		{ID: 2, Target: 3, Achieved: 1, InProgress: 1, Weight: 1},
	}
	assert.Equal(t, []snowflake.ID{2}, ids(OrderCandidates(quotadomain.OverflowStrict, cells)))
	// WEIGHTED keeps both but ranks by remaining need: 0 vs 1.
	assert.Equal(t, []snowflake.ID{2, 1}, ids(OrderCandidates(quotadomain.OverflowWeighted, cells)))
}

func TestOrderCandidatesSoftCap(t *testing.T) {
	capFour := 4
	cells := []quotadomain.QuotaCell{
		{ID: 1, Target: 3, SoftCap: &capFour, Achieved: 1, InProgress: 3, Weight: 1},
		{ID: 2, Target: 3, SoftCap: &capFour, Achieved: 1, InProgress: 2, Weight: 1},
		{ID: 3, Target: 3, Achieved: 1, InProgress: 1, Weight: 1},
		{ID: 4, Target: 3, Achieved: 1, InProgress: 2, Weight: 1},
	}
	// cell 4 has no soft_cap, so open reservations never close it
	assert.Equal(t, []snowflake.ID{2, 3, 4}, ids(OrderCandidates(quotadomain.OverflowSoft, cells)))
}

func TestOrderCandidatesWeightedNeed(t *testing.T) {
	cells := []quotadomain.QuotaCell{
		{ID: 1, Target: 10, Achieved: 0, InProgress: 8, Weight: 3},
		{ID: 2, Target: 10, Achieved: 0, InProgress: 0, Weight: 1},
		{ID: 3, Target: 10, Achieved: 5, InProgress: 0, Weight: 1},
		{ID: 4, Target: 10, Achieved: 2, InProgress: 8, Weight: 4},
	}
	// needs: 1 -> 6, 2 -> 10, 3 -> 5, 4 -> 0
	got := OrderCandidates(quotadomain.OverflowWeighted, cells)
	assert.Equal(t, []snowflake.ID{2, 1, 3, 4}, ids(got))
}

func TestOrderCandidatesWeightedTiesKeepBaseOrder(t *testing.T) {
	cells := []quotadomain.QuotaCell{
		{ID: 1, Target: 4, Achieved: 0, Weight: 1},
		{ID: 2, Target: 2, Achieved: 0, Weight: 2},
	}
	// both need 4; base order puts the heavier cell first
	got := OrderCandidates(quotadomain.OverflowWeighted, cells)
	assert.Equal(t, []snowflake.ID{2, 1}, ids(got))
}

func TestParseStatus(t *testing.T) {
	status, ok := ParseStatus("EXPIRED")
	assert.True(t, ok)
	assert.True(t, status.Terminal())
	assert.False(t, StatusReserved.Terminal())

	_, ok = ParseStatus("expired")
	assert.False(t, ok)
}
