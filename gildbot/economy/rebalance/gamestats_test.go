package rebalance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gildhall/gildbot/gildbot/database/models"
)

func TestAggregateGameStats(t *testing.T) {
	stats := []*models.GameStats{
		{GameID: "slots", Variant: "classic", TotalGames: 200, TotalWins: 60, TotalWagered: 20_000, TotalWon: 18_000},
		{GameID: "coinflip", TotalGames: 100, TotalWins: 48, TotalWagered: 10_000, TotalWon: 10_500},
		{GameID: "dice", TotalGames: 50, TotalWins: 10}, // plays but nothing wagered
		{GameID: "roulette", Variant: "straight", TotalGames: 0, TotalWagered: 999},
	}

	ratios := AggregateGameStats(stats)

	// Zero-play rows are omitted entirely, not scored as healthy.
	require.Len(t, ratios, 3)
	assert.NotContains(t, ratios, "roulette/straight")

	slots := ratios["slots/classic"]
	assert.InDelta(t, 30.0, slots.WinRate, 1e-9)
	assert.InDelta(t, 10.0, slots.HouseEdge, 1e-9)
	assert.True(t, slots.HasEdgeData)

	// Players beating the house yields a negative edge.
	coinflip := ratios["coinflip"]
	assert.InDelta(t, -5.0, coinflip.HouseEdge, 1e-9)
	assert.True(t, coinflip.HasEdgeData)

	// Plays without wagers carry a win rate but no edge.
	dice := ratios["dice"]
	assert.InDelta(t, 20.0, dice.WinRate, 1e-9)
	assert.False(t, dice.HasEdgeData)
}

func TestMeanHouseEdge(t *testing.T) {
	_, ok := MeanHouseEdge(nil)
	assert.False(t, ok)

	_, ok = MeanHouseEdge(map[string]GameRatio{
		"dice": {GameID: "dice", TotalGames: 10},
	})
	assert.False(t, ok, "games without wager data must not produce an edge")

	mean, ok := MeanHouseEdge(map[string]GameRatio{
		"a": {HouseEdge: 10, HasEdgeData: true},
		"b": {HouseEdge: -4, HasEdgeData: true},
		"c": {TotalGames: 5}, // ignored
	})
	require.True(t, ok)
	assert.InDelta(t, 3.0, mean, 1e-9)
}

func TestRatioKey(t *testing.T) {
	assert.Equal(t, "blackjack", ratioKey("blackjack", ""))
	assert.Equal(t, "slots/deluxe", ratioKey("slots", "deluxe"))
}
