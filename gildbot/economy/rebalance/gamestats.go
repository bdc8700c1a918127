package rebalance

import (
	"github.com/gildhall/gildbot/gildbot/database/models"
)

// GameRatio is the derived win/house-edge view of one game variant.
// A missing entry means "insufficient data", not "healthy".
type GameRatio struct {
	GameID      string
	Variant     string
	TotalGames  int64
	WinRate     float64 // percent of games won by players
	HouseEdge   float64 // percent of wagers retained by the house
	HasEdgeData bool    // false when nothing was wagered
}

// Key returns the map key for a game/variant pair.
func ratioKey(gameID, variant string) string {
	if variant == "" {
		return gameID
	}
	return gameID + "/" + variant
}

// AggregateGameStats derives per-game ratios from the recorded aggregates.
// Games with zero recorded plays are omitted entirely; games with plays but
// no wagered amount carry a win rate only.
func AggregateGameStats(stats []*models.GameStats) map[string]GameRatio {
	ratios := make(map[string]GameRatio, len(stats))

	for _, gs := range stats {
		if gs.TotalGames <= 0 {
			continue
		}

		ratio := GameRatio{
			GameID:     gs.GameID,
			Variant:    gs.Variant,
			TotalGames: gs.TotalGames,
			WinRate:    float64(gs.TotalWins) / float64(gs.TotalGames) * 100,
		}
		if gs.TotalWagered > 0 {
			ratio.HouseEdge = float64(gs.TotalWagered-gs.TotalWon) / float64(gs.TotalWagered) * 100
			ratio.HasEdgeData = true
		}

		ratios[ratioKey(gs.GameID, gs.Variant)] = ratio
	}

	return ratios
}

// MeanHouseEdge averages the house edge across games with wager data.
// The second return is false when no game has sufficient data.
func MeanHouseEdge(ratios map[string]GameRatio) (float64, bool) {
	var sum float64
	var count int
	for _, r := range ratios {
		if r.HasEdgeData {
			sum += r.HouseEdge
			count++
		}
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}
