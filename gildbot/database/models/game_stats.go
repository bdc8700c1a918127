package models

import (
	"time"

	"github.com/uptrace/bun"
)

// GameStats aggregates recorded play for one game variant in a guild.
// Games write into it; the rebalancer only reads.
type GameStats struct {
	bun.BaseModel `bun:"table:game_stats,alias:gs"`

	ID           int64  `bun:"id,pk,autoincrement"`
	GuildID      string `bun:"guild_id,notnull"`
	GameID       string `bun:"game_id,notnull"`
	Variant      string `bun:"variant,notnull,default:''"`
	TotalGames   int64  `bun:"total_games,notnull,default:0"`
	TotalWins    int64  `bun:"total_wins,notnull,default:0"`
	TotalWagered int64  `bun:"total_wagered,notnull,default:0"`
	TotalWon     int64  `bun:"total_won,notnull,default:0"`

	UpdatedAt time.Time `bun:"updated_at,notnull"`
}
