package repositories

import (
	"context"
	"log/slog"
	"time"

	"github.com/gildhall/gildbot/gildbot/database/models"
	"github.com/uptrace/bun"
)

type GameStatsRepository interface {
	GetByGuild(ctx context.Context, guildID string) ([]*models.GameStats, error)
	RecordResult(ctx context.Context, guildID, gameID, variant string, won bool, wagered, payout int64) error
}

type gameStatsRepository struct {
	db *bun.DB
}

func NewGameStatsRepository(db *bun.DB) GameStatsRepository {
	return &gameStatsRepository{db: db}
}

func (r *gameStatsRepository) GetByGuild(ctx context.Context, guildID string) ([]*models.GameStats, error) {
	var stats []*models.GameStats
	err := r.db.NewSelect().
		Model(&stats).
		Where("guild_id = ?", guildID).
		Order("game_id ASC", "variant ASC").
		Scan(ctx)

	if err != nil {
		slog.Error("Database error when reading game stats",
			slog.String("type", "db"),
			slog.String("operation", "GetByGuild"),
			slog.String("guild_id", guildID),
			slog.String("error", err.Error()))
		return nil, err
	}

	return stats, nil
}

// RecordResult upserts one play into the per-game aggregate row.
func (r *gameStatsRepository) RecordResult(ctx context.Context, guildID, gameID, variant string, won bool, wagered, payout int64) error {
	wins := int64(0)
	if won {
		wins = 1
	}

	stats := &models.GameStats{
		GuildID:      guildID,
		GameID:       gameID,
		Variant:      variant,
		TotalGames:   1,
		TotalWins:    wins,
		TotalWagered: wagered,
		TotalWon:     payout,
		UpdatedAt:    time.Now(),
	}

	_, err := r.db.NewInsert().
		Model(stats).
		On("CONFLICT (guild_id, game_id, variant) DO UPDATE").
		Set("total_games = gs.total_games + 1").
		Set("total_wins = gs.total_wins + EXCLUDED.total_wins").
		Set("total_wagered = gs.total_wagered + EXCLUDED.total_wagered").
		Set("total_won = gs.total_won + EXCLUDED.total_won").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}
