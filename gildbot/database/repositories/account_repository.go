package repositories

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/gildhall/gildbot/gildbot/database/models"
	"github.com/uptrace/bun"
)

type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) error
	GetByDiscordID(ctx context.Context, discordID, guildID string) (*models.Account, error)
	GetByGuild(ctx context.Context, guildID string) ([]*models.Account, error)
	SetBalance(ctx context.Context, discordID, guildID string, wallet, bank int64) error
	AddToWallet(ctx context.Context, discordID, guildID string, amount int64) error
	GetTopAccounts(ctx context.Context, guildID string, limit int) ([]*models.Account, error)
	ListGuildIDs(ctx context.Context) ([]string, error)
}

type accountRepository struct {
	db *bun.DB
}

func NewAccountRepository(db *bun.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) Create(ctx context.Context, account *models.Account) error {
	account.CreatedAt = time.Now()
	account.UpdatedAt = time.Now()
	_, err := r.db.NewInsert().Model(account).Exec(ctx)
	return err
}

func (r *accountRepository) GetByDiscordID(ctx context.Context, discordID, guildID string) (*models.Account, error) {
	account := new(models.Account)
	err := r.db.NewSelect().
		Model(account).
		Where("discord_id = ?", discordID).
		Where("guild_id = ?", guildID).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			slog.Warn("Account not found",
				slog.String("type", "db"),
				slog.String("operation", "GetByDiscordID"),
				slog.String("discord_id", discordID),
				slog.String("guild_id", guildID))
		} else {
			slog.Error("Database error when getting account",
				slog.String("type", "db"),
				slog.String("operation", "GetByDiscordID"),
				slog.String("discord_id", discordID),
				slog.String("error", err.Error()))
		}
		return nil, err
	}

	return account, nil
}

func (r *accountRepository) GetByGuild(ctx context.Context, guildID string) ([]*models.Account, error) {
	var accounts []*models.Account
	err := r.db.NewSelect().
		Model(&accounts).
		Where("guild_id = ?", guildID).
		Order("wallet_balance + bank_balance DESC").
		Scan(ctx)

	if err != nil {
		slog.Error("Database error when listing guild accounts",
			slog.String("type", "db"),
			slog.String("operation", "GetByGuild"),
			slog.String("guild_id", guildID),
			slog.String("error", err.Error()))
		return nil, err
	}

	return accounts, nil
}

// SetBalance replaces both balances outright. Interventions use this as a
// direct balance write; no transaction log is kept.
func (r *accountRepository) SetBalance(ctx context.Context, discordID, guildID string, wallet, bank int64) error {
	_, err := r.db.NewUpdate().
		Model((*models.Account)(nil)).
		Set("wallet_balance = ?", wallet).
		Set("bank_balance = ?", bank).
		Set("updated_at = ?", time.Now()).
		Where("discord_id = ?", discordID).
		Where("guild_id = ?", guildID).
		Exec(ctx)
	return err
}

// AddToWallet increments the wallet atomically in SQL, so concurrent game
// payouts cannot lose updates.
func (r *accountRepository) AddToWallet(ctx context.Context, discordID, guildID string, amount int64) error {
	_, err := r.db.NewUpdate().
		Model((*models.Account)(nil)).
		Set("wallet_balance = wallet_balance + ?", amount).
		Set("updated_at = ?", time.Now()).
		Where("discord_id = ?", discordID).
		Where("guild_id = ?", guildID).
		Exec(ctx)
	return err
}

// ListGuildIDs returns every scope that has at least one account, so the
// rebalance loop knows which economies to analyze.
func (r *accountRepository) ListGuildIDs(ctx context.Context) ([]string, error) {
	var guildIDs []string
	err := r.db.NewSelect().
		Model((*models.Account)(nil)).
		ColumnExpr("DISTINCT guild_id").
		Scan(ctx, &guildIDs)
	if err != nil {
		slog.Error("Database error when listing guild scopes",
			slog.String("type", "db"),
			slog.String("operation", "ListGuildIDs"),
			slog.String("error", err.Error()))
		return nil, err
	}
	return guildIDs, nil
}

func (r *accountRepository) GetTopAccounts(ctx context.Context, guildID string, limit int) ([]*models.Account, error) {
	var accounts []*models.Account
	err := r.db.NewSelect().
		Model(&accounts).
		Where("guild_id = ?", guildID).
		OrderExpr("wallet_balance + bank_balance DESC").
		Limit(limit).
		Scan(ctx)
	return accounts, err
}
