package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/gildhall/gildbot/gildbot/database/models"
	"github.com/uptrace/bun"
)

type SnapshotRepository interface {
	Create(ctx context.Context, snapshot *models.EconomySnapshot) error
	GetLatest(ctx context.Context, guildID string) (*models.EconomySnapshot, error)
	List(ctx context.Context, guildID string, limit int) ([]*models.EconomySnapshot, error)
}

type snapshotRepository struct {
	db *bun.DB
}

func NewSnapshotRepository(db *bun.DB) SnapshotRepository {
	return &snapshotRepository{db: db}
}

func (r *snapshotRepository) Create(ctx context.Context, snapshot *models.EconomySnapshot) error {
	_, err := r.db.NewInsert().Model(snapshot).Exec(ctx)
	return err
}

func (r *snapshotRepository) GetLatest(ctx context.Context, guildID string) (*models.EconomySnapshot, error) {
	snapshot := new(models.EconomySnapshot)
	err := r.db.NewSelect().
		Model(snapshot).
		Where("guild_id = ?", guildID).
		Order("timestamp DESC").
		Limit(1).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return snapshot, nil
}

func (r *snapshotRepository) List(ctx context.Context, guildID string, limit int) ([]*models.EconomySnapshot, error) {
	var snapshots []*models.EconomySnapshot
	err := r.db.NewSelect().
		Model(&snapshots).
		Where("guild_id = ?", guildID).
		Order("timestamp DESC").
		Limit(limit).
		Scan(ctx)
	return snapshots, err
}
