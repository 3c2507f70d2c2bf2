package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/lyzr/toolcrib/common/db"
	"github.com/lyzr/toolcrib/common/models"
	"github.com/lyzr/toolcrib/common/store"
)

// AssetRepository handles database operations for assets
type AssetRepository struct {
	db *db.DB
}

// NewAssetRepository creates a new asset repository
func NewAssetRepository(database *db.DB) *AssetRepository {
	return &AssetRepository{db: database}
}

// GetAsset retrieves an asset by id
func (r *AssetRepository) GetAsset(ctx context.Context, id string) (*models.Asset, error) {
	query := `
		SELECT id, name, status, current_holder_id, updated_at
		FROM assets
		WHERE id = $1
	`

	a := &models.Asset{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&a.ID,
		&a.Name,
		&a.Status,
		&a.CurrentHolderID,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, classify(err, "failed to get asset %s", id)
	}

	return a, nil
}

// ListAssets retrieves every asset ordered by id
func (r *AssetRepository) ListAssets(ctx context.Context) ([]*models.Asset, error) {
	query := `
		SELECT id, name, status, current_holder_id, updated_at
		FROM assets
		ORDER BY id
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, classify(err, "failed to list assets")
	}
	defer rows.Close()

	var assets []*models.Asset
	for rows.Next() {
		a := &models.Asset{}
		if err := rows.Scan(&a.ID, &a.Name, &a.Status, &a.CurrentHolderID, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, a)
	}

	if err := rows.Err(); err != nil {
		return nil, classify(err, "error iterating assets")
	}

	return assets, nil
}

// CompareAndSwapAsset performs an optimistic update guarded on the
// previously observed status and holder
func (r *AssetRepository) CompareAndSwapAsset(ctx context.Context, id string, expected, next models.AssetState, at time.Time) (bool, error) {
	query := `
		UPDATE assets
		SET status = $4, current_holder_id = $5, updated_at = $6
		WHERE id = $1 AND status = $2 AND current_holder_id IS NOT DISTINCT FROM $3
	`

	tag, err := r.db.Exec(ctx, query,
		id,
		string(expected.Status),
		expected.HolderID,
		string(next.Status),
		next.HolderID,
		at,
	)
	if err != nil {
		return false, classify(err, "failed to swap asset %s", id)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// distinguish a lost race from a missing row
	if _, err := r.GetAsset(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// InsertAssetIfAbsent inserts a new asset and reports false when the id
// is already taken
func (r *AssetRepository) InsertAssetIfAbsent(ctx context.Context, a *models.Asset) (bool, error) {
	query := `
		INSERT INTO assets (id, name, status, current_holder_id, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`

	tag, err := r.db.Exec(ctx, query, a.ID, a.Name, string(a.Status), a.CurrentHolderID, a.UpdatedAt)
	if err != nil {
		return false, classify(err, "failed to insert asset %s", a.ID)
	}
	return tag.RowsAffected() == 1, nil
}

// ReplaceAsset rewrites every column of an asset, guarded on the status
// and holder the caller last observed
func (r *AssetRepository) ReplaceAsset(ctx context.Context, a *models.Asset, expected models.AssetState) (bool, error) {
	query := `
		UPDATE assets
		SET name = $2, status = $3, current_holder_id = $4, updated_at = $5
		WHERE id = $1 AND status = $6 AND current_holder_id IS NOT DISTINCT FROM $7
	`

	tag, err := r.db.Exec(ctx, query,
		a.ID,
		a.Name,
		string(a.Status),
		a.CurrentHolderID,
		a.UpdatedAt,
		string(expected.Status),
		expected.HolderID,
	)
	if err != nil {
		return false, classify(err, "failed to replace asset %s", a.ID)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	if _, err := r.GetAsset(ctx, a.ID); err != nil {
		return false, err
	}
	return false, nil
}

// DeleteAsset removes an asset
func (r *AssetRepository) DeleteAsset(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM assets WHERE id = $1`, id)
	if err != nil {
		return classify(err, "failed to delete asset %s", id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("asset %s: %w", id, store.ErrNotFound)
	}
	return nil
}
