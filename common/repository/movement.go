package repository

import (
	"context"
	"fmt"

	"github.com/lyzr/toolcrib/common/db"
	"github.com/lyzr/toolcrib/common/models"
)

// MovementRepository handles the append-only movement log
type MovementRepository struct {
	db *db.DB
}

// NewMovementRepository creates a new movement repository
func NewMovementRepository(database *db.DB) *MovementRepository {
	return &MovementRepository{db: database}
}

// InsertMovement appends a movement and fills in its sequence number
func (r *MovementRepository) InsertMovement(ctx context.Context, m *models.Movement) error {
	query := `
		INSERT INTO movements (id, asset_id, actor_id, action, occurred_at, condition_note)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq
	`

	err := r.db.QueryRow(ctx, query,
		m.ID,
		m.AssetID,
		m.ActorID,
		string(m.Action),
		m.Timestamp,
		m.ConditionNote,
	).Scan(&m.Seq)
	if err != nil {
		return classify(err, "failed to insert movement %s", m.ID)
	}
	return nil
}

// ListMovements returns an asset's movements oldest first; equal
// timestamps keep insertion order
func (r *MovementRepository) ListMovements(ctx context.Context, assetID string) ([]*models.Movement, error) {
	query := `
		SELECT id, asset_id, actor_id, action, occurred_at, condition_note, seq
		FROM movements
		WHERE asset_id = $1
		ORDER BY occurred_at, seq
	`

	rows, err := r.db.Query(ctx, query, assetID)
	if err != nil {
		return nil, classify(err, "failed to list movements for %s", assetID)
	}
	defer rows.Close()

	var out []*models.Movement
	for rows.Next() {
		m := &models.Movement{}
		err := rows.Scan(
			&m.ID,
			&m.AssetID,
			&m.ActorID,
			&m.Action,
			&m.Timestamp,
			&m.ConditionNote,
			&m.Seq,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan movement: %w", err)
		}
		out = append(out, m)
	}

	if err := rows.Err(); err != nil {
		return nil, classify(err, "error iterating movements")
	}
	return out, nil
}

// CountMovements counts movements referencing an asset
func (r *MovementRepository) CountMovements(ctx context.Context, assetID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM movements WHERE asset_id = $1`, assetID).Scan(&n)
	if err != nil {
		return 0, classify(err, "failed to count movements for %s", assetID)
	}
	return n, nil
}
