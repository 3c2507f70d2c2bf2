package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/lyzr/toolcrib/common/db"
	"github.com/lyzr/toolcrib/common/models"
)

const reservationColumns = `id, asset_id, holder_id, holder_name, window_from, window_until,
		       priority, status, auto_extend, approved_by, created_at, updated_at`

// ReservationRepository handles database operations for reservations
type ReservationRepository struct {
	db *db.DB
}

// NewReservationRepository creates a new reservation repository
func NewReservationRepository(database *db.DB) *ReservationRepository {
	return &ReservationRepository{db: database}
}

func scanReservation(row pgx.Row) (*models.Reservation, error) {
	res := &models.Reservation{}
	err := row.Scan(
		&res.ID,
		&res.AssetID,
		&res.HolderID,
		&res.HolderName,
		&res.From,
		&res.Until,
		&res.Priority,
		&res.Status,
		&res.AutoExtend,
		&res.ApprovedBy,
		&res.CreatedAt,
		&res.UpdatedAt,
	)
	return res, err
}

// GetReservation retrieves a reservation by id
func (r *ReservationRepository) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1`

	res, err := scanReservation(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, classify(err, "failed to get reservation %s", id)
	}
	return res, nil
}

// ListReservations lists an asset's reservations, optionally filtered by status
func (r *ReservationRepository) ListReservations(ctx context.Context, assetID string, statuses ...models.ReservationStatus) ([]*models.Reservation, error) {
	query := `SELECT ` + reservationColumns + `
		FROM reservations
		WHERE asset_id = $1 AND (cardinality($2::text[]) = 0 OR status = ANY($2::text[]))
		ORDER BY window_from, id
	`
	return r.list(ctx, query, assetID, statusStrings(statuses))
}

// ListOpenReservations lists every non-terminal reservation
func (r *ReservationRepository) ListOpenReservations(ctx context.Context) ([]*models.Reservation, error) {
	query := `SELECT ` + reservationColumns + `
		FROM reservations
		WHERE status = ANY($1::text[])
		ORDER BY window_from, id
	`
	return r.list(ctx, query, statusStrings(models.OpenStatuses))
}

func (r *ReservationRepository) list(ctx context.Context, query string, args ...any) ([]*models.Reservation, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err, "failed to list reservations")
	}
	defer rows.Close()

	var out []*models.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		out = append(out, res)
	}

	if err := rows.Err(); err != nil {
		return nil, classify(err, "error iterating reservations")
	}
	return out, nil
}

// InsertReservation stores a new reservation
func (r *ReservationRepository) InsertReservation(ctx context.Context, res *models.Reservation) error {
	query := `
		INSERT INTO reservations (` + reservationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.db.Exec(ctx, query, reservationArgs(res)...)
	if err != nil {
		return classify(err, "failed to insert reservation %s", res.ID)
	}
	return nil
}

// UpdateReservation writes res if the stored status still equals expected
func (r *ReservationRepository) UpdateReservation(ctx context.Context, res *models.Reservation, expected models.ReservationStatus) (bool, error) {
	query := `
		UPDATE reservations
		SET holder_name = $4, window_from = $5, window_until = $6, priority = $7,
		    status = $8, auto_extend = $9, approved_by = $10, updated_at = $11
		WHERE id = $1 AND asset_id = $2 AND status = $3
	`

	tag, err := r.db.Exec(ctx, query,
		res.ID,
		res.AssetID,
		string(expected),
		res.HolderName,
		res.From,
		res.Until,
		res.Priority,
		string(res.Status),
		res.AutoExtend,
		res.ApprovedBy,
		res.UpdatedAt,
	)
	if err != nil {
		return false, classify(err, "failed to update reservation %s", res.ID)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	if _, err := r.GetReservation(ctx, res.ID); err != nil {
		return false, err
	}
	return false, nil
}

func reservationArgs(res *models.Reservation) []any {
	return []any{
		res.ID,
		res.AssetID,
		res.HolderID,
		res.HolderName,
		res.From,
		res.Until,
		res.Priority,
		string(res.Status),
		res.AutoExtend,
		res.ApprovedBy,
		res.CreatedAt,
		res.UpdatedAt,
	}
}

func statusStrings(statuses []models.ReservationStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
