// Package store defines the persistence contracts the coordinator consumes.
// Implementations live in common/repository (Postgres) and
// common/store/memory.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/lyzr/toolcrib/common/models"
)

var (
	// ErrNotFound is returned when the referenced record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrUnavailable is returned when the backing store cannot be reached.
	// Callers may queue the mutation for later instead of failing it.
	ErrUnavailable = errors.New("store unavailable")
)

// AssetStore reads and conditionally writes asset records
type AssetStore interface {
	GetAsset(ctx context.Context, id string) (*models.Asset, error)
	ListAssets(ctx context.Context) ([]*models.Asset, error)

	// CompareAndSwapAsset writes next only if the stored state still equals
	// expected. It reports false (and no error) when the state moved on.
	CompareAndSwapAsset(ctx context.Context, id string, expected, next models.AssetState, at time.Time) (bool, error)
}

// MovementStore appends and lists the immutable movement log
type MovementStore interface {
	// InsertMovement appends m and assigns its insertion sequence
	InsertMovement(ctx context.Context, m *models.Movement) error

	// ListMovements returns movements for an asset ordered by timestamp,
	// ties broken by insertion order
	ListMovements(ctx context.Context, assetID string) ([]*models.Movement, error)
}

// ReservationStore persists reservations
type ReservationStore interface {
	GetReservation(ctx context.Context, id string) (*models.Reservation, error)

	// ListReservations returns reservations for an asset, optionally limited
	// to the given statuses, ordered by window start
	ListReservations(ctx context.Context, assetID string, statuses ...models.ReservationStatus) ([]*models.Reservation, error)

	// ListOpenReservations returns every non-terminal reservation
	ListOpenReservations(ctx context.Context) ([]*models.Reservation, error)

	InsertReservation(ctx context.Context, r *models.Reservation) error

	// UpdateReservation persists r only if the stored status still equals
	// expected. It reports false when another transition won.
	UpdateReservation(ctx context.Context, r *models.Reservation, expected models.ReservationStatus) (bool, error)
}

// Applier applies a queued operation against its logical target table
type Applier interface {
	Apply(ctx context.Context, op models.Operation) error
}

// Store is the full persistence surface used by the coordinator
type Store interface {
	AssetStore
	MovementStore
	ReservationStore
	Applier
	Ping(ctx context.Context) error
}
