package repository

import (
	"context"
	"fmt"

	"github.com/lyzr/toolcrib/common/db"
	"github.com/lyzr/toolcrib/common/models"
	"github.com/lyzr/toolcrib/common/store"
)

// Store is the Postgres-backed store.Store
type Store struct {
	*AssetRepository
	*MovementRepository
	*ReservationRepository
	db *db.DB
}

var _ store.Store = (*Store)(nil)
var _ store.RecordWriter = (*Store)(nil)

// NewStore wires the repositories over one pool
func NewStore(database *db.DB) *Store {
	return &Store{
		AssetRepository:       NewAssetRepository(database),
		MovementRepository:    NewMovementRepository(database),
		ReservationRepository: NewReservationRepository(database),
		db:                    database,
	}
}

// Apply replays a queued operation
func (s *Store) Apply(ctx context.Context, op models.Operation) error {
	return store.ApplyOperation(ctx, s, op)
}

// Ping reports store.ErrUnavailable when the database cannot be reached
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Health(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w: %v", store.ErrUnavailable, err)
	}
	return nil
}
