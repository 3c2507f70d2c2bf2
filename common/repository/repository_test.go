package repository

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lyzr/toolcrib/common/db"
	"github.com/lyzr/toolcrib/common/logger"
	"github.com/lyzr/toolcrib/common/models"
	"github.com/lyzr/toolcrib/common/repository/migrations"
	"github.com/lyzr/toolcrib/common/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore connects to TEST_DATABASE_URL, migrates and truncates.
// The tests skip when no database is configured.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping Postgres integration tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)
	cfg.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("skipping Postgres integration tests: %v", err)
	}
	t.Cleanup(pool.Close)

	require.NoError(t, migrations.Apply(ctx, pool))
	_, err = pool.Exec(ctx, `TRUNCATE movements, reservations, assets RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	return NewStore(db.NewFromPool(pool, logger.Discard()))
}

var t0 = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

func seedAsset(t *testing.T, s *Store, id string) {
	t.Helper()
	inserted, err := s.InsertAssetIfAbsent(context.Background(), &models.Asset{
		ID: id, Name: "Drill " + id, Status: models.AssetAvailable, UpdatedAt: t0,
	})
	require.NoError(t, err)
	require.True(t, inserted)
}

func TestAssetCompareAndSwap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAsset(t, s, "A1")

	avail := models.AssetState{Status: models.AssetAvailable}
	held := models.AssetState{Status: models.AssetInUse, HolderID: models.StringPtr("W7")}

	ok, err := s.CompareAndSwapAsset(ctx, "A1", avail, held, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.CompareAndSwapAsset(ctx, "A1", avail, held, t0)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.CompareAndSwapAsset(ctx, "nope", avail, held, t0)
	assert.ErrorIs(t, err, store.ErrNotFound)

	a, err := s.GetAsset(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, models.AssetInUse, a.Status)
	assert.Equal(t, "W7", a.Holder())
}

func TestMovementOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAsset(t, s, "A1")

	for _, m := range []*models.Movement{
		{ID: "m2", AssetID: "A1", ActorID: "W1", Action: models.ActionCheckin, Timestamp: t0.Add(time.Minute)},
		{ID: "m1", AssetID: "A1", ActorID: "W1", Action: models.ActionCheckout, Timestamp: t0},
		{ID: "m3", AssetID: "A1", ActorID: "W2", Action: models.ActionCheckout, Timestamp: t0},
	} {
		require.NoError(t, s.InsertMovement(ctx, m))
		assert.Positive(t, m.Seq)
	}

	ms, err := s.ListMovements(ctx, "A1")
	require.NoError(t, err)
	require.Len(t, ms, 3)
	assert.Equal(t, "m1", ms[0].ID)
	assert.Equal(t, "m3", ms[1].ID)
	assert.Equal(t, "m2", ms[2].ID)

	n, err := s.CountMovements(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestReservationLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAsset(t, s, "A1")

	res := &models.Reservation{
		ID: "R1", AssetID: "A1", HolderID: "W1", HolderName: "Wren",
		From: t0, Until: t0.Add(2 * time.Hour), Status: models.ReservationPending,
		CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, s.InsertReservation(ctx, res))

	next := res.Clone()
	next.Status = models.ReservationApproved
	next.ApprovedBy = models.StringPtr("boss")
	ok, err := s.UpdateReservation(ctx, next, models.ReservationPending)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.UpdateReservation(ctx, next, models.ReservationPending)
	require.NoError(t, err)
	assert.False(t, ok)

	blocking, err := s.ListReservations(ctx, "A1", models.BlockingStatuses...)
	require.NoError(t, err)
	require.Len(t, blocking, 1)
	assert.Equal(t, "boss", *blocking[0].ApprovedBy)

	all, err := s.ListReservations(ctx, "A1")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	open, err := s.ListOpenReservations(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 1)

	_, err = s.GetReservation(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestApplyAgainstPostgres(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	payload, _ := json.Marshal(map[string]any{"id": "A9", "name": "Ladder"})
	op := models.Operation{ID: "op1", Kind: models.OpCreate, Target: models.TargetAssets, Payload: payload, EnqueuedAt: t0}
	require.NoError(t, s.Apply(ctx, op))
	require.NoError(t, s.Apply(ctx, op), "replaying a create is a no-op")

	a, err := s.GetAsset(ctx, "A9")
	require.NoError(t, err)
	assert.Equal(t, "Ladder", a.Name)
	assert.Equal(t, models.AssetAvailable, a.Status)
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}
