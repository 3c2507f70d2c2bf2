package memory

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/lyzr/toolcrib/common/models"
	"github.com/lyzr/toolcrib/common/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func op(kind models.OperationKind, target string, payload any) models.Operation {
	raw, _ := json.Marshal(payload)
	return models.Operation{ID: "op", Kind: kind, Target: target, Payload: raw, EnqueuedAt: t0}
}

func TestCompareAndSwapAsset(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.PutAsset(&models.Asset{ID: "A1", Status: models.AssetAvailable})

	avail := models.AssetState{Status: models.AssetAvailable}
	held := models.AssetState{Status: models.AssetInUse, HolderID: models.StringPtr("W7")}

	ok, err := s.CompareAndSwapAsset(ctx, "A1", avail, held, t0)
	require.NoError(t, err)
	assert.True(t, ok)

	// stale expectation loses
	ok, err = s.CompareAndSwapAsset(ctx, "A1", avail, held, t0)
	require.NoError(t, err)
	assert.False(t, ok)

	a, err := s.GetAsset(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, "W7", a.Holder())
	assert.Equal(t, t0, a.UpdatedAt)

	_, err = s.CompareAndSwapAsset(ctx, "missing", avail, held, t0)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetAssetReturnsCopy(t *testing.T) {
	s := New()
	s.PutAsset(&models.Asset{ID: "A1", Status: models.AssetInUse, CurrentHolderID: models.StringPtr("W1")})

	a, err := s.GetAsset(context.Background(), "A1")
	require.NoError(t, err)
	*a.CurrentHolderID = "mutated"

	b, _ := s.GetAsset(context.Background(), "A1")
	assert.Equal(t, "W1", b.Holder())
}

func TestListMovementsOrdersByTimestampThenSeq(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.InsertMovement(ctx, &models.Movement{ID: "m2", AssetID: "A1", Timestamp: t0.Add(time.Minute)}))
	require.NoError(t, s.InsertMovement(ctx, &models.Movement{ID: "m1", AssetID: "A1", Timestamp: t0}))
	require.NoError(t, s.InsertMovement(ctx, &models.Movement{ID: "m3", AssetID: "A1", Timestamp: t0}))
	require.NoError(t, s.InsertMovement(ctx, &models.Movement{ID: "x", AssetID: "B", Timestamp: t0}))

	ms, err := s.ListMovements(ctx, "A1")
	require.NoError(t, err)
	require.Len(t, ms, 3)
	assert.Equal(t, []string{"m1", "m3", "m2"}, []string{ms[0].ID, ms[1].ID, ms[2].ID})

	err = s.InsertMovement(ctx, &models.Movement{ID: "m1", AssetID: "A1"})
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestUpdateReservationGuardsStatus(t *testing.T) {
	ctx := context.Background()
	s := New()
	r := &models.Reservation{ID: "R1", AssetID: "A1", HolderID: "W1", From: t0, Until: t0.Add(time.Hour), Status: models.ReservationPending}
	require.NoError(t, s.InsertReservation(ctx, r))

	next := r.Clone()
	next.Status = models.ReservationApproved
	ok, err := s.UpdateReservation(ctx, next, models.ReservationPending)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.UpdateReservation(ctx, next, models.ReservationPending)
	require.NoError(t, err)
	assert.False(t, ok)

	blocking, err := s.ListReservations(ctx, "A1", models.BlockingStatuses...)
	require.NoError(t, err)
	assert.Len(t, blocking, 1)
}

func TestOffline(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.SetOffline(true)

	assert.ErrorIs(t, s.Ping(ctx), store.ErrUnavailable)
	_, err := s.ListAssets(ctx)
	assert.ErrorIs(t, err, store.ErrUnavailable)

	s.SetOffline(false)
	assert.NoError(t, s.Ping(ctx))
}

func TestApplyAssetOperations(t *testing.T) {
	ctx := context.Background()
	s := New()

	create := op(models.OpCreate, models.TargetAssets, map[string]any{"id": "A1", "name": "Drill"})
	require.NoError(t, s.Apply(ctx, create))
	// replaying the same create is harmless
	require.NoError(t, s.Apply(ctx, create))
	a, err := s.GetAsset(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, models.AssetAvailable, a.Status)

	err = s.Apply(ctx, op(models.OpCreate, models.TargetAssets, map[string]any{"id": "A1", "name": "Other drill"}))
	assert.ErrorIs(t, err, models.ErrConflict)

	update := op(models.OpUpdate, models.TargetAssets, map[string]any{"id": "A1", "status": "maintenance", "name": "Drill 18V"})
	require.NoError(t, s.Apply(ctx, update))
	require.NoError(t, s.Apply(ctx, update))

	a, _ = s.GetAsset(ctx, "A1")
	assert.Equal(t, models.AssetMaintenance, a.Status)
	assert.Equal(t, "Drill 18V", a.Name)
	assert.Nil(t, a.CurrentHolderID)

	require.NoError(t, s.InsertMovement(ctx, &models.Movement{ID: "m1", AssetID: "A1"}))
	err = s.Apply(ctx, op(models.OpDelete, models.TargetAssets, map[string]any{"id": "A1"}))
	assert.ErrorIs(t, err, models.ErrConflict)

	// deleting an unknown asset is a no-op
	require.NoError(t, s.Apply(ctx, op(models.OpDelete, models.TargetAssets, map[string]any{"id": "ghost"})))
}

func TestApplyNeverAssignsAHolder(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.PutAsset(&models.Asset{ID: "A1", Name: "Drill", Status: models.AssetAvailable, UpdatedAt: t0})

	tests := []struct {
		name    string
		kind    models.OperationKind
		payload map[string]any
	}{
		{"patch to in-use", models.OpUpdate, map[string]any{"id": "A1", "status": "in-use", "currentHolderId": "mallory"}},
		{"patch holder only", models.OpUpdate, map[string]any{"id": "A1", "currentHolderId": "mallory"}},
		{"create checked out", models.OpCreate, map[string]any{"id": "A2", "status": "in-use", "currentHolderId": "mallory"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Apply(ctx, op(tt.kind, models.TargetAssets, tt.payload))
			assert.ErrorIs(t, err, models.ErrInvalid)
		})
	}

	a, err := s.GetAsset(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, models.AssetAvailable, a.Status)
	assert.Nil(t, a.CurrentHolderID)
	_, err = s.GetAsset(ctx, "A2")
	assert.ErrorIs(t, err, store.ErrNotFound)
	n, _ := s.CountMovements(ctx, "A1")
	assert.Zero(t, n)
}

func TestApplyLeavesCheckedOutAssetsAlone(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.PutAsset(&models.Asset{ID: "A1", Name: "Drill", Status: models.AssetInUse, CurrentHolderID: models.StringPtr("W1"), UpdatedAt: t0})

	err := s.Apply(ctx, op(models.OpUpdate, models.TargetAssets, map[string]any{"id": "A1", "status": "maintenance"}))
	assert.ErrorIs(t, err, models.ErrConflict)

	err = s.Apply(ctx, op(models.OpDelete, models.TargetAssets, map[string]any{"id": "A1"}))
	assert.ErrorIs(t, err, models.ErrConflict)

	// renaming keeps the holder
	require.NoError(t, s.Apply(ctx, op(models.OpUpdate, models.TargetAssets, map[string]any{"id": "A1", "name": "Drill 18V"})))
	a, _ := s.GetAsset(ctx, "A1")
	assert.Equal(t, models.AssetInUse, a.Status)
	assert.Equal(t, "W1", a.Holder())
	assert.Equal(t, "Drill 18V", a.Name)
}

// checkoutDuringRead checks the asset out right after the applier's first
// read, before its write lands
type checkoutDuringRead struct {
	*Store
	once sync.Once
}

func (w *checkoutDuringRead) GetAsset(ctx context.Context, id string) (*models.Asset, error) {
	a, err := w.Store.GetAsset(ctx, id)
	w.once.Do(func() {
		avail := models.AssetState{Status: models.AssetAvailable}
		held := models.AssetState{Status: models.AssetInUse, HolderID: models.StringPtr("alice")}
		_, _ = w.Store.CompareAndSwapAsset(ctx, id, avail, held, t0.Add(time.Minute))
	})
	return a, err
}

func TestApplyUpdateDoesNotOverwriteConcurrentCheckout(t *testing.T) {
	ctx := context.Background()

	t.Run("status patch", func(t *testing.T) {
		s := New()
		s.PutAsset(&models.Asset{ID: "A1", Name: "Drill", Status: models.AssetAvailable, UpdatedAt: t0})
		w := &checkoutDuringRead{Store: s}

		err := store.ApplyOperation(ctx, w, op(models.OpUpdate, models.TargetAssets, map[string]any{"id": "A1", "status": "maintenance"}))
		assert.ErrorIs(t, err, models.ErrConflict)

		a, _ := s.GetAsset(ctx, "A1")
		assert.Equal(t, models.AssetInUse, a.Status)
		assert.Equal(t, "alice", a.Holder())
	})

	t.Run("rename", func(t *testing.T) {
		s := New()
		s.PutAsset(&models.Asset{ID: "A1", Name: "Drill", Status: models.AssetAvailable, UpdatedAt: t0})
		w := &checkoutDuringRead{Store: s}

		require.NoError(t, store.ApplyOperation(ctx, w, op(models.OpUpdate, models.TargetAssets, map[string]any{"id": "A1", "name": "Drill 18V"})))

		a, _ := s.GetAsset(ctx, "A1")
		assert.Equal(t, models.AssetInUse, a.Status)
		assert.Equal(t, "alice", a.Holder())
		assert.Equal(t, "Drill 18V", a.Name)
	})
}

func TestApplyRejectsReservationAndMovementWrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	held := &models.Reservation{ID: "R1", AssetID: "A1", HolderID: "W1", From: t0, Until: t0.Add(2 * time.Hour), Status: models.ReservationApproved}
	require.NoError(t, s.InsertReservation(ctx, held))

	overlapping := op(models.OpCreate, models.TargetReservations, map[string]any{
		"id": "R2", "assetId": "A1", "holderId": "W2", "status": "approved",
		"from": t0.Add(time.Hour), "until": t0.Add(3 * time.Hour),
	})
	assert.ErrorIs(t, s.Apply(ctx, overlapping), models.ErrInvalid)
	assert.ErrorIs(t, s.Apply(ctx, op(models.OpUpdate, models.TargetReservations, map[string]any{"id": "R1", "until": t0.Add(5 * time.Hour)})), models.ErrInvalid)

	m := map[string]any{"id": "m1", "assetId": "A1", "actorId": "W1", "action": "checkout", "timestamp": t0}
	assert.ErrorIs(t, s.Apply(ctx, op(models.OpCreate, models.TargetMovements, m)), models.ErrInvalid)

	blocking, err := s.ListReservations(ctx, "A1", models.BlockingStatuses...)
	require.NoError(t, err)
	require.Len(t, blocking, 1)
	assert.Equal(t, t0.Add(2*time.Hour), blocking[0].Until)
	ms, _ := s.ListMovements(ctx, "A1")
	assert.Empty(t, ms)
}

func TestApplyRejectsUnknownTarget(t *testing.T) {
	err := New().Apply(context.Background(), op(models.OpCreate, "widgets", map[string]any{"id": "x"}))
	assert.ErrorIs(t, err, models.ErrInvalid)
}
