package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReservationOverlaps_HalfOpen(t *testing.T) {
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	at := func(h int) time.Time { return day.Add(time.Duration(h) * time.Hour) }

	r := &Reservation{From: at(10), Until: at(12)}

	assert.True(t, r.Overlaps(at(11), at(13)), "partial overlap")
	assert.True(t, r.Overlaps(at(9), at(13)), "enclosing window")
	assert.True(t, r.Overlaps(at(10), at(12)), "identical window")
	assert.False(t, r.Overlaps(at(12), at(13)), "adjacent after")
	assert.False(t, r.Overlaps(at(8), at(10)), "adjacent before")

	assert.True(t, r.Contains(at(10)))
	assert.False(t, r.Contains(at(12)))
}

func TestAssetConsistent(t *testing.T) {
	holder := "user-1"
	assert.True(t, (&Asset{Status: AssetAvailable}).Consistent())
	assert.True(t, (&Asset{Status: AssetInUse, CurrentHolderID: &holder}).Consistent())
	assert.False(t, (&Asset{Status: AssetInUse}).Consistent())
	assert.False(t, (&Asset{Status: AssetMaintenance, CurrentHolderID: &holder}).Consistent())
}

func TestAssetStateEqual(t *testing.T) {
	a, b := "a", "a"
	assert.True(t, AssetState{Status: AssetInUse, HolderID: &a}.Equal(AssetState{Status: AssetInUse, HolderID: &b}))
	assert.False(t, AssetState{Status: AssetInUse, HolderID: &a}.Equal(AssetState{Status: AssetInUse}))
	assert.True(t, AssetState{Status: AssetAvailable}.Equal(AssetState{Status: AssetAvailable}))
}

func TestErrorMatchesByKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", Conflict("asset is %s", AssetInUse))

	assert.True(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, ErrForbidden))
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, "asset is in-use", ReasonOf(err))
}

func TestOperationRecordID(t *testing.T) {
	op := &Operation{ID: "op-1", Payload: []byte(`{"id":"asset-7","name":"drill"}`)}
	id, err := op.RecordID()
	assert.NoError(t, err)
	assert.Equal(t, "asset-7", id)

	op.Payload = []byte(`{"name":"drill"}`)
	_, err = op.RecordID()
	assert.Error(t, err)
}
