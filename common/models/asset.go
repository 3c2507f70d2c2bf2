package models

import (
	"fmt"
	"time"
)

// AssetStatus represents the lifecycle status of a tracked asset
type AssetStatus string

const (
	AssetAvailable   AssetStatus = "available"
	AssetInUse       AssetStatus = "in-use"
	AssetMaintenance AssetStatus = "maintenance"
	AssetInactive    AssetStatus = "inactive"
)

// Valid reports whether s is one of the known asset statuses
func (s AssetStatus) Valid() bool {
	switch s {
	case AssetAvailable, AssetInUse, AssetMaintenance, AssetInactive:
		return true
	default:
		return false
	}
}

// ParseAssetStatus converts a stored string into an AssetStatus
func ParseAssetStatus(v string) (AssetStatus, error) {
	s := AssetStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown asset status %q", v)
	}
	return s, nil
}

// Asset represents one physical, individually tracked item
// Maps to: assets table
type Asset struct {
	ID              string      `db:"id" json:"id"`
	Name            string      `db:"name" json:"name,omitempty"`
	Status          AssetStatus `db:"status" json:"status"`
	CurrentHolderID *string     `db:"current_holder_id" json:"currentHolderId"`
	UpdatedAt       time.Time   `db:"updated_at" json:"updatedAt"`
}

// AssetState is the part of an asset guarded by compare-and-swap updates
type AssetState struct {
	Status   AssetStatus
	HolderID *string
}

// State returns the CAS-guarded portion of the asset
func (a *Asset) State() AssetState {
	return AssetState{Status: a.Status, HolderID: a.CurrentHolderID}
}

// Holder returns the current holder or "" when nobody holds the asset
func (a *Asset) Holder() string {
	if a.CurrentHolderID == nil {
		return ""
	}
	return *a.CurrentHolderID
}

// Consistent checks the in-use <=> holder invariant
func (a *Asset) Consistent() bool {
	return (a.Status == AssetInUse) == (a.CurrentHolderID != nil)
}

// Clone returns a deep copy so callers never share the holder pointer
func (a *Asset) Clone() *Asset {
	c := *a
	if a.CurrentHolderID != nil {
		h := *a.CurrentHolderID
		c.CurrentHolderID = &h
	}
	return &c
}

// Equal compares two asset states, treating nil and nil holders as equal
func (s AssetState) Equal(o AssetState) bool {
	if s.Status != o.Status {
		return false
	}
	if s.HolderID == nil || o.HolderID == nil {
		return s.HolderID == nil && o.HolderID == nil
	}
	return *s.HolderID == *o.HolderID
}

// StringPtr is a small helper for optional string fields
func StringPtr(s string) *string {
	return &s
}
