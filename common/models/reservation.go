package models

import (
	"fmt"
	"time"
)

// ReservationStatus represents the lifecycle status of a reservation
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationApproved  ReservationStatus = "approved"
	ReservationActive    ReservationStatus = "active"
	ReservationCompleted ReservationStatus = "completed"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationExpired   ReservationStatus = "expired"
)

// BlockingStatuses are the statuses that participate in overlap checks
var BlockingStatuses = []ReservationStatus{ReservationApproved, ReservationActive}

// OpenStatuses are the non-terminal statuses
var OpenStatuses = []ReservationStatus{ReservationPending, ReservationApproved, ReservationActive}

// Valid reports whether s is one of the known reservation statuses
func (s ReservationStatus) Valid() bool {
	switch s {
	case ReservationPending, ReservationApproved, ReservationActive,
		ReservationCompleted, ReservationCancelled, ReservationExpired:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is allowed
func (s ReservationStatus) IsTerminal() bool {
	switch s {
	case ReservationCompleted, ReservationCancelled, ReservationExpired:
		return true
	default:
		return false
	}
}

// Blocking reports whether reservations in this status claim their window
func (s ReservationStatus) Blocking() bool {
	return s == ReservationApproved || s == ReservationActive
}

// ParseReservationStatus converts a stored string into a ReservationStatus
func ParseReservationStatus(v string) (ReservationStatus, error) {
	s := ReservationStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown reservation status %q", v)
	}
	return s, nil
}

// Reservation is a claim on an asset for the half-open window [From, Until)
// Maps to: reservations table
type Reservation struct {
	ID         string            `db:"id" json:"id"`
	AssetID    string            `db:"asset_id" json:"assetId"`
	HolderID   string            `db:"holder_id" json:"holderId"`
	HolderName string            `db:"holder_name" json:"holderName,omitempty"`
	From       time.Time         `db:"window_from" json:"from"`
	Until      time.Time         `db:"window_until" json:"until"`
	Priority   int               `db:"priority" json:"priority"`
	Status     ReservationStatus `db:"status" json:"status"`
	AutoExtend bool              `db:"auto_extend" json:"autoExtend"`
	ApprovedBy *string           `db:"approved_by" json:"approvedBy,omitempty"`
	CreatedAt  time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time         `db:"updated_at" json:"updatedAt"`
}

// Overlaps applies the half-open interval test against [from, until).
// A window ending exactly when another begins does not overlap.
func (r *Reservation) Overlaps(from, until time.Time) bool {
	return r.From.Before(until) && from.Before(r.Until)
}

// Contains reports whether t falls inside the reservation window
func (r *Reservation) Contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.Until)
}

// Clone returns a deep copy of the reservation
func (r *Reservation) Clone() *Reservation {
	c := *r
	if r.ApprovedBy != nil {
		a := *r.ApprovedBy
		c.ApprovedBy = &a
	}
	return &c
}
