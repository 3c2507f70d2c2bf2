package models

import "time"

// MovementAction is the kind of state transition a movement records
type MovementAction string

const (
	ActionCheckout MovementAction = "checkout"
	ActionCheckin  MovementAction = "checkin"
)

// Movement is an immutable audit record of one checkout or checkin
// Maps to: movements table
type Movement struct {
	ID            string         `db:"id" json:"id"`
	AssetID       string         `db:"asset_id" json:"assetId"`
	ActorID       string         `db:"actor_id" json:"actorId"`
	Action        MovementAction `db:"action" json:"action"`
	Timestamp     time.Time      `db:"occurred_at" json:"timestamp"`
	ConditionNote string         `db:"condition_note" json:"conditionNote,omitempty"`

	// Insertion order, assigned by the store. Breaks timestamp ties.
	Seq int64 `db:"seq" json:"seq"`
}
