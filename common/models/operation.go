package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// OperationKind is the mutation type carried by a queued operation
type OperationKind string

const (
	OpCreate OperationKind = "create"
	OpUpdate OperationKind = "update"
	OpDelete OperationKind = "delete"
)

// Valid reports whether k is a known operation kind
func (k OperationKind) Valid() bool {
	return k == OpCreate || k == OpUpdate || k == OpDelete
}

// Logical tables an operation can target
const (
	TargetAssets       = "assets"
	TargetMovements    = "movements"
	TargetReservations = "reservations"
)

// Operation is a pending mutation held by the offline sync queue.
// The JSON shape is the durable record format and must stay stable.
type Operation struct {
	ID         string          `json:"id"`
	Kind       OperationKind   `json:"kind"`
	Target     string          `json:"target"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	Attempts   int             `json:"attempts"`
}

// RecordID extracts the "id" field of the payload. Every payload carries
// the full identity of the record it touches.
func (o *Operation) RecordID() (string, error) {
	var ref struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(o.Payload, &ref); err != nil {
		return "", fmt.Errorf("decode payload of operation %s: %w", o.ID, err)
	}
	if ref.ID == "" {
		return "", fmt.Errorf("operation %s payload has no id", o.ID)
	}
	return ref.ID, nil
}
