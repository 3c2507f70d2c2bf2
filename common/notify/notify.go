// Package notify delivers fire-and-forget operator notifications.
// Delivery failures are logged, never returned to the caller.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Kind names a notification
type Kind string

const (
	ReservationReminder     Kind = "reservation_reminder"
	ReservationExpired      Kind = "reservation_expired"
	ReservationAutoExtended Kind = "reservation_auto_extended"
	ReservationBlocked      Kind = "reservation_blocked"
	MaintenanceRequired     Kind = "maintenance_required"
	SyncRetryExhausted      Kind = "sync_retry_exhausted"
)

// Notifier is the notification sink
type Notifier interface {
	Notify(ctx context.Context, kind Kind, payload map[string]any)
}

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Event is the wire shape published by the remote notifiers
type Event struct {
	ID      string         `json:"id"`
	Kind    Kind           `json:"kind"`
	Payload map[string]any `json:"payload"`
	At      time.Time      `json:"at"`
}

func newEvent(kind Kind, payload map[string]any) Event {
	return Event{
		ID:      uuid.NewString(),
		Kind:    kind,
		Payload: payload,
		At:      time.Now().UTC(),
	}
}

// LogNotifier writes notifications to the service log
type LogNotifier struct {
	log Logger
}

// NewLogNotifier creates a log-only notifier
func NewLogNotifier(log Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// Notify logs the notification
func (n *LogNotifier) Notify(ctx context.Context, kind Kind, payload map[string]any) {
	n.log.Info("notification", "kind", kind, "payload", payload)
}

// Multi fans a notification out to every sink
type Multi []Notifier

// Notify delivers to each sink in order
func (m Multi) Notify(ctx context.Context, kind Kind, payload map[string]any) {
	for _, n := range m {
		n.Notify(ctx, kind, payload)
	}
}
