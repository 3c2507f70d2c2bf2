// Package queue holds CRUD operations that could not reach the central
// store and replays them, in order, once connectivity returns.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/lyzr/toolcrib/common/clock"
	"github.com/lyzr/toolcrib/common/models"
	"github.com/lyzr/toolcrib/common/notify"
	"github.com/lyzr/toolcrib/common/store"
)

// DefaultMaxRetries is how many failed retries an operation survives
const DefaultMaxRetries = 3

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Options tunes the queue
type Options struct {
	MaxRetries int
	Clock      clock.Clock
}

// DrainReport summarizes one drain pass
type DrainReport struct {
	Applied   int  `json:"applied"`
	Failed    int  `json:"failed"`
	Dropped   int  `json:"dropped"`
	Remaining int  `json:"remaining"`
	Halted    bool `json:"halted"`
}

// OfflineSyncQueue is a durable FIFO of pending store mutations
type OfflineSyncQueue struct {
	mu      sync.Mutex
	drainMu sync.Mutex
	ops     []models.Operation

	journal    Journal
	applier    store.Applier
	notifier   notify.Notifier
	log        Logger
	clk        clock.Clock
	maxRetries int
}

// New creates a queue and restores any operations left in the journal
func New(ctx context.Context, journal Journal, applier store.Applier, notifier notify.Notifier, opts Options, log Logger) (*OfflineSyncQueue, error) {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewSystem()
	}

	ops, err := journal.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load offline journal: %w", err)
	}
	if len(ops) > 0 {
		log.Info("restored offline operations", "count", len(ops))
	}

	return &OfflineSyncQueue{
		ops:        ops,
		journal:    journal,
		applier:    applier,
		notifier:   notifier,
		log:        log,
		clk:        opts.Clock,
		maxRetries: opts.MaxRetries,
	}, nil
}

// Enqueue appends an operation and persists the journal before returning
func (q *OfflineSyncQueue) Enqueue(ctx context.Context, kind models.OperationKind, target string, payload any) (models.Operation, error) {
	op, err := q.newOperation(kind, target, payload)
	if err != nil {
		return models.Operation{}, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.ops = append(q.ops, op)
	if err := q.journal.Save(ctx, q.ops); err != nil {
		q.ops = q.ops[:len(q.ops)-1]
		return models.Operation{}, models.Persistence(err, "offline journal write failed")
	}

	q.log.Info("operation queued", "op_id", op.ID, "kind", op.Kind, "target", op.Target, "pending", len(q.ops))
	return op, nil
}

// Submit applies the operation directly, or queues it when the store is
// unreachable or older operations for the same record are still pending.
// It reports whether the operation was queued.
func (q *OfflineSyncQueue) Submit(ctx context.Context, kind models.OperationKind, target string, payload any) (models.Operation, bool, error) {
	op, err := q.newOperation(kind, target, payload)
	if err != nil {
		return models.Operation{}, false, err
	}

	if !q.hasPendingFor(op) {
		err := q.applier.Apply(ctx, op)
		if err == nil {
			return op, false, nil
		}
		if !errors.Is(err, store.ErrUnavailable) {
			return op, false, err
		}
		q.log.Warn("store unavailable, queueing operation", "kind", kind, "target", target)
	}

	queued, err := q.Enqueue(ctx, op.Kind, op.Target, op.Payload)
	return queued, err == nil, err
}

// Pending returns a copy of the queued operations in order
func (q *OfflineSyncQueue) Pending() []models.Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]models.Operation, len(q.ops))
	copy(out, q.ops)
	return out
}

// Len returns the number of queued operations
func (q *OfflineSyncQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Drain replays queued operations in FIFO order.
//
// A successful apply removes the operation. A failed apply increments its
// attempts; once attempts exceed MaxRetries it is dropped and reported.
// After a failure, later operations on the same record wait for the next
// drain. ErrUnavailable stops the pass.
func (q *OfflineSyncQueue) Drain(ctx context.Context) (DrainReport, error) {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	var report DrainReport
	blocked := make(map[string]bool)

	for _, op := range q.Pending() {
		if err := ctx.Err(); err != nil {
			return q.finish(ctx, report, err)
		}

		key := recordKey(op)
		if blocked[key] {
			continue
		}

		err := q.applier.Apply(ctx, op)
		if err == nil {
			q.remove(op.ID)
			report.Applied++
			q.log.Debug("offline operation applied", "op_id", op.ID, "target", op.Target)
			continue
		}

		blocked[key] = true
		attempts, dropped := q.recordFailure(op.ID)
		report.Failed++
		if dropped {
			report.Dropped++
			q.log.Error("offline operation dropped after retries",
				"op_id", op.ID, "target", op.Target, "attempts", attempts, "error", err)
			q.notifier.Notify(ctx, notify.SyncRetryExhausted, map[string]any{
				"operationId": op.ID,
				"kind":        string(op.Kind),
				"target":      op.Target,
				"recordId":    recordIDOf(op),
				"attempts":    attempts,
				"error":       err.Error(),
			})
		} else {
			q.log.Warn("offline operation failed", "op_id", op.ID, "attempts", attempts, "error", err)
		}

		if errors.Is(err, store.ErrUnavailable) {
			report.Halted = true
			break
		}
	}

	return q.finish(ctx, report, nil)
}

func (q *OfflineSyncQueue) finish(ctx context.Context, report DrainReport, cause error) (DrainReport, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	report.Remaining = len(q.ops)
	if err := q.journal.Save(context.WithoutCancel(ctx), q.ops); err != nil {
		return report, models.Persistence(err, "offline journal write failed")
	}
	if report.Applied+report.Failed > 0 {
		q.log.Info("offline drain finished",
			"applied", report.Applied, "failed", report.Failed,
			"dropped", report.Dropped, "remaining", report.Remaining)
	}
	return report, cause
}

func (q *OfflineSyncQueue) remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.ops {
		if q.ops[i].ID == id {
			q.ops = append(q.ops[:i], q.ops[i+1:]...)
			return
		}
	}
}

// recordFailure bumps attempts and drops the op when retries are exhausted
func (q *OfflineSyncQueue) recordFailure(id string) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.ops {
		if q.ops[i].ID != id {
			continue
		}
		q.ops[i].Attempts++
		attempts := q.ops[i].Attempts
		if attempts > q.maxRetries {
			q.ops = append(q.ops[:i], q.ops[i+1:]...)
			return attempts, true
		}
		return attempts, false
	}
	return 0, false
}

func (q *OfflineSyncQueue) hasPendingFor(op models.Operation) bool {
	key := recordKey(op)

	q.mu.Lock()
	defer q.mu.Unlock()

	for _, p := range q.ops {
		if recordKey(p) == key {
			return true
		}
	}
	return false
}

func (q *OfflineSyncQueue) newOperation(kind models.OperationKind, target string, payload any) (models.Operation, error) {
	if !kind.Valid() {
		return models.Operation{}, models.Invalid("unknown operation kind %q", kind)
	}
	if target == "" {
		return models.Operation{}, models.Invalid("operation target is required")
	}

	var raw json.RawMessage
	switch p := payload.(type) {
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return models.Operation{}, models.Invalid("payload is not serializable: %v", err)
		}
		raw = b
	}

	op := models.Operation{
		ID:         uuid.NewString(),
		Kind:       kind,
		Target:     target,
		Payload:    raw,
		EnqueuedAt: q.clk.Now(),
	}
	// reject what could never apply instead of journaling it
	if err := store.CheckOperation(op); err != nil {
		return models.Operation{}, err
	}
	return op, nil
}

func recordIDOf(op models.Operation) string {
	id, _ := op.RecordID()
	return id
}

func recordKey(op models.Operation) string {
	return op.Target + "/" + recordIDOf(op)
}
