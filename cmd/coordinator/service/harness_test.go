package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lyzr/toolcrib/common/cache"
	"github.com/lyzr/toolcrib/common/clock"
	"github.com/lyzr/toolcrib/common/logger"
	"github.com/lyzr/toolcrib/common/metrics"
	"github.com/lyzr/toolcrib/common/models"
	"github.com/lyzr/toolcrib/common/notify"
	"github.com/lyzr/toolcrib/common/policy"
	"github.com/lyzr/toolcrib/common/store/memory"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

type notification struct {
	kind    notify.Kind
	payload map[string]any
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (r *recordingNotifier) Notify(ctx context.Context, kind notify.Kind, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, notification{kind: kind, payload: payload})
}

func (r *recordingNotifier) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Kind, len(r.sent))
	for i, n := range r.sent {
		out[i] = n.kind
	}
	return out
}

func (r *recordingNotifier) last(kind notify.Kind) map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sent) - 1; i >= 0; i-- {
		if r.sent[i].kind == kind {
			return r.sent[i].payload
		}
	}
	return nil
}

// flakyLedger fails movement writes on demand
type flakyLedger struct {
	*memory.Store
	failMovements bool
}

func (f *flakyLedger) InsertMovement(ctx context.Context, m *models.Movement) error {
	if f.failMovements {
		return errors.New("movement table is read-only")
	}
	return f.Store.InsertMovement(ctx, m)
}

// flakyReservations fails reservation inserts on demand and can run a
// hook once, right before the next reservation read
type flakyReservations struct {
	*memory.Store
	failInserts bool

	mu        sync.Mutex
	beforeGet func()
}

func (f *flakyReservations) InsertReservation(ctx context.Context, r *models.Reservation) error {
	if f.failInserts {
		return errors.New("reservation table is read-only")
	}
	return f.Store.InsertReservation(ctx, r)
}

func (f *flakyReservations) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	f.mu.Lock()
	hook := f.beforeGet
	f.beforeGet = nil
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return f.Store.GetReservation(ctx, id)
}

type harness struct {
	store        *memory.Store
	ledger       *flakyLedger
	reservations *flakyReservations
	clock    *clock.Fake
	notifier *recordingNotifier
	monitor  *metrics.PerformanceMonitor
	cache    *cache.TTLCache
	machine  *AssetStateMachine
	coord    *ReservationCoordinator
	board    *DashboardService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithPolicy(t, policy.DefaultApprovalExpr)
}

func newHarnessWithPolicy(t *testing.T, expr string) *harness {
	t.Helper()

	log := logger.Discard()
	st := memory.New()
	clk := clock.NewFake(t0)
	n := &recordingNotifier{}
	mon := metrics.NewPerformanceMonitor(100, metrics.DefaultSLA, clk)
	c := cache.NewTTLCache(cache.Options{Clock: clk, Rand: func() float64 { return 1 }}, log)
	t.Cleanup(func() { _ = c.Close() })

	pol, err := policy.NewApprovalPolicy(expr)
	require.NoError(t, err)

	ledger := &flakyLedger{Store: st}
	locker := NewKeyedLocker()
	sm := NewAssetStateMachine(ledger, locker, c, mon, n, clk, log)
	reservations := &flakyReservations{Store: st}
	coord := NewReservationCoordinator(reservations, sm, locker, pol, clk, clk, n, mon, c, ReservationOptions{}, log)

	return &harness{
		store:        st,
		ledger:       ledger,
		reservations: reservations,
		clock:        clk,
		notifier:     n,
		monitor:      mon,
		cache:        c,
		machine:      sm,
		coord:        coord,
		board:        NewDashboardService(st, c, time.Minute, clk, log),
	}
}

func (h *harness) seed(id string, status models.AssetStatus, holder string) {
	a := &models.Asset{ID: id, Name: "tool " + id, Status: status, UpdatedAt: t0.Add(-time.Hour)}
	if holder != "" {
		a.CurrentHolderID = models.StringPtr(holder)
	}
	h.store.PutAsset(a)
}

func (h *harness) at(hours float64) time.Time {
	return t0.Add(time.Duration(hours * float64(time.Hour)))
}
