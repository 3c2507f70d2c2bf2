package service

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/toolcrib/common/cache"
	"github.com/lyzr/toolcrib/common/clock"
	"github.com/lyzr/toolcrib/common/logger"
	"github.com/lyzr/toolcrib/common/metrics"
	"github.com/lyzr/toolcrib/common/models"
	"github.com/lyzr/toolcrib/common/notify"
	"github.com/lyzr/toolcrib/common/policy"
	"github.com/lyzr/toolcrib/common/store"
)

// Monitor operation kinds recorded by the coordinator
const (
	OpReservationCreate   = "reservation_create"
	OpReservationApprove  = "reservation_approve"
	OpReservationExtend   = "reservation_extend"
	OpReservationCancel   = "reservation_cancel"
	OpReservationComplete = "reservation_complete"
	OpReservationExpire   = "reservation_expire"
)

const (
	// DefaultReminderLead is how long before Until the reminder fires
	DefaultReminderLead = 30 * time.Minute

	// DefaultAutoExtendStep is how far an auto-extending reservation grows
	DefaultAutoExtendStep = time.Hour

	// MaxAvailabilityRange bounds a single availability query
	MaxAvailabilityRange = 90 * 24 * time.Hour

	// policyApprover is recorded as ApprovedBy for policy approvals
	policyApprover = "auto-approval-policy"
)

// ReservationOptions tunes timer offsets. Zero values fall back to defaults.
type ReservationOptions struct {
	ReminderLead   time.Duration
	AutoExtendStep time.Duration
}

// CreateReservationRequest is the input of Create
type CreateReservationRequest struct {
	AssetID       string    `json:"assetId"`
	HolderID      string    `json:"holderId"`
	HolderName    string    `json:"holderName,omitempty"`
	From          time.Time `json:"from"`
	Until         time.Time `json:"until"`
	Priority      int       `json:"priority"`
	AutoExtend    bool      `json:"autoExtend"`
	PreAuthorized bool      `json:"preAuthorized"`
}

// Slot is one hour of an availability calendar
type Slot struct {
	From          time.Time `json:"from"`
	Until         time.Time `json:"until"`
	Available     bool      `json:"available"`
	ReservationID string    `json:"reservationId,omitempty"`
	HolderID      string    `json:"holderId,omitempty"`
	HolderName    string    `json:"holderName,omitempty"`
}

// ReservationCoordinator schedules exclusive-use windows per asset,
// rejects overlaps and drives reminder, activation and expiry timers
type ReservationCoordinator struct {
	store     store.ReservationStore
	assets    *AssetStateMachine
	locker    *KeyedLocker
	policy    *policy.ApprovalPolicy
	scheduler clock.Scheduler
	clock     clock.Clock
	notifier  notify.Notifier
	monitor   *metrics.PerformanceMonitor
	cache     cache.Cache
	opts      ReservationOptions
	log       *logger.Logger

	mu     sync.Mutex
	gen    uint64
	timers map[string]*timerSet
}

// timerSet holds the live callbacks of one reservation. gen identifies
// the arming so a callback racing a re-arm can tell it is stale.
type timerSet struct {
	gen     uint64
	cancels []clock.CancelFunc
}

// NewReservationCoordinator creates the coordinator. pol and c may be nil.
func NewReservationCoordinator(
	st store.ReservationStore,
	assets *AssetStateMachine,
	locker *KeyedLocker,
	pol *policy.ApprovalPolicy,
	scheduler clock.Scheduler,
	clk clock.Clock,
	notifier notify.Notifier,
	monitor *metrics.PerformanceMonitor,
	c cache.Cache,
	opts ReservationOptions,
	log *logger.Logger,
) *ReservationCoordinator {
	if opts.ReminderLead <= 0 {
		opts.ReminderLead = DefaultReminderLead
	}
	if opts.AutoExtendStep <= 0 {
		opts.AutoExtendStep = DefaultAutoExtendStep
	}
	return &ReservationCoordinator{
		store:     st,
		assets:    assets,
		locker:    locker,
		policy:    pol,
		scheduler: scheduler,
		clock:     clk,
		notifier:  notifier,
		monitor:   monitor,
		cache:     c,
		opts:      opts,
		log:       log,
		timers:    make(map[string]*timerSet),
	}
}

// Create books a window on an asset. The reservation is pending unless the
// approval policy accepts it, in which case it is approved immediately.
func (c *ReservationCoordinator) Create(ctx context.Context, req CreateReservationRequest) (*models.Reservation, error) {
	var out *models.Reservation
	err := c.monitor.Track(OpReservationCreate, func() error {
		var err error
		out, err = c.create(ctx, req)
		return err
	})
	return out, err
}

func (c *ReservationCoordinator) create(ctx context.Context, req CreateReservationRequest) (*models.Reservation, error) {
	if req.AssetID == "" || req.HolderID == "" {
		return nil, models.Invalid("asset id and holder id are required")
	}
	if !req.From.Before(req.Until) {
		return nil, models.Invalid("reservation window must start before it ends")
	}
	if _, err := c.assets.Asset(ctx, req.AssetID); err != nil {
		return nil, err
	}

	unlock, err := c.lockAsset(ctx, req.AssetID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := c.checkConflicts(ctx, req.AssetID, "", req.From, req.Until); err != nil {
		return nil, err
	}

	now := c.clock.Now()
	r := &models.Reservation{
		ID:         uuid.NewString(),
		AssetID:    req.AssetID,
		HolderID:   req.HolderID,
		HolderName: req.HolderName,
		From:       req.From.UTC(),
		Until:      req.Until.UTC(),
		Priority:   req.Priority,
		Status:     models.ReservationPending,
		AutoExtend: req.AutoExtend,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if c.approves(req) {
		r.Status = models.ReservationApproved
		r.ApprovedBy = models.StringPtr(policyApprover)
	}

	if err := c.store.InsertReservation(ctx, r); err != nil {
		return nil, storeError(err, "reservation "+r.ID)
	}

	c.arm(r)
	invalidateDashboard(ctx, c.cache, c.log)

	c.log.WithReservationID(r.ID).Info("reservation created",
		"asset_id", r.AssetID,
		"holder_id", r.HolderID,
		"status", r.Status,
		"from", r.From,
		"until", r.Until)

	return r, nil
}

// Get returns a reservation by id
func (c *ReservationCoordinator) Get(ctx context.Context, id string) (*models.Reservation, error) {
	if id == "" {
		return nil, models.Invalid("reservation id is required")
	}
	r, err := c.store.GetReservation(ctx, id)
	if err != nil {
		return nil, storeError(err, "reservation "+id)
	}
	return r, nil
}

// List returns an asset's reservations filtered by status (all when empty)
func (c *ReservationCoordinator) List(ctx context.Context, assetID string, statuses ...models.ReservationStatus) ([]*models.Reservation, error) {
	if _, err := c.assets.Asset(ctx, assetID); err != nil {
		return nil, err
	}
	rs, err := c.store.ListReservations(ctx, assetID, statuses...)
	if err != nil {
		return nil, storeError(err, "reservations of asset "+assetID)
	}
	return rs, nil
}

// Approve moves a pending reservation to approved after re-checking for
// overlaps that appeared since it was submitted
func (c *ReservationCoordinator) Approve(ctx context.Context, id, approverID string) (*models.Reservation, error) {
	var out *models.Reservation
	err := c.monitor.Track(OpReservationApprove, func() error {
		if approverID == "" {
			return models.Invalid("approver id is required")
		}
		r, unlock, err := c.lockReservation(ctx, id)
		if err != nil {
			return err
		}
		defer unlock()

		if r.Status != models.ReservationPending {
			return models.Conflict("reservation %s is %s, not pending", id, r.Status)
		}
		if err := c.checkConflicts(ctx, r.AssetID, r.ID, r.From, r.Until); err != nil {
			return err
		}

		next := r.Clone()
		next.Status = models.ReservationApproved
		next.ApprovedBy = models.StringPtr(approverID)
		next.UpdatedAt = c.clock.Now()
		if err := c.update(ctx, next, r.Status); err != nil {
			return err
		}

		c.arm(next)
		out = next
		return nil
	})
	return out, err
}

// Extend moves a reservation's end to newUntil. The new window is checked
// against every other blocking reservation and the timers are replaced.
func (c *ReservationCoordinator) Extend(ctx context.Context, id string, newUntil time.Time) (*models.Reservation, error) {
	var out *models.Reservation
	err := c.monitor.Track(OpReservationExtend, func() error {
		r, unlock, err := c.lockReservation(ctx, id)
		if err != nil {
			return err
		}
		defer unlock()

		out, err = c.extendLocked(ctx, r, newUntil.UTC())
		return err
	})
	return out, err
}

func (c *ReservationCoordinator) extendLocked(ctx context.Context, r *models.Reservation, newUntil time.Time) (*models.Reservation, error) {
	if r.Status.IsTerminal() {
		return nil, models.Conflict("reservation %s is %s", r.ID, r.Status)
	}
	if !r.From.Before(newUntil) {
		return nil, models.Invalid("reservation window must start before it ends")
	}
	if err := c.checkConflicts(ctx, r.AssetID, r.ID, r.From, newUntil); err != nil {
		return nil, err
	}

	next := r.Clone()
	next.Until = newUntil
	next.UpdatedAt = c.clock.Now()
	if err := c.update(ctx, next, r.Status); err != nil {
		return nil, err
	}

	c.arm(next)
	c.log.WithReservationID(r.ID).Info("reservation extended", "until", newUntil)
	return next, nil
}

// Cancel ends a reservation that has not completed
func (c *ReservationCoordinator) Cancel(ctx context.Context, id string) (*models.Reservation, error) {
	var out *models.Reservation
	err := c.monitor.Track(OpReservationCancel, func() error {
		var err error
		out, err = c.finish(ctx, id, models.ReservationCancelled, models.OpenStatuses)
		return err
	})
	return out, err
}

// Complete marks an approved or active reservation as fulfilled
func (c *ReservationCoordinator) Complete(ctx context.Context, id string) (*models.Reservation, error) {
	var out *models.Reservation
	err := c.monitor.Track(OpReservationComplete, func() error {
		var err error
		out, err = c.finish(ctx, id, models.ReservationCompleted, models.BlockingStatuses)
		return err
	})
	return out, err
}

// Expire ends a reservation whose window ran out
func (c *ReservationCoordinator) Expire(ctx context.Context, id string) (*models.Reservation, error) {
	var out *models.Reservation
	err := c.monitor.Track(OpReservationExpire, func() error {
		var err error
		out, err = c.finish(ctx, id, models.ReservationExpired, models.OpenStatuses)
		return err
	})
	return out, err
}

// finish performs a terminal transition. Timers are cancelled on every
// path that observes the reservation as terminal.
func (c *ReservationCoordinator) finish(ctx context.Context, id string, to models.ReservationStatus, from []models.ReservationStatus) (*models.Reservation, error) {
	r, unlock, err := c.lockReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return c.finishLocked(ctx, r, to, from)
}

func (c *ReservationCoordinator) finishLocked(ctx context.Context, r *models.Reservation, to models.ReservationStatus, from []models.ReservationStatus) (*models.Reservation, error) {
	if r.Status.IsTerminal() {
		c.disarm(r.ID)
		return nil, models.Conflict("reservation %s is already %s", r.ID, r.Status)
	}
	allowed := false
	for _, st := range from {
		if r.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, models.Conflict("reservation %s is %s and cannot become %s", r.ID, r.Status, to)
	}

	next := r.Clone()
	next.Status = to
	next.UpdatedAt = c.clock.Now()
	if err := c.update(ctx, next, r.Status); err != nil {
		return nil, err
	}

	c.disarm(r.ID)
	c.log.WithReservationID(r.ID).Info("reservation finished", "status", to)
	return next, nil
}

// Resume re-arms timers for every open reservation, e.g. after a restart.
// Reservations already past their end expire immediately and approved
// ones whose window has begun are activated.
func (c *ReservationCoordinator) Resume(ctx context.Context) (int, error) {
	open, err := c.store.ListOpenReservations(ctx)
	if err != nil {
		return 0, storeError(err, "open reservations")
	}

	now := c.clock.Now()
	armed := 0
	for _, r := range open {
		switch {
		case !now.Before(r.Until):
			if _, err := c.Expire(ctx, r.ID); err != nil {
				c.log.Warn("failed to expire overdue reservation", "reservation_id", r.ID, "error", err)
				continue
			}
			c.notifyExpired(ctx, r, "expired while the coordinator was offline")
		case r.Status == models.ReservationApproved && r.Contains(now):
			c.activate(ctx, r.ID)
			if fresh, err := c.Get(ctx, r.ID); err == nil {
				c.arm(fresh)
			}
			armed++
		default:
			c.arm(r)
			armed++
		}
	}

	c.log.Info("reservation timers resumed", "open", len(open), "armed", armed)
	return armed, nil
}

// Availability lays hourly slots over [from, to). Reservations are read
// once; slots are produced lazily as the caller ranges.
func (c *ReservationCoordinator) Availability(ctx context.Context, assetID string, from, to time.Time) (iter.Seq[Slot], error) {
	if !from.Before(to) {
		return nil, models.Invalid("availability range must start before it ends")
	}
	if to.Sub(from) > MaxAvailabilityRange {
		return nil, models.Invalid("availability range exceeds %s", MaxAvailabilityRange)
	}
	if _, err := c.assets.Asset(ctx, assetID); err != nil {
		return nil, err
	}
	blocking, err := c.store.ListReservations(ctx, assetID, models.BlockingStatuses...)
	if err != nil {
		return nil, storeError(err, "reservations of asset "+assetID)
	}

	from, to = from.UTC(), to.UTC()
	return func(yield func(Slot) bool) {
		for start := from; start.Before(to); start = start.Add(time.Hour) {
			end := start.Add(time.Hour)
			if end.After(to) {
				end = to
			}
			slot := Slot{From: start, Until: end, Available: true}
			for _, r := range blocking {
				if r.Overlaps(start, end) {
					slot.Available = false
					slot.ReservationID = r.ID
					slot.HolderID = r.HolderID
					slot.HolderName = r.HolderName
					if slot.HolderName == "" {
						slot.HolderName = r.HolderID
					}
					break
				}
			}
			if !yield(slot) {
				return
			}
		}
	}, nil
}

// PendingTimers reports how many reservations have live timers
func (c *ReservationCoordinator) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// checkConflicts rejects [from, until) if it overlaps any approved or
// active reservation of the asset other than excludeID
func (c *ReservationCoordinator) checkConflicts(ctx context.Context, assetID, excludeID string, from, until time.Time) error {
	blocking, err := c.store.ListReservations(ctx, assetID, models.BlockingStatuses...)
	if err != nil {
		return storeError(err, "reservations of asset "+assetID)
	}
	for _, r := range blocking {
		if r.ID == excludeID {
			continue
		}
		if r.Overlaps(from, until) {
			return models.Conflict("window overlaps reservation %s held by %s from %s until %s",
				r.ID, r.HolderID, r.From.Format(time.RFC3339), r.Until.Format(time.RFC3339))
		}
	}
	return nil
}

func (c *ReservationCoordinator) approves(req CreateReservationRequest) bool {
	if c.policy == nil {
		return req.PreAuthorized
	}
	ok, err := c.policy.Approve(policy.Request{
		AssetID:         req.AssetID,
		HolderID:        req.HolderID,
		Priority:        req.Priority,
		DurationMinutes: int64(req.Until.Sub(req.From) / time.Minute),
		AutoExtend:      req.AutoExtend,
		PreAuthorized:   req.PreAuthorized,
	})
	if err != nil {
		c.log.Warn("approval policy evaluation failed, leaving reservation pending", "error", err)
		return false
	}
	return ok
}

func (c *ReservationCoordinator) update(ctx context.Context, next *models.Reservation, expected models.ReservationStatus) error {
	ok, err := c.store.UpdateReservation(ctx, next, expected)
	if err != nil {
		return storeError(err, "reservation "+next.ID)
	}
	if !ok {
		return models.Conflict("reservation %s changed concurrently", next.ID)
	}
	invalidateDashboard(ctx, c.cache, c.log)
	return nil
}

// lockReservation locks the reservation's asset and returns a fresh read
// taken under the lock
func (c *ReservationCoordinator) lockReservation(ctx context.Context, id string) (*models.Reservation, func(), error) {
	r, err := c.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	unlock, err := c.lockAsset(ctx, r.AssetID)
	if err != nil {
		return nil, nil, err
	}
	r, err = c.Get(ctx, id)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return r, unlock, nil
}

func (c *ReservationCoordinator) lockAsset(ctx context.Context, assetID string) (func(), error) {
	unlock, err := c.locker.Lock(ctx, "reservation:"+assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock reservations of asset %s: %w", assetID, err)
	}
	return unlock, nil
}

// arm replaces every timer of r with a fresh set derived from its window
func (c *ReservationCoordinator) arm(r *models.Reservation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelLocked(r.ID)
	c.gen++
	ts := &timerSet{gen: c.gen}

	now := c.clock.Now()
	id, gen := r.ID, ts.gen

	if remindAt := r.Until.Add(-c.opts.ReminderLead); remindAt.After(now) {
		ts.cancels = append(ts.cancels, c.scheduler.Schedule(remindAt.Sub(now), func() {
			c.fire(id, gen, c.remind)
		}))
	}
	if r.Status == models.ReservationApproved && now.Before(r.Until) {
		ts.cancels = append(ts.cancels, c.scheduler.Schedule(r.From.Sub(now), func() {
			c.fire(id, gen, c.activate)
		}))
	}
	ts.cancels = append(ts.cancels, c.scheduler.Schedule(r.Until.Sub(now), func() {
		c.fire(id, gen, c.onExpiry)
	}))

	c.timers[id] = ts
}

func (c *ReservationCoordinator) disarm(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked(id)
}

func (c *ReservationCoordinator) cancelLocked(id string) {
	ts, ok := c.timers[id]
	if !ok {
		return
	}
	for _, cancel := range ts.cancels {
		cancel()
	}
	delete(c.timers, id)
}

// fire runs fn only if the timer set that scheduled it is still current
func (c *ReservationCoordinator) fire(id string, gen uint64, fn func(context.Context, string)) {
	c.mu.Lock()
	ts, ok := c.timers[id]
	live := ok && ts.gen == gen
	c.mu.Unlock()
	if !live {
		return
	}
	fn(context.Background(), id)
}

func (c *ReservationCoordinator) remind(ctx context.Context, id string) {
	r, err := c.Get(ctx, id)
	if err != nil {
		c.log.Warn("reminder skipped", "reservation_id", id, "error", err)
		return
	}
	if r.Status.IsTerminal() {
		return
	}
	c.notifier.Notify(ctx, notify.ReservationReminder, map[string]any{
		"reservationId": r.ID,
		"assetId":       r.AssetID,
		"holderId":      r.HolderID,
		"until":         r.Until,
	})
}

// activate turns an approved reservation active once its window opens and
// flags it if the asset is still out with someone else
func (c *ReservationCoordinator) activate(ctx context.Context, id string) {
	log := c.log.WithReservationID(id)
	r, unlock, err := c.lockReservation(ctx, id)
	if err != nil {
		log.Warn("activation skipped", "error", err)
		return
	}
	defer unlock()
	if r.Status != models.ReservationApproved || !r.Contains(c.clock.Now()) {
		return
	}

	next := r.Clone()
	next.Status = models.ReservationActive
	next.UpdatedAt = c.clock.Now()
	if err := c.update(ctx, next, r.Status); err != nil {
		log.Warn("activation failed", "error", err)
		return
	}
	log.Info("reservation active", "asset_id", r.AssetID)

	asset, err := c.assets.Asset(ctx, r.AssetID)
	if err != nil {
		log.Warn("could not read asset at activation", "error", err)
		return
	}
	if asset.Status == models.AssetAvailable || asset.Holder() == r.HolderID {
		return
	}
	c.notifier.Notify(ctx, notify.ReservationBlocked, map[string]any{
		"reservationId":    r.ID,
		"assetId":          r.AssetID,
		"holderId":         r.HolderID,
		"assetStatus":      asset.Status,
		"blockingHolderId": asset.Holder(),
	})
}

// onExpiry ends the reservation, or grows it by one step when it
// auto-extends and the next step is free
func (c *ReservationCoordinator) onExpiry(ctx context.Context, id string) {
	log := c.log.WithReservationID(id)
	r, unlock, err := c.lockReservation(ctx, id)
	if err != nil {
		log.Warn("expiry skipped", "error", err)
		return
	}
	defer unlock()
	if r.Status.IsTerminal() {
		c.disarm(id)
		return
	}

	reason := "window ended"
	if r.AutoExtend && r.Status.Blocking() {
		extended, err := c.extendLocked(ctx, r, r.Until.Add(c.opts.AutoExtendStep))
		if err == nil {
			c.notifier.Notify(ctx, notify.ReservationAutoExtended, map[string]any{
				"reservationId": r.ID,
				"assetId":       r.AssetID,
				"holderId":      r.HolderID,
				"until":         extended.Until,
			})
			return
		}
		log.Info("auto-extend rejected, expiring", "error", err)
		reason = "auto-extend rejected: " + models.ReasonOf(err)
	}

	tok := c.monitor.Start(OpReservationExpire)
	if _, err := c.finishLocked(ctx, r, models.ReservationExpired, models.OpenStatuses); err != nil {
		c.monitor.End(tok, false, string(models.KindOf(err)))
		log.Warn("expiry failed", "error", err)
		return
	}
	c.monitor.End(tok, true, "")
	c.notifyExpired(ctx, r, reason)
}

func (c *ReservationCoordinator) notifyExpired(ctx context.Context, r *models.Reservation, reason string) {
	c.notifier.Notify(ctx, notify.ReservationExpired, map[string]any{
		"reservationId": r.ID,
		"assetId":       r.AssetID,
		"holderId":      r.HolderID,
		"until":         r.Until,
		"reason":        reason,
	})
}
