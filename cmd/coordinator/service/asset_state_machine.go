package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lyzr/toolcrib/common/cache"
	"github.com/lyzr/toolcrib/common/clock"
	"github.com/lyzr/toolcrib/common/logger"
	"github.com/lyzr/toolcrib/common/metrics"
	"github.com/lyzr/toolcrib/common/models"
	"github.com/lyzr/toolcrib/common/notify"
	"github.com/lyzr/toolcrib/common/store"
)

// Monitor operation kinds recorded by the state machine
const (
	OpCheckout   = "checkout"
	OpCheckin    = "checkin"
	OpAutoDetect = "auto_detect"
)

// AssetLedger is the slice of the store the state machine writes through
type AssetLedger interface {
	store.AssetStore
	store.MovementStore
}

// Transition is the outcome of a successful checkout or checkin
type Transition struct {
	Asset    *models.Asset      `json:"asset"`
	Movement *models.Movement   `json:"movement"`
	Previous models.AssetStatus `json:"previousStatus"`
}

// AssetStateMachine moves assets between available, in-use and
// maintenance and records a Movement per transition
type AssetStateMachine struct {
	ledger   AssetLedger
	locker   *KeyedLocker
	cache    cache.Cache
	monitor  *metrics.PerformanceMonitor
	notifier notify.Notifier
	clock    clock.Clock
	log      *logger.Logger
}

// NewAssetStateMachine creates the state machine. cache may be nil.
func NewAssetStateMachine(
	ledger AssetLedger,
	locker *KeyedLocker,
	c cache.Cache,
	monitor *metrics.PerformanceMonitor,
	notifier notify.Notifier,
	clk clock.Clock,
	log *logger.Logger,
) *AssetStateMachine {
	return &AssetStateMachine{
		ledger:   ledger,
		locker:   locker,
		cache:    c,
		monitor:  monitor,
		notifier: notifier,
		clock:    clk,
		log:      log,
	}
}

// Checkout hands an available asset to holderID
func (m *AssetStateMachine) Checkout(ctx context.Context, assetID, holderID string) (*Transition, error) {
	var tr *Transition
	err := m.monitor.Track(OpCheckout, func() error {
		var err error
		tr, err = m.checkout(ctx, assetID, holderID)
		return err
	})
	return tr, err
}

// Checkin returns an in-use asset. Only the current holder may check it in.
// A non-empty condition note sends the asset to maintenance.
func (m *AssetStateMachine) Checkin(ctx context.Context, assetID, holderID, conditionNote string) (*Transition, error) {
	var tr *Transition
	err := m.monitor.Track(OpCheckin, func() error {
		var err error
		tr, err = m.checkin(ctx, assetID, holderID, conditionNote)
		return err
	})
	return tr, err
}

// AutoDetect resolves a scan to checkout or checkin from the asset's
// current state
func (m *AssetStateMachine) AutoDetect(ctx context.Context, assetID, actorID string) (*Transition, error) {
	var tr *Transition
	err := m.monitor.Track(OpAutoDetect, func() error {
		asset, err := m.Asset(ctx, assetID)
		if err != nil {
			return err
		}

		switch {
		case asset.Status == models.AssetAvailable:
			tr, err = m.checkout(ctx, assetID, actorID)
		case asset.Status == models.AssetInUse && asset.Holder() == actorID:
			tr, err = m.checkin(ctx, assetID, actorID, "")
		case asset.Status == models.AssetInUse:
			err = models.Conflict("asset %s is checked out by another holder", assetID)
		case asset.Status == models.AssetMaintenance:
			err = models.Conflict("asset %s is under maintenance", assetID)
		default:
			err = models.Conflict("asset %s is %s and cannot be scanned", assetID, asset.Status)
		}
		return err
	})
	return tr, err
}

// Asset returns the current asset record
func (m *AssetStateMachine) Asset(ctx context.Context, assetID string) (*models.Asset, error) {
	if assetID == "" {
		return nil, models.Invalid("asset id is required")
	}
	asset, err := m.ledger.GetAsset(ctx, assetID)
	if err != nil {
		return nil, storeError(err, "asset "+assetID)
	}
	return asset, nil
}

// History returns the asset's movements, oldest first
func (m *AssetStateMachine) History(ctx context.Context, assetID string) ([]*models.Movement, error) {
	if _, err := m.Asset(ctx, assetID); err != nil {
		return nil, err
	}
	movements, err := m.ledger.ListMovements(ctx, assetID)
	if err != nil {
		return nil, storeError(err, "movements of asset "+assetID)
	}
	return movements, nil
}

// CurrentMovement returns the latest movement (max timestamp, ties to the
// later insertion)
func (m *AssetStateMachine) CurrentMovement(ctx context.Context, assetID string) (*models.Movement, error) {
	movements, err := m.History(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if len(movements) == 0 {
		return nil, models.NotFound("asset %s has no movements", assetID)
	}
	return movements[len(movements)-1], nil
}

func (m *AssetStateMachine) checkout(ctx context.Context, assetID, holderID string) (*Transition, error) {
	if holderID == "" {
		return nil, models.Invalid("holder id is required")
	}

	unlock, err := m.locker.Lock(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock asset %s: %w", assetID, err)
	}
	defer unlock()

	asset, err := m.Asset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if asset.Status != models.AssetAvailable {
		return nil, models.Conflict("asset %s is %s", assetID, asset.Status)
	}

	next := models.AssetState{Status: models.AssetInUse, HolderID: models.StringPtr(holderID)}
	return m.transition(ctx, asset, next, holderID, models.ActionCheckout, "")
}

func (m *AssetStateMachine) checkin(ctx context.Context, assetID, holderID, note string) (*Transition, error) {
	if holderID == "" {
		return nil, models.Invalid("holder id is required")
	}

	unlock, err := m.locker.Lock(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock asset %s: %w", assetID, err)
	}
	defer unlock()

	asset, err := m.Asset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if asset.Status != models.AssetInUse {
		return nil, models.Conflict("asset %s is %s, not in-use", assetID, asset.Status)
	}
	if asset.Holder() != holderID {
		return nil, models.Forbidden("asset %s is held by another holder", assetID)
	}

	next := models.AssetState{Status: models.AssetAvailable}
	if note != "" {
		next.Status = models.AssetMaintenance
	}

	tr, err := m.transition(ctx, asset, next, holderID, models.ActionCheckin, note)
	if err != nil {
		return nil, err
	}

	if next.Status == models.AssetMaintenance {
		m.notifier.Notify(ctx, notify.MaintenanceRequired, map[string]any{
			"assetId":       assetID,
			"actorId":       holderID,
			"conditionNote": note,
			"movementId":    tr.Movement.ID,
		})
	}
	return tr, nil
}

// transition runs the two-step write: CAS the asset, then append the
// movement. A failed append reverts the CAS.
func (m *AssetStateMachine) transition(
	ctx context.Context,
	asset *models.Asset,
	next models.AssetState,
	actorID string,
	action models.MovementAction,
	note string,
) (*Transition, error) {
	log := m.log.WithAssetID(asset.ID)
	prev := asset.State()
	now := m.clock.Now()

	swapped, err := m.ledger.CompareAndSwapAsset(ctx, asset.ID, prev, next, now)
	if err != nil {
		return nil, storeError(err, "asset "+asset.ID)
	}
	if !swapped {
		return nil, models.Conflict("asset %s changed concurrently", asset.ID)
	}

	movement := &models.Movement{
		ID:            uuid.NewString(),
		AssetID:       asset.ID,
		ActorID:       actorID,
		Action:        action,
		Timestamp:     now,
		ConditionNote: note,
	}
	if err := m.ledger.InsertMovement(ctx, movement); err != nil {
		m.undo(ctx, log, asset, next)
		return nil, models.Persistence(err, "record %s movement for asset %s", action, asset.ID)
	}

	m.invalidate(ctx)

	updated := asset.Clone()
	updated.Status = next.Status
	updated.CurrentHolderID = next.HolderID
	updated.UpdatedAt = now

	log.Info("asset transitioned",
		"action", action,
		"actor_id", actorID,
		"from", prev.Status,
		"to", next.Status)

	return &Transition{Asset: updated, Movement: movement, Previous: prev.Status}, nil
}

func (m *AssetStateMachine) undo(ctx context.Context, log *logger.Logger, asset *models.Asset, applied models.AssetState) {
	// The caller's context may already be cancelled; the revert still has to run.
	ctx = context.WithoutCancel(ctx)
	reverted, err := m.ledger.CompareAndSwapAsset(ctx, asset.ID, applied, asset.State(), asset.UpdatedAt)
	switch {
	case err != nil:
		log.Error("failed to revert asset after movement write failure", "error", err)
	case !reverted:
		log.Error("asset changed before revert, leaving current state")
	default:
		log.Warn("reverted asset after movement write failure", "status", asset.Status)
	}
}

func (m *AssetStateMachine) invalidate(ctx context.Context) {
	invalidateDashboard(ctx, m.cache, m.log)
}
