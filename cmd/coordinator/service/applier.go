package service

import (
	"context"
	"fmt"

	"github.com/lyzr/toolcrib/common/models"
	"github.com/lyzr/toolcrib/common/store"
)

// LockedApplier applies queued asset operations under the asset's lock,
// the same one checkout and checkin hold, so a replayed write never
// lands between a state machine read and its write.
type LockedApplier struct {
	next   store.Applier
	locker *KeyedLocker
}

// NewLockedApplier wraps next
func NewLockedApplier(next store.Applier, locker *KeyedLocker) *LockedApplier {
	return &LockedApplier{next: next, locker: locker}
}

// Apply implements store.Applier
func (a *LockedApplier) Apply(ctx context.Context, op models.Operation) error {
	if op.Target != models.TargetAssets {
		return a.next.Apply(ctx, op)
	}
	id, err := op.RecordID()
	if err != nil {
		return a.next.Apply(ctx, op)
	}

	unlock, err := a.locker.Lock(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to lock asset %s: %w", id, err)
	}
	defer unlock()

	return a.next.Apply(ctx, op)
}
