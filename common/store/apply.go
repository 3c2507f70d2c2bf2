package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/lyzr/toolcrib/common/models"
	"github.com/lyzr/toolcrib/common/validation"
)

// maxSwapAttempts bounds how often an update re-reads an asset whose
// status or holder moved between the read and the conditional write
const maxSwapAttempts = 3

// RecordWriter is the write surface an Applier needs. Asset writes are
// conditional so a replayed operation cannot clobber a concurrent
// checkout or checkin.
type RecordWriter interface {
	GetAsset(ctx context.Context, id string) (*models.Asset, error)

	// InsertAssetIfAbsent reports false when an asset with the id exists
	InsertAssetIfAbsent(ctx context.Context, a *models.Asset) (bool, error)

	// ReplaceAsset writes a only if the stored status and holder still
	// equal expected
	ReplaceAsset(ctx context.Context, a *models.Asset, expected models.AssetState) (bool, error)

	DeleteAsset(ctx context.Context, id string) error
	CountMovements(ctx context.Context, assetID string) (int, error)
}

var patchValidator = validation.NewPatchValidator()

// CheckOperation validates op without touching the store. Only asset
// records may be written through the queue: movements are produced by
// checkout and checkin, and reservations change only through the
// reservation coordinator so overlap checks always run.
func CheckOperation(op models.Operation) error {
	if !op.Kind.Valid() {
		return models.Invalid("unknown operation kind %q", op.Kind)
	}

	switch op.Target {
	case models.TargetAssets:
	case models.TargetMovements:
		return models.Invalid("movements are recorded by checkout and checkin and cannot be written directly")
	case models.TargetReservations:
		return models.Invalid("reservations change only through the reservation API")
	default:
		return models.Invalid("unknown target table %q", op.Target)
	}

	if _, err := op.RecordID(); err != nil {
		return models.Invalid("%v", err)
	}

	switch op.Kind {
	case models.OpCreate:
		var a models.Asset
		if err := json.Unmarshal(op.Payload, &a); err != nil {
			return models.Invalid("decode asset: %v", err)
		}
		if a.Status == models.AssetInUse || a.CurrentHolderID != nil {
			return models.Invalid("asset %s must be registered without a holder; use checkout", a.ID)
		}
		if len(a.Name) > validation.MaxNameLength {
			return models.Invalid("asset name is longer than %d characters", validation.MaxNameLength)
		}
	case models.OpUpdate:
		patch, err := assetPatch(op)
		if err != nil {
			return err
		}
		if err := patchValidator.ValidateAssetPatch(patch); err != nil {
			return err
		}
	}
	return nil
}

// assetPatch decodes an update payload minus the identity and timestamp
// fields every update carries
func assetPatch(op models.Operation) (map[string]interface{}, error) {
	var patch map[string]interface{}
	if err := json.Unmarshal(op.Payload, &patch); err != nil {
		return nil, models.Invalid("update payload must be a JSON object: %v", err)
	}
	delete(patch, "id")
	delete(patch, "updatedAt")
	return patch, nil
}

// ApplyOperation checks op and applies it to w.
//
// Creates carry the full record; replaying one that already landed is a
// no-op. Updates carry a JSON merge patch (RFC 7396) whose fields hold
// absolute values, so applying one twice yields the same record. Deletes
// carry {"id": ...}.
func ApplyOperation(ctx context.Context, w RecordWriter, op models.Operation) error {
	if err := CheckOperation(op); err != nil {
		return err
	}

	id, _ := op.RecordID()
	switch op.Kind {
	case models.OpCreate:
		return createAsset(ctx, w, op)
	case models.OpUpdate:
		return updateAsset(ctx, w, id, op)
	default:
		return deleteAsset(ctx, w, id)
	}
}

func createAsset(ctx context.Context, w RecordWriter, op models.Operation) error {
	var a models.Asset
	if err := json.Unmarshal(op.Payload, &a); err != nil {
		return models.Invalid("decode asset: %v", err)
	}
	if a.Status == "" {
		a.Status = models.AssetAvailable
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = op.EnqueuedAt
	}
	if err := validateAsset(&a); err != nil {
		return err
	}

	inserted, err := w.InsertAssetIfAbsent(ctx, &a)
	if err != nil || inserted {
		return err
	}

	existing, err := w.GetAsset(ctx, a.ID)
	if err != nil {
		return err
	}
	if existing.Name == a.Name && existing.UpdatedAt.Equal(a.UpdatedAt) {
		// replay of a create that already landed
		return nil
	}
	return models.Conflict("asset %s is already registered", a.ID)
}

func updateAsset(ctx context.Context, w RecordWriter, id string, op models.Operation) error {
	patch, _ := assetPatch(op)
	_, patchesStatus := patch["status"]

	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		current, err := w.GetAsset(ctx, id)
		if err != nil {
			return err
		}
		if patchesStatus && current.Status == models.AssetInUse {
			return models.Conflict("asset %s is checked out to %s; check it in before changing its status", id, current.Holder())
		}

		var next models.Asset
		if err := MergeRecord(current, op.Payload, &next); err != nil {
			return err
		}
		if next.ID != id {
			return models.Invalid("update may not change asset id")
		}
		if next.UpdatedAt.Equal(current.UpdatedAt) {
			next.UpdatedAt = op.EnqueuedAt
		}
		if err := validateAsset(&next); err != nil {
			return err
		}

		swapped, err := w.ReplaceAsset(ctx, &next, current.State())
		if err != nil {
			return err
		}
		if swapped {
			return nil
		}
	}
	return models.Conflict("asset %s kept changing while the update was applied", id)
}

func deleteAsset(ctx context.Context, w RecordWriter, id string) error {
	current, err := w.GetAsset(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if current.Status == models.AssetInUse {
		return models.Conflict("asset %s is checked out to %s and cannot be deleted", id, current.Holder())
	}

	n, err := w.CountMovements(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return models.Conflict("asset %s is referenced by %d movements and cannot be deleted", id, n)
	}
	if err := w.DeleteAsset(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// MergeRecord applies a JSON merge patch to current and decodes into out
func MergeRecord(current any, patch []byte, out any) error {
	doc, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("encode current record: %w", err)
	}
	merged, err := jsonpatch.MergePatch(doc, patch)
	if err != nil {
		return models.Invalid("apply merge patch: %v", err)
	}
	if err := json.Unmarshal(merged, out); err != nil {
		return models.Invalid("decode patched record: %v", err)
	}
	return nil
}

func validateAsset(a *models.Asset) error {
	if !a.Status.Valid() {
		return models.Invalid("unknown asset status %q", a.Status)
	}
	if !a.Consistent() {
		return models.Invalid("asset %s: status %s is inconsistent with holder %q", a.ID, a.Status, a.Holder())
	}
	return nil
}
