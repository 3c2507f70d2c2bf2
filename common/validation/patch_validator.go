package validation

import (
	"fmt"

	"github.com/lyzr/toolcrib/common/models"
)

// MaxNameLength bounds asset display names
const MaxNameLength = 200

// PatchValidator validates JSON merge patches (RFC 7396) sent by operators
// against asset records
type PatchValidator struct {
	allowed map[string]func(value interface{}) error
}

// NewPatchValidator creates a validator for asset patches. Only the display
// name and the non-custodial statuses can be patched; holder changes go
// through checkout and checkin.
func NewPatchValidator() *PatchValidator {
	return &PatchValidator{
		allowed: map[string]func(interface{}) error{
			"name":   validateName,
			"status": validateStatus,
		},
	}
}

// ValidateAssetPatch checks every field of patch
func (v *PatchValidator) ValidateAssetPatch(patch map[string]interface{}) error {
	if len(patch) == 0 {
		return models.Invalid("patch is empty")
	}

	for field, value := range patch {
		check, ok := v.allowed[field]
		if !ok {
			return models.Invalid("field %q cannot be patched", field)
		}
		if err := check(value); err != nil {
			return models.Invalid("field %q: %v", field, err)
		}
	}
	return nil
}

func validateName(value interface{}) error {
	name, ok := value.(string)
	if !ok {
		return fmt.Errorf("must be a string, got %T", value)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("longer than %d characters", MaxNameLength)
	}
	return nil
}

func validateStatus(value interface{}) error {
	raw, ok := value.(string)
	if !ok {
		// null would delete the status, which the merge forbids
		return fmt.Errorf("must be a string, got %T", value)
	}

	status, err := models.ParseAssetStatus(raw)
	if err != nil {
		return err
	}
	if status == models.AssetInUse {
		return fmt.Errorf("use checkout to put an asset in use")
	}
	return nil
}
