package service

import (
	"errors"

	"github.com/lyzr/toolcrib/common/models"
	"github.com/lyzr/toolcrib/common/store"
)

// storeError maps a persistence failure for subject (e.g. "asset a-1")
// onto the domain error kinds. Domain errors pass through untouched.
func storeError(err error, subject string) error {
	if err == nil {
		return nil
	}
	var domain *models.Error
	if errors.As(err, &domain) {
		return err
	}
	if errors.Is(err, store.ErrNotFound) {
		return models.NotFound("%s not found", subject)
	}
	return models.Persistence(err, "storage call for %s failed", subject)
}
