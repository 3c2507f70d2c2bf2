package validation

import (
	"strings"
	"testing"

	"github.com/lyzr/toolcrib/common/models"
	"github.com/stretchr/testify/assert"
)

func TestValidateAssetPatch(t *testing.T) {
	v := NewPatchValidator()

	tests := []struct {
		name    string
		patch   map[string]interface{}
		wantErr string
	}{
		{"rename", map[string]interface{}{"name": "Impact driver"}, ""},
		{"back from maintenance", map[string]interface{}{"status": "available"}, ""},
		{"retire", map[string]interface{}{"status": "inactive", "name": "old"}, ""},
		{"empty", map[string]interface{}{}, "patch is empty"},
		{"holder", map[string]interface{}{"currentHolderId": "mallory"}, `"currentHolderId" cannot be patched`},
		{"id", map[string]interface{}{"id": "other"}, `"id" cannot be patched`},
		{"in use", map[string]interface{}{"status": "in-use"}, "use checkout"},
		{"unknown status", map[string]interface{}{"status": "lost"}, "unknown asset status"},
		{"null status", map[string]interface{}{"status": nil}, "must be a string"},
		{"numeric name", map[string]interface{}{"name": 7}, "must be a string"},
		{"long name", map[string]interface{}{"name": strings.Repeat("x", MaxNameLength+1)}, "longer than"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateAssetPatch(tt.patch)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, models.ErrInvalid)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
