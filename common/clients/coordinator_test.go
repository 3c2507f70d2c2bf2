package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lyzr/toolcrib/common/logger"
	"github.com/lyzr/toolcrib/common/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinatorClientSendsContextHeaders(t *testing.T) {
	var seen http.Header
	var note string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		if r.Body != nil {
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			note = body["conditionNote"]
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"asset":{"id":"drill-1","status":"maintenance","currentHolderId":null},"previousStatus":"in-use"}`))
	}))
	defer srv.Close()

	c := NewCoordinatorClient(srv.URL, "s3cret", logger.Discard())
	ctx := WithRequestID(WithUserID(context.Background(), "alice"), "req-42")

	tr, err := c.Checkin(ctx, "drill-1", "cracked housing")
	require.NoError(t, err)
	assert.Equal(t, models.AssetMaintenance, tr.Asset.Status)
	assert.Equal(t, models.AssetInUse, tr.Previous)

	assert.Equal(t, "alice", seen.Get("X-User-ID"))
	assert.Equal(t, "req-42", seen.Get("X-Request-ID"))
	assert.Equal(t, "s3cret", seen.Get("X-Admin-Token"))
	assert.Equal(t, "application/json", seen.Get("Content-Type"))
	assert.Equal(t, "cracked housing", note)
}

func TestCoordinatorClientRequiresUser(t *testing.T) {
	c := NewCoordinatorClient("http://127.0.0.1:0", "", logger.Discard())

	_, err := c.Checkout(context.Background(), "drill-1")
	assert.ErrorIs(t, err, models.ErrInvalid)
}

func TestCoordinatorClientDecodesErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"domain kind", http.StatusConflict, `{"error":"asset drill-1 is under maintenance","kind":"conflict"}`, models.ErrConflict},
		{"echo error", http.StatusUnauthorized, `{"message":"X-User-ID header is required"}`, models.ErrForbidden},
		{"plain text", http.StatusNotFound, `nope`, models.ErrNotFound},
		{"unavailable", http.StatusServiceUnavailable, `{"error":"store unavailable","kind":"persistence_error"}`, models.ErrPersistence},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewCoordinatorClient(srv.URL, "", logger.Discard())
			_, err := c.Scan(WithUserID(context.Background(), "bob"), "drill-1")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCoordinatorClientRegisterAndReport(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/assets", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"queued":true}`))
	})
	mux.HandleFunc("/api/v1/metrics/performance", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "checkout", r.URL.Query().Get("kind"))
		_, _ = w.Write([]byte(`{"report":{"kind":"checkout","count":3,"successRate":1,"meetsSla":true}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewCoordinatorClient(srv.URL, "", logger.Discard())

	queued, err := c.RegisterAsset(context.Background(), "drill-9", "Hammer drill")
	require.NoError(t, err)
	assert.True(t, queued)

	report, err := c.PerformanceReport(context.Background(), "checkout")
	require.NoError(t, err)
	assert.Equal(t, 3, report.Count)
	assert.True(t, report.MeetsSLA)
}
