package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/lyzr/toolcrib/common/metrics"
	"github.com/lyzr/toolcrib/common/models"
)

// CoordinatorClient talks to the coordinator API on behalf of scanners,
// kiosks and load tests. The acting user travels in the context.
type CoordinatorClient struct {
	baseURL string
	http    *HTTPClient
	logger  Logger
}

// Transition mirrors the body returned by checkout, checkin and scan
type Transition struct {
	Asset    *models.Asset      `json:"asset"`
	Movement *models.Movement   `json:"movement"`
	Previous models.AssetStatus `json:"previousStatus"`
}

// NewCoordinatorClient creates a new coordinator client. adminToken may be
// empty when maintenance routes are open.
func NewCoordinatorClient(baseURL, adminToken string, logger Logger) *CoordinatorClient {
	httpClient := &http.Client{
		Timeout: 30 * time.Second,
	}

	headers := map[string]string{}
	if adminToken != "" {
		headers["X-Admin-Token"] = adminToken
	}

	return &CoordinatorClient{
		baseURL: baseURL,
		http:    NewHTTPClient(httpClient, logger, headers),
		logger:  logger,
	}
}

// RegisterAsset registers a new asset. queued reports that the coordinator
// accepted it into its offline queue instead of applying it.
func (c *CoordinatorClient) RegisterAsset(ctx context.Context, id, name string) (queued bool, err error) {
	var out struct {
		Queued bool `json:"queued"`
	}
	err = c.do(ctx, http.MethodPost, "/api/v1/assets", map[string]string{"id": id, "name": name}, &out)
	return out.Queued, err
}

// GetAsset fetches one asset
func (c *CoordinatorClient) GetAsset(ctx context.Context, id string) (*models.Asset, error) {
	var a models.Asset
	if err := c.do(ctx, http.MethodGet, "/api/v1/assets/"+url.PathEscape(id), nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Checkout checks the asset out to the user in ctx
// Requires: ctx with UserID set via WithUserID()
func (c *CoordinatorClient) Checkout(ctx context.Context, assetID string) (*Transition, error) {
	return c.transition(ctx, assetID, "checkout", nil)
}

// Checkin returns the asset. A non-empty note sends it to maintenance.
// Requires: ctx with UserID set via WithUserID()
func (c *CoordinatorClient) Checkin(ctx context.Context, assetID, conditionNote string) (*Transition, error) {
	var body any
	if conditionNote != "" {
		body = map[string]string{"conditionNote": conditionNote}
	}
	return c.transition(ctx, assetID, "checkin", body)
}

// Scan reports an RFID or QR read of the asset
// Requires: ctx with UserID set via WithUserID()
func (c *CoordinatorClient) Scan(ctx context.Context, assetID string) (*Transition, error) {
	return c.transition(ctx, assetID, "scan", nil)
}

// PerformanceReport fetches the coordinator's latency report for kind
func (c *CoordinatorClient) PerformanceReport(ctx context.Context, kind string) (*metrics.Report, error) {
	var out struct {
		Report metrics.Report `json:"report"`
	}
	path := "/api/v1/metrics/performance?kind=" + url.QueryEscape(kind)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out.Report, nil
}

func (c *CoordinatorClient) transition(ctx context.Context, assetID, action string, body any) (*Transition, error) {
	if _, ok := GetUserID(ctx); !ok {
		return nil, models.Invalid("%s requires a user id in context", action)
	}

	var t Transition
	path := fmt.Sprintf("/api/v1/assets/%s/%s", url.PathEscape(assetID), action)
	if err := c.do(ctx, http.MethodPost, path, body, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// do sends one request and decodes a 2xx body into out. Error bodies come
// back as *models.Error so callers can match kinds with errors.Is.
func (c *CoordinatorClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	resp, err := c.http.DoRequest(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(resp.Body)

	var body struct {
		Error   string           `json:"error"`
		Message string           `json:"message"`
		Kind    models.ErrorKind `json:"kind"`
	}
	_ = json.Unmarshal(raw, &body)

	reason := body.Error
	if reason == "" {
		reason = body.Message // echo.HTTPError bodies
	}
	if reason == "" {
		reason = string(raw)
	}

	kind := body.Kind
	if kind == "" {
		kind = kindForStatus(resp.StatusCode)
	}
	return &models.Error{Kind: kind, Reason: fmt.Sprintf("status %d: %s", resp.StatusCode, reason)}
}

func kindForStatus(status int) models.ErrorKind {
	switch status {
	case http.StatusNotFound:
		return models.KindNotFound
	case http.StatusConflict:
		return models.KindConflict
	case http.StatusUnauthorized, http.StatusForbidden:
		return models.KindForbidden
	case http.StatusBadRequest:
		return models.KindInvalid
	default:
		return models.KindPersistence
	}
}
