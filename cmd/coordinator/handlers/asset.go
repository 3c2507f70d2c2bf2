package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/toolcrib/cmd/coordinator/container"
	"github.com/lyzr/toolcrib/cmd/coordinator/middleware"
	"github.com/lyzr/toolcrib/cmd/coordinator/service"
	"github.com/lyzr/toolcrib/common/clock"
	"github.com/lyzr/toolcrib/common/logger"
	"github.com/lyzr/toolcrib/common/models"
	"github.com/lyzr/toolcrib/common/queue"
	"github.com/lyzr/toolcrib/common/validation"
)

// AssetHandler handles asset registration, lifecycle events and dashboards
type AssetHandler struct {
	assets    *service.AssetStateMachine
	dashboard *service.DashboardService
	queue     *queue.OfflineSyncQueue
	validator *validation.PatchValidator
	clock     clock.Clock
	log       *logger.Logger
}

// NewAssetHandler creates a new asset handler
func NewAssetHandler(c *container.Container) *AssetHandler {
	return &AssetHandler{
		assets:    c.Assets,
		dashboard: c.Dashboard,
		queue:     c.Queue,
		validator: validation.NewPatchValidator(),
		clock:     c.Clock,
		log:       c.Components.Logger,
	}
}

// RegisterAsset registers a new asset as available
// POST /api/v1/assets
func (h *AssetHandler) RegisterAsset(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.ID == "" {
		return badRequest(c, "id is required")
	}

	// An unreachable store falls through so the registration is queued
	if _, err := h.assets.Asset(ctx, req.ID); err == nil {
		return respondError(c, models.Conflict("asset %s is already registered", req.ID))
	} else if k := models.KindOf(err); k != models.KindNotFound && k != models.KindPersistence {
		return respondError(c, err)
	}

	asset := &models.Asset{
		ID:        req.ID,
		Name:      req.Name,
		Status:    models.AssetAvailable,
		UpdatedAt: h.clock.Now(),
	}

	return h.submit(c, models.OpCreate, asset, http.StatusCreated)
}

// UpdateAsset applies a JSON merge patch to an asset's name or status
// PATCH /api/v1/assets/:id
func (h *AssetHandler) UpdateAsset(c echo.Context) error {
	id := c.Param("id")

	var patch map[string]interface{}
	if err := json.NewDecoder(c.Request().Body).Decode(&patch); err != nil {
		return badRequest(c, "body must be a JSON merge patch object")
	}
	if err := h.validator.ValidateAssetPatch(patch); err != nil {
		return respondError(c, err)
	}

	patch["id"] = id
	patch["updatedAt"] = h.clock.Now()

	return h.submit(c, models.OpUpdate, patch, http.StatusOK)
}

// DeleteAsset removes an asset that has never moved
// DELETE /api/v1/assets/:id
func (h *AssetHandler) DeleteAsset(c echo.Context) error {
	return h.submit(c, models.OpDelete, map[string]string{"id": c.Param("id")}, http.StatusOK)
}

func (h *AssetHandler) submit(c echo.Context, kind models.OperationKind, payload any, appliedStatus int) error {
	ctx := c.Request().Context()

	op, queued, err := h.queue.Submit(ctx, kind, models.TargetAssets, payload)
	if err != nil {
		h.log.Warn("asset operation rejected", "kind", kind, "error", err)
		return respondError(c, err)
	}

	if queued {
		return c.JSON(http.StatusAccepted, map[string]interface{}{
			"operation": op,
			"queued":    true,
		})
	}

	h.dashboard.Invalidate(ctx)

	response := map[string]interface{}{
		"operation": op,
		"queued":    false,
	}
	if kind != models.OpDelete {
		id, _ := op.RecordID()
		if asset, err := h.assets.Asset(ctx, id); err == nil {
			response["asset"] = asset
		}
	}
	return c.JSON(appliedStatus, response)
}

// GetAsset returns one asset
// GET /api/v1/assets/:id
func (h *AssetHandler) GetAsset(c echo.Context) error {
	asset, err := h.assets.Asset(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, asset)
}

// StatusPanel lists every asset with its holder and time held
// GET /api/v1/assets
func (h *AssetHandler) StatusPanel(c echo.Context) error {
	panel, err := h.dashboard.StatusPanel(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, panel)
}

// Summary returns counts by asset and reservation status
// GET /api/v1/assets/summary
func (h *AssetHandler) Summary(c echo.Context) error {
	sum, err := h.dashboard.Summary(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, sum)
}

// ListMovements returns the movement history of an asset, oldest first
// GET /api/v1/assets/:id/movements
func (h *AssetHandler) ListMovements(c echo.Context) error {
	id := c.Param("id")

	movements, err := h.assets.History(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"asset_id":  id,
		"movements": movements,
		"count":     len(movements),
	})
}

// CurrentMovement returns the latest movement of an asset
// GET /api/v1/assets/:id/movements/current
func (h *AssetHandler) CurrentMovement(c echo.Context) error {
	m, err := h.assets.CurrentMovement(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, m)
}

// Checkout hands the asset to the caller
// POST /api/v1/assets/:id/checkout
func (h *AssetHandler) Checkout(c echo.Context) error {
	actor, err := middleware.RequireActor(c)
	if err != nil {
		return err
	}

	t, err := h.assets.Checkout(c.Request().Context(), c.Param("id"), actor)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

// Checkin returns the asset. A condition note sends it to maintenance.
// POST /api/v1/assets/:id/checkin
func (h *AssetHandler) Checkin(c echo.Context) error {
	actor, err := middleware.RequireActor(c)
	if err != nil {
		return err
	}

	var req struct {
		ConditionNote string `json:"conditionNote"`
	}
	// Body is optional; Bind skips an empty one
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	t, err := h.assets.Checkin(c.Request().Context(), c.Param("id"), actor, req.ConditionNote)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

// Scan toggles the asset based on its current status, as an RFID or QR
// read does
// POST /api/v1/assets/:id/scan
func (h *AssetHandler) Scan(c echo.Context) error {
	actor, err := middleware.RequireActor(c)
	if err != nil {
		return err
	}

	t, err := h.assets.AutoDetect(c.Request().Context(), c.Param("id"), actor)
	if err != nil {
		var domainErr *models.Error
		if errors.As(err, &domainErr) {
			h.log.Info("scan rejected", "asset_id", c.Param("id"), "actor", actor, "reason", domainErr.Reason)
		}
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}
