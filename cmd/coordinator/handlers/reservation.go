package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/toolcrib/cmd/coordinator/container"
	"github.com/lyzr/toolcrib/cmd/coordinator/middleware"
	"github.com/lyzr/toolcrib/cmd/coordinator/service"
	"github.com/lyzr/toolcrib/common/logger"
	"github.com/lyzr/toolcrib/common/models"
)

// ReservationHandler handles reservation booking and lifecycle requests
type ReservationHandler struct {
	coordinator *service.ReservationCoordinator
	log         *logger.Logger
}

// NewReservationHandler creates a new reservation handler
func NewReservationHandler(c *container.Container) *ReservationHandler {
	return &ReservationHandler{
		coordinator: c.Reservations,
		log:         c.Components.Logger,
	}
}

// CreateReservation books a window on an asset for the caller
// POST /api/v1/reservations
func (h *ReservationHandler) CreateReservation(c echo.Context) error {
	actor, err := middleware.RequireActor(c)
	if err != nil {
		return err
	}

	var req service.CreateReservationRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.HolderID == "" {
		req.HolderID = actor
	}

	h.log.Info("creating reservation",
		"asset_id", req.AssetID,
		"holder_id", req.HolderID,
		"actor", actor,
		"from", req.From,
		"until", req.Until)

	r, err := h.coordinator.Create(c.Request().Context(), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, r)
}

// GetReservation returns one reservation
// GET /api/v1/reservations/:id
func (h *ReservationHandler) GetReservation(c echo.Context) error {
	r, err := h.coordinator.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

// ListReservations lists reservations of one asset
// GET /api/v1/reservations?asset_id=drill-7&status=pending,approved
func (h *ReservationHandler) ListReservations(c echo.Context) error {
	assetID := c.QueryParam("asset_id")
	if assetID == "" {
		return badRequest(c, "asset_id is required")
	}

	var statuses []models.ReservationStatus
	if raw := c.QueryParam("status"); raw != "" {
		for _, v := range strings.Split(raw, ",") {
			s, err := models.ParseReservationStatus(strings.TrimSpace(v))
			if err != nil {
				return badRequest(c, err.Error())
			}
			statuses = append(statuses, s)
		}
	}

	list, err := h.coordinator.List(c.Request().Context(), assetID, statuses...)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"asset_id":     assetID,
		"reservations": list,
		"count":        len(list),
	})
}

// ApproveReservation approves a pending reservation as the caller
// POST /api/v1/reservations/:id/approve
func (h *ReservationHandler) ApproveReservation(c echo.Context) error {
	actor, err := middleware.RequireActor(c)
	if err != nil {
		return err
	}

	r, err := h.coordinator.Approve(c.Request().Context(), c.Param("id"), actor)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

// ExtendReservation moves the end of a reservation window
// POST /api/v1/reservations/:id/extend
func (h *ReservationHandler) ExtendReservation(c echo.Context) error {
	var req struct {
		Until time.Time `json:"until"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Until.IsZero() {
		return badRequest(c, "until is required")
	}

	r, err := h.coordinator.Extend(c.Request().Context(), c.Param("id"), req.Until)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

// CancelReservation cancels an open reservation
// POST /api/v1/reservations/:id/cancel
func (h *ReservationHandler) CancelReservation(c echo.Context) error {
	r, err := h.coordinator.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

// CompleteReservation closes an approved or active reservation
// POST /api/v1/reservations/:id/complete
func (h *ReservationHandler) CompleteReservation(c echo.Context) error {
	r, err := h.coordinator.Complete(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

// Availability returns the hourly calendar of an asset
// GET /api/v1/reservations/availability/:asset_id?from=...&to=...
func (h *ReservationHandler) Availability(c echo.Context) error {
	assetID := c.Param("asset_id")

	from, err := parseTime("from", c.QueryParam("from"))
	if err != nil {
		return respondError(c, err)
	}
	to, err := parseTime("to", c.QueryParam("to"))
	if err != nil {
		return respondError(c, err)
	}

	slots, err := h.coordinator.Availability(c.Request().Context(), assetID, from, to)
	if err != nil {
		return respondError(c, err)
	}

	out := make([]service.Slot, 0)
	free := 0
	for s := range slots {
		if s.Available {
			free++
		}
		out = append(out, s)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"asset_id": assetID,
		"from":     from,
		"to":       to,
		"slots":    out,
		"free":     free,
	})
}
