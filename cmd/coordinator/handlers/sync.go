package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/toolcrib/cmd/coordinator/container"
	"github.com/lyzr/toolcrib/common/logger"
	"github.com/lyzr/toolcrib/common/models"
	"github.com/lyzr/toolcrib/common/queue"
)

// SyncHandler exposes the offline sync queue
type SyncHandler struct {
	queue   *queue.OfflineSyncQueue
	watcher *queue.ConnectivityWatcher
	log     *logger.Logger
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(c *container.Container) *SyncHandler {
	return &SyncHandler{
		queue:   c.Queue,
		watcher: c.Watcher,
		log:     c.Components.Logger,
	}
}

// SubmitOperation applies a raw operation, queueing it if the store is down
// POST /api/v1/sync/operations
func (h *SyncHandler) SubmitOperation(c echo.Context) error {
	var req struct {
		Kind    models.OperationKind `json:"kind"`
		Target  string               `json:"target"`
		Payload json.RawMessage      `json:"payload"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if len(req.Payload) == 0 {
		return badRequest(c, "payload is required")
	}

	op, queued, err := h.queue.Submit(c.Request().Context(), req.Kind, req.Target, req.Payload)
	if err != nil {
		return respondError(c, err)
	}

	status := http.StatusOK
	if queued {
		status = http.StatusAccepted
	}
	return c.JSON(status, map[string]interface{}{
		"operation": op,
		"queued":    queued,
		"pending":   h.queue.Len(),
	})
}

// Pending lists queued operations in replay order
// GET /api/v1/sync/pending
func (h *SyncHandler) Pending(c echo.Context) error {
	ops := h.queue.Pending()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"operations": ops,
		"count":      len(ops),
		"online":     h.watcher.Online(),
	})
}

// Drain replays the queue now. With ?async=true the connectivity watcher
// is nudged instead and the call returns immediately.
// POST /api/v1/sync/drain
func (h *SyncHandler) Drain(c echo.Context) error {
	if c.QueryParam("async") == "true" {
		h.watcher.Trigger()
		return c.JSON(http.StatusAccepted, map[string]interface{}{
			"status":  "triggered",
			"pending": h.queue.Len(),
		})
	}

	report, err := h.queue.Drain(c.Request().Context())
	if err != nil {
		h.log.Warn("manual drain stopped", "error", err, "remaining", report.Remaining)
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"error":  models.ReasonOf(err),
			"kind":   models.KindOf(err),
			"report": report,
		})
	}
	return c.JSON(http.StatusOK, report)
}
