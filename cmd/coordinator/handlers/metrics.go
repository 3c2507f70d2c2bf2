package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/toolcrib/cmd/coordinator/container"
	"github.com/lyzr/toolcrib/common/cache"
	"github.com/lyzr/toolcrib/common/logger"
	"github.com/lyzr/toolcrib/common/metrics"
)

// MetricsHandler serves performance reports and maintenance actions
type MetricsHandler struct {
	monitor   *metrics.PerformanceMonitor
	cache     *cache.TTLCache
	host      metrics.HostInfo
	retention time.Duration
	log       *logger.Logger
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(c *container.Container) *MetricsHandler {
	return &MetricsHandler{
		monitor:   c.Components.Monitor,
		cache:     c.Components.Cache,
		host:      c.Host,
		retention: c.Components.Config.Monitor.Retention,
		log:       c.Components.Logger,
	}
}

// GetReport returns per-operation latency reports, or one with ?kind=
// GET /api/v1/metrics/performance
func (h *MetricsHandler) GetReport(c echo.Context) error {
	if kind := c.QueryParam("kind"); kind != "" {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"report": h.monitor.Report(kind),
			"host":   h.host,
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"overall": h.monitor.Report(""),
		"reports": h.monitor.Reports(),
		"host":    h.host,
	})
}

// Purge drops samples older than the retention window
// POST /api/v1/metrics/purge
func (h *MetricsHandler) Purge(c echo.Context) error {
	var req struct {
		Retention string `json:"retention"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	retention := h.retention
	if req.Retention != "" {
		d, err := time.ParseDuration(req.Retention)
		if err != nil || d <= 0 {
			return badRequest(c, "retention must be a positive duration such as 72h")
		}
		retention = d
	}

	removed, err := h.monitor.Purge(retention)
	if err != nil {
		return respondError(c, err)
	}

	h.log.Info("performance samples purged", "removed", removed, "retention", retention)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"removed":   removed,
		"retention": retention.String(),
	})
}

// CacheStats reports cache occupancy
// GET /api/v1/cache
func (h *MetricsHandler) CacheStats(c echo.Context) error {
	if h.cache == nil {
		return c.JSON(http.StatusOK, map[string]interface{}{"enabled": false})
	}
	stats := h.cache.Stats()
	stats["enabled"] = true
	return c.JSON(http.StatusOK, stats)
}

// ClearCache empties the cache
// DELETE /api/v1/cache
func (h *MetricsHandler) ClearCache(c echo.Context) error {
	if h.cache == nil {
		return c.JSON(http.StatusOK, map[string]interface{}{"enabled": false})
	}
	if err := h.cache.Clear(c.Request().Context()); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
