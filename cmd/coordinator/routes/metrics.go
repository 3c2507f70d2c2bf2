package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/lyzr/toolcrib/cmd/coordinator/container"
	"github.com/lyzr/toolcrib/cmd/coordinator/handlers"
	"github.com/lyzr/toolcrib/cmd/coordinator/middleware"
)

// RegisterMetricsRoutes registers performance report and cache maintenance routes
func RegisterMetricsRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewMetricsHandler(c)
	admin := middleware.AdminTokenMiddleware(c.Components.Config.Service.AdminToken)

	m := e.Group("/api/v1/metrics")
	{
		m.GET("/performance", h.GetReport) // GET /api/v1/metrics/performance?kind=checkout
		m.POST("/purge", h.Purge, admin)   // POST /api/v1/metrics/purge
	}

	cache := e.Group("/api/v1/cache", admin)
	{
		cache.GET("", h.CacheStats)    // GET /api/v1/cache
		cache.DELETE("", h.ClearCache) // DELETE /api/v1/cache
	}
}
