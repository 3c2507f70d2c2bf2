package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/lyzr/toolcrib/cmd/coordinator/container"
	"github.com/lyzr/toolcrib/cmd/coordinator/handlers"
	"github.com/lyzr/toolcrib/cmd/coordinator/middleware"
)

// RegisterSyncRoutes registers offline sync queue routes
func RegisterSyncRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewSyncHandler(c)

	sync := e.Group("/api/v1/sync")
	sync.Use(middleware.AdminTokenMiddleware(c.Components.Config.Service.AdminToken))
	{
		sync.POST("/operations", h.SubmitOperation) // POST /api/v1/sync/operations
		sync.GET("/pending", h.Pending)             // GET /api/v1/sync/pending
		sync.POST("/drain", h.Drain)                // POST /api/v1/sync/drain?async=true
	}
}
