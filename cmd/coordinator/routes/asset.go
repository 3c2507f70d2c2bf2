package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/lyzr/toolcrib/cmd/coordinator/container"
	"github.com/lyzr/toolcrib/cmd/coordinator/handlers"
	"github.com/lyzr/toolcrib/cmd/coordinator/middleware"
)

// RegisterAssetRoutes registers asset registration, lifecycle and dashboard routes
func RegisterAssetRoutes(e *echo.Echo, c *container.Container) {
	// Create handler using services from container
	h := handlers.NewAssetHandler(c)
	admin := middleware.AdminTokenMiddleware(c.Components.Config.Service.AdminToken)

	assets := e.Group("/api/v1/assets")
	{
		assets.GET("", h.StatusPanel)                           // GET /api/v1/assets
		assets.GET("/summary", h.Summary)                       // GET /api/v1/assets/summary
		assets.POST("", h.RegisterAsset, admin)                 // POST /api/v1/assets
		assets.GET("/:id", h.GetAsset)                          // GET /api/v1/assets/drill-7
		assets.PATCH("/:id", h.UpdateAsset, admin)              // PATCH /api/v1/assets/drill-7
		assets.DELETE("/:id", h.DeleteAsset, admin)             // DELETE /api/v1/assets/drill-7
		assets.GET("/:id/movements", h.ListMovements)           // GET /api/v1/assets/drill-7/movements
		assets.GET("/:id/movements/current", h.CurrentMovement) // GET /api/v1/assets/drill-7/movements/current
		assets.POST("/:id/checkout", h.Checkout)                // POST /api/v1/assets/drill-7/checkout
		assets.POST("/:id/checkin", h.Checkin)                  // POST /api/v1/assets/drill-7/checkin
		assets.POST("/:id/scan", h.Scan)                        // POST /api/v1/assets/drill-7/scan
	}
}
