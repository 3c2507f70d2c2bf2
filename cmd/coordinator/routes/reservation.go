package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/lyzr/toolcrib/cmd/coordinator/container"
	"github.com/lyzr/toolcrib/cmd/coordinator/handlers"
)

// RegisterReservationRoutes registers reservation booking and lifecycle routes
func RegisterReservationRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewReservationHandler(c)

	res := e.Group("/api/v1/reservations")
	{
		res.POST("", h.CreateReservation)                  // POST /api/v1/reservations
		res.GET("", h.ListReservations)                    // GET /api/v1/reservations?asset_id=drill-7
		res.GET("/availability/:asset_id", h.Availability) // GET /api/v1/reservations/availability/drill-7?from=...&to=...
		res.GET("/:id", h.GetReservation)                  // GET /api/v1/reservations/{id}
		res.POST("/:id/approve", h.ApproveReservation)     // POST /api/v1/reservations/{id}/approve
		res.POST("/:id/extend", h.ExtendReservation)       // POST /api/v1/reservations/{id}/extend
		res.POST("/:id/cancel", h.CancelReservation)       // POST /api/v1/reservations/{id}/cancel
		res.POST("/:id/complete", h.CompleteReservation)   // POST /api/v1/reservations/{id}/complete
	}
}
