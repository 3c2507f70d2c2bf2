package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/lyzr/toolcrib/cmd/coordinator/container"
	"github.com/lyzr/toolcrib/cmd/coordinator/middleware"
	"github.com/lyzr/toolcrib/cmd/coordinator/routes"
	"github.com/lyzr/toolcrib/common/bootstrap"
	"github.com/lyzr/toolcrib/common/db"
	ratelimitmw "github.com/lyzr/toolcrib/common/middleware"
	"github.com/lyzr/toolcrib/common/repository/migrations"
	"github.com/lyzr/toolcrib/common/server"
)

const serviceName = "toolcrib-coordinator"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Bootstrap common components (DB, redis, cache, monitor, telemetry)
	components, err := bootstrap.Setup(ctx, serviceName,
		bootstrap.WithDBInitHook(func(d *db.DB) error {
			return migrations.Apply(ctx, d.Pool)
		}),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap coordinator: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(context.WithoutCancel(ctx))

	// Initialize service container (singleton pattern - all services created once)
	serviceContainer, err := container.NewContainer(ctx, components)
	if err != nil {
		components.Logger.Error("failed to initialize service container", "error", err)
		components.Shutdown(context.WithoutCancel(ctx))
		os.Exit(1)
	}

	// Initialize Echo server
	e := setupEcho()

	// Setup middleware
	setupMiddleware(e, serviceContainer)

	// Setup health check
	setupHealthCheck(e, serviceContainer)

	// Register all routes
	registerRoutes(e, serviceContainer)

	// Background work: replay the offline queue and re-arm reservation timers
	startBackground(ctx, serviceContainer)

	// Start server (blocks until SIGINT/SIGTERM)
	startServer(ctx, e, components)
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo, c *container.Container) {
	e.Use(echomw.Logger())
	e.Use(echomw.Recover())
	e.Use(echomw.CORS())
	e.Use(echomw.RequestID())
	e.Use(middleware.ExtractActor())

	if c.RateLimiter != nil {
		cfg := c.Components.Config.RateLimit
		e.Use(ratelimitmw.GlobalRateLimitMiddleware(c.RateLimiter, cfg.GlobalPerMinute, cfg.InternalSecret))
		e.Use(ratelimitmw.ActorRateLimitMiddleware(c.RateLimiter, middleware.GetActor, cfg.InternalSecret))
	}
}

// setupHealthCheck registers the health check endpoint
func setupHealthCheck(e *echo.Echo, c *container.Container) {
	e.GET("/health", func(ctx echo.Context) error {
		status := http.StatusOK
		body := map[string]interface{}{
			"status":         "ok",
			"service":        serviceName,
			"pending_sync":   c.Queue.Len(),
			"store_online":   c.Watcher.Online(),
			"pending_timers": c.Reservations.PendingTimers(),
		}

		if c.Components.DB != nil {
			body["database"] = c.Components.DB.Report(ctx.Request().Context())
		}

		if err := c.Components.Health(ctx.Request().Context()); err != nil {
			// Writes still queue while the store is down, so this is degraded
			// rather than failed
			body["status"] = "degraded"
			body["error"] = err.Error()
			status = http.StatusServiceUnavailable
		}

		return ctx.JSON(status, body)
	})
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, c *container.Container) {
	routes.RegisterAssetRoutes(e, c)
	routes.RegisterReservationRoutes(e, c)
	routes.RegisterSyncRoutes(e, c)
	routes.RegisterMetricsRoutes(e, c)
}

// startBackground starts the connectivity watcher and restores timers for
// reservations that were open when the process last stopped
func startBackground(ctx context.Context, c *container.Container) {
	go c.Watcher.Run(ctx)

	armed, err := c.Reservations.Resume(ctx)
	if err != nil {
		// Timers are re-armed on the next restart; requests still work
		c.Components.Logger.Error("failed to resume reservation timers", "error", err)
		return
	}
	c.Components.Logger.Info("reservation timers armed", "count", armed)
}

// startServer serves until ctx is cancelled
func startServer(ctx context.Context, e *echo.Echo, components *bootstrap.Components) {
	srv := server.New(serviceName, components.Config.Service.Port, e, components.Logger)

	if err := srv.Run(ctx); err != nil {
		components.Logger.Error("server error", "error", err)
		components.Shutdown(context.WithoutCancel(ctx))
		os.Exit(1)
	}
}
