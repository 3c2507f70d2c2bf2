package bootstrap

import (
	"context"
	"fmt"

	"github.com/lyzr/toolcrib/common/cache"
	"github.com/lyzr/toolcrib/common/config"
	"github.com/lyzr/toolcrib/common/db"
	"github.com/lyzr/toolcrib/common/logger"
	"github.com/lyzr/toolcrib/common/metrics"
	"github.com/lyzr/toolcrib/common/redis"
	"github.com/lyzr/toolcrib/common/telemetry"
)

// Components holds all initialized service dependencies
type Components struct {
	Config    *config.Config
	Logger    *logger.Logger
	DB        *db.DB
	Redis     *redis.Client
	Cache     *cache.TTLCache
	Monitor   *metrics.PerformanceMonitor
	Telemetry *telemetry.Telemetry

	// Internal
	cleanupFuncs []func(ctx context.Context) error
}

// Shutdown performs graceful shutdown of all components
// Should be called with defer after Setup()
func (c *Components) Shutdown(ctx context.Context) error {
	c.Logger.Info("shutting down components")

	var errors []error

	// Run cleanup functions in reverse order (LIFO)
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](ctx); err != nil {
			errors = append(errors, err)
			c.Logger.Error("cleanup error", "error", err)
		}
	}
	c.cleanupFuncs = nil

	if len(errors) > 0 {
		return fmt.Errorf("shutdown errors: %v", errors)
	}

	c.Logger.Info("shutdown complete")
	return nil
}

// Health checks health of all components
func (c *Components) Health(ctx context.Context) error {
	if c.DB != nil {
		if err := c.DB.Health(ctx); err != nil {
			return fmt.Errorf("database unhealthy: %w", err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Ping(ctx); err != nil {
			return fmt.Errorf("redis unhealthy: %w", err)
		}
	}
	return nil
}

// AddCleanup registers a function run by Shutdown, last registered first
func (c *Components) AddCleanup(fn func(ctx context.Context) error) {
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}
