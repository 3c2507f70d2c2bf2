package bootstrap

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lyzr/toolcrib/common/cache"
	"github.com/lyzr/toolcrib/common/clock"
	"github.com/lyzr/toolcrib/common/config"
	"github.com/lyzr/toolcrib/common/db"
	"github.com/lyzr/toolcrib/common/logger"
	"github.com/lyzr/toolcrib/common/metrics"
	"github.com/lyzr/toolcrib/common/redis"
	"github.com/lyzr/toolcrib/common/telemetry"
)

// Setup initializes all service components
// This is the main entry point for all services
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	// Apply options
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	components := &Components{}

	// 1. Load configuration
	var err error
	if options.customConfig != nil {
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	cfg := components.Config

	// 2. Initialize logger
	if options.customLogger != nil {
		components.Logger = options.customLogger
	} else {
		components.Logger = logger.New(cfg.Service.LogLevel, cfg.Service.LogFormat)
	}

	components.Logger.Info("initializing service",
		"service", serviceName,
		"environment", cfg.Service.Environment,
		"store", cfg.Service.StoreBackend,
	)

	clk := options.clock
	if clk == nil {
		clk = clock.NewSystem()
	}

	// 3. Initialize database (postgres backend only)
	if !options.skipDB && cfg.Service.StoreBackend == "postgres" {
		components.Logger.Info("connecting to database")
		components.DB, err = db.New(ctx, cfg, components.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		components.AddCleanup(func(context.Context) error {
			components.Logger.Info("closing database connection")
			components.DB.Close()
			return nil
		})

		// Run DB init hook if provided
		if options.dbInitHook != nil {
			components.Logger.Info("running database init hook")
			if err := options.dbInitHook(components.DB); err != nil {
				components.Shutdown(ctx) // Cleanup what we've initialized
				return nil, fmt.Errorf("database init hook failed: %w", err)
			}
		}
	}

	// 4. Initialize redis (if enabled)
	if !options.skipRedis && cfg.Redis.Enabled {
		components.Logger.Info("connecting to redis", "addr", cfg.RedisAddr())
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		components.Redis = redis.NewClient(rdb, components.Logger)

		if err := components.Redis.Ping(ctx); err != nil {
			components.Shutdown(ctx)
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}

		components.AddCleanup(func(context.Context) error {
			components.Logger.Info("closing redis client")
			return components.Redis.Close()
		})
	}

	// 5. Initialize cache (if not skipped)
	if !options.skipCache && cfg.Cache.Enabled {
		components.Logger.Info("initializing cache",
			"max_entries", cfg.Cache.MaxEntries,
			"snapshot", cfg.Cache.SnapshotBackend,
		)

		var snapshots cache.SnapshotStore
		switch cfg.Cache.SnapshotBackend {
		case "file":
			snapshots = cache.NewFileSnapshotStore(cfg.Cache.SnapshotPath)
		case "redis":
			if components.Redis == nil {
				components.Shutdown(ctx)
				return nil, fmt.Errorf("redis cache snapshots need a redis client")
			}
			snapshots = cache.NewRedisSnapshotStore(components.Redis, cfg.Cache.SnapshotKey)
		case "none", "":
		default:
			components.Shutdown(ctx)
			return nil, fmt.Errorf("unknown cache snapshot backend: %s", cfg.Cache.SnapshotBackend)
		}

		components.Cache = cache.NewTTLCache(cache.Options{
			DefaultTTL:       cfg.Cache.DefaultTTL,
			MaxEntries:       cfg.Cache.MaxEntries,
			SweepProbability: cfg.Cache.SweepProbability,
			Clock:            clk,
			Snapshots:        snapshots,
		}, components.Logger)

		if err := components.Cache.Load(ctx); err != nil {
			components.Logger.Warn("failed to restore cache snapshot", "error", err)
		}
		components.Cache.StartJanitor(cfg.Cache.SweepInterval)

		// Register cleanup: persist before closing
		components.AddCleanup(func(ctx context.Context) error {
			components.Logger.Info("closing cache")
			if err := components.Cache.Save(ctx); err != nil {
				components.Logger.Warn("failed to save cache snapshot", "error", err)
			}
			return components.Cache.Close()
		})
	}

	// 6. Performance monitor
	components.Monitor = metrics.NewPerformanceMonitor(
		cfg.Monitor.Capacity,
		metrics.SLA{MaxAvgLatency: cfg.Monitor.MaxAvgLatency, MinSuccessRate: cfg.Monitor.MinSuccessRate},
		clk,
	)

	// 7. Initialize telemetry (if not skipped)
	if !options.skipTelemetry && cfg.Telemetry.EnablePprof {
		components.Logger.Info("initializing telemetry")
		components.Telemetry = telemetry.New(cfg.Telemetry.PprofPort, components.Logger)

		if err := components.Telemetry.Start(ctx); err != nil {
			components.Logger.Warn("failed to start telemetry", "error", err)
			// Don't fail startup if telemetry fails
		}
		components.AddCleanup(components.Telemetry.Stop)
	}

	components.Logger.Info("service initialization complete",
		"service", serviceName,
		"db", components.DB != nil,
		"redis", components.Redis != nil,
		"cache", components.Cache != nil,
		"telemetry", components.Telemetry != nil,
	)

	return components, nil
}

// MustSetup is like Setup but panics on error
// Useful for services that can't recover from initialization failure
func MustSetup(ctx context.Context, serviceName string, opts ...Option) *Components {
	components, err := Setup(ctx, serviceName, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to setup service %s: %v", serviceName, err))
	}
	return components
}
