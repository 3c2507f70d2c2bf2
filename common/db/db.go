package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lyzr/toolcrib/common/config"
	"github.com/lyzr/toolcrib/common/logger"
)

// pingTimeout bounds a health ping so /health answers while the store is
// wedged
const pingTimeout = 3 * time.Second

// DB wraps pgxpool with common operations
type DB struct {
	*pgxpool.Pool
	log *logger.Logger
}

// PoolReport is the database section of /health. Checkout latency shows
// up here first when the pool is exhausted; EmptyAcquires counts acquires
// that had to wait for a connection.
type PoolReport struct {
	Reachable     bool          `json:"reachable"`
	PingLatency   time.Duration `json:"ping_latency_ns"`
	MaxConns      int32         `json:"max_conns"`
	TotalConns    int32         `json:"total_conns"`
	IdleConns     int32         `json:"idle_conns"`
	AcquiredConns int32         `json:"acquired_conns"`
	EmptyAcquires int64         `json:"empty_acquires"`
	Saturated     bool          `json:"saturated"`
	Error         string        `json:"error,omitempty"`
}

// New creates a new database connection pool
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	// Configure connection pool
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	// Test connection
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info("database connected",
		"host", cfg.Database.Host,
		"db", cfg.Database.Database,
		"max_conns", poolConfig.MaxConns,
		"min_conns", poolConfig.MinConns)

	return &DB{
		Pool: pool,
		log:  log,
	}, nil
}

// NewFromPool wraps an existing pool (tests, tooling)
func NewFromPool(pool *pgxpool.Pool, log *logger.Logger) *DB {
	return &DB{Pool: pool, log: log}
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.log.Info("closing database connection pool")
	db.Pool.Close()
}

// Health pings the database
func (db *DB) Health(ctx context.Context) error {
	_, err := db.ping(ctx)
	return err
}

// Report pings the database and snapshots pool occupancy. A failed ping
// is reported in the result, not returned.
func (db *DB) Report(ctx context.Context) PoolReport {
	latency, err := db.ping(ctx)

	stat := db.Pool.Stat()
	r := PoolReport{
		Reachable:     err == nil,
		PingLatency:   latency,
		MaxConns:      stat.MaxConns(),
		TotalConns:    stat.TotalConns(),
		IdleConns:     stat.IdleConns(),
		AcquiredConns: stat.AcquiredConns(),
		EmptyAcquires: stat.EmptyAcquireCount(),
		Saturated:     saturated(stat.AcquiredConns(), stat.MaxConns()),
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

func (db *DB) ping(ctx context.Context) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	start := time.Now()
	err := db.Pool.Ping(ctx)
	latency := time.Since(start)
	if err != nil {
		db.log.Debug("database ping failed", "latency", latency, "error", err)
		return latency, fmt.Errorf("ping database: %w", err)
	}
	return latency, nil
}

// saturated reports whether every connection the pool may open is checked out
func saturated(acquired, max int32) bool {
	return max > 0 && acquired >= max
}
