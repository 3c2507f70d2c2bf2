package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service     ServiceConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Cache       CacheConfig
	Queue       QueueConfig
	Reservation ReservationConfig
	Monitor     MonitorConfig
	Notify      NotifyConfig
	RateLimit   RateLimitConfig
	Telemetry   TelemetryConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name         string
	Port         int
	Environment  string
	LogLevel     string
	LogFormat    string
	StoreBackend string // "postgres" or "memory"
	AdminToken   string // guards maintenance endpoints when set
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// CacheConfig holds TTL cache settings
type CacheConfig struct {
	Enabled          bool
	DefaultTTL       time.Duration
	MaxEntries       int
	SweepProbability float64
	SweepInterval    time.Duration
	SnapshotBackend  string // "file", "redis" or "none"
	SnapshotPath     string
	SnapshotKey      string
}

// QueueConfig holds offline sync queue settings
type QueueConfig struct {
	MaxRetries     int
	JournalBackend string // "sqlite" or "redis"
	JournalPath    string
	JournalKey     string
	PingInterval   time.Duration
}

// ReservationConfig holds reservation coordinator settings
type ReservationConfig struct {
	ReminderLead     time.Duration
	AutoExtendStep   time.Duration
	AutoApprovalExpr string
}

// MonitorConfig holds performance monitor settings
type MonitorConfig struct {
	Capacity       int
	Retention      time.Duration
	MaxAvgLatency  time.Duration
	MinSuccessRate float64
}

// NotifyConfig holds notification sink settings
type NotifyConfig struct {
	RedisChannel string
	AMQPURL      string
	AMQPExchange string
}

// RateLimitConfig holds Redis-backed request limiting settings
type RateLimitConfig struct {
	Enabled         bool
	GlobalPerMinute int64
	InternalSecret  string
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof bool
	PprofPort   int
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:         serviceName,
			Port:         getEnvInt("PORT", 8080),
			Environment:  getEnv("ENVIRONMENT", "development"),
			LogLevel:     getEnv("LOG_LEVEL", "info"),
			LogFormat:    getEnv("LOG_FORMAT", "text"), // Default to text for development
			StoreBackend: getEnv("STORE_BACKEND", "postgres"),
			AdminToken:   getEnv("ADMIN_TOKEN", ""),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "toolcrib"),
			User:        getEnv("POSTGRES_USER", "toolcrib"),
			Password:    getEnv("POSTGRES_PASSWORD", "toolcrib"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 20),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 2),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", true),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			Enabled:          getEnvBool("CACHE_ENABLED", true),
			DefaultTTL:       getEnvDuration("CACHE_DEFAULT_TTL", 5*time.Minute),
			MaxEntries:       getEnvInt("CACHE_MAX_ENTRIES", 500),
			SweepProbability: getEnvFloat("CACHE_SWEEP_PROBABILITY", 0.1),
			SweepInterval:    getEnvDuration("CACHE_SWEEP_INTERVAL", 1*time.Minute),
			SnapshotBackend:  getEnv("CACHE_SNAPSHOT_BACKEND", "file"),
			SnapshotPath:     getEnv("CACHE_SNAPSHOT_PATH", "./data/cache.json"),
			SnapshotKey:      getEnv("CACHE_SNAPSHOT_KEY", "toolcrib:cache:snapshot"),
		},
		Queue: QueueConfig{
			MaxRetries:     getEnvInt("SYNC_MAX_RETRIES", 3),
			JournalBackend: getEnv("SYNC_JOURNAL_BACKEND", "sqlite"),
			JournalPath:    getEnv("SYNC_JOURNAL_PATH", "./data/offline.db"),
			JournalKey:     getEnv("SYNC_JOURNAL_KEY", "toolcrib:offline_ops"),
			PingInterval:   getEnvDuration("SYNC_PING_INTERVAL", 15*time.Second),
		},
		Reservation: ReservationConfig{
			ReminderLead:     getEnvDuration("RESERVATION_REMINDER_LEAD", 30*time.Minute),
			AutoExtendStep:   getEnvDuration("RESERVATION_AUTO_EXTEND_STEP", 1*time.Hour),
			AutoApprovalExpr: getEnv("RESERVATION_AUTO_APPROVAL_EXPR", "request.pre_authorized"),
		},
		Monitor: MonitorConfig{
			Capacity:       getEnvInt("MONITOR_CAPACITY", 1000),
			Retention:      getEnvDuration("MONITOR_RETENTION", 7*24*time.Hour),
			MaxAvgLatency:  getEnvDuration("MONITOR_SLA_LATENCY", 500*time.Millisecond),
			MinSuccessRate: getEnvFloat("MONITOR_SLA_SUCCESS_RATE", 0.95),
		},
		Notify: NotifyConfig{
			RedisChannel: getEnv("NOTIFY_REDIS_CHANNEL", "toolcrib:notifications"),
			AMQPURL:      getEnv("NOTIFY_AMQP_URL", ""),
			AMQPExchange: getEnv("NOTIFY_AMQP_EXCHANGE", "toolcrib.notifications"),
		},
		RateLimit: RateLimitConfig{
			Enabled:         getEnvBool("RATE_LIMIT_ENABLED", false),
			GlobalPerMinute: int64(getEnvInt("RATE_LIMIT_GLOBAL_PER_MINUTE", 1000)),
			InternalSecret:  getEnv("INTERNAL_SERVICE_SECRET", ""),
		},
		Telemetry: TelemetryConfig{
			EnablePprof: getEnvBool("ENABLE_PPROF", false),
			PprofPort:   getEnvInt("PPROF_PORT", 6060),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	switch c.Service.StoreBackend {
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			return fmt.Errorf("max_conns must be >= min_conns")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store backend: %s", c.Service.StoreBackend)
	}

	if c.Cache.MaxEntries < 1 {
		return fmt.Errorf("cache max entries must be positive")
	}
	if c.Cache.SweepProbability < 0 || c.Cache.SweepProbability > 1 {
		return fmt.Errorf("cache sweep probability must be within [0,1]")
	}
	if (c.Cache.SnapshotBackend == "redis" || c.Queue.JournalBackend == "redis") && !c.Redis.Enabled {
		return fmt.Errorf("redis backends require REDIS_ENABLED=true")
	}

	if c.Queue.MaxRetries < 1 {
		return fmt.Errorf("sync max retries must be positive")
	}

	if c.RateLimit.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("rate limiting requires REDIS_ENABLED=true")
	}

	if c.Monitor.Capacity < 1 {
		return fmt.Errorf("monitor capacity must be positive")
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// RedisAddr returns host:port for the Redis client
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
