package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("coordinator")
	require.NoError(t, err)

	assert.Equal(t, "coordinator", cfg.Service.Name)
	assert.Equal(t, 3, cfg.Queue.MaxRetries)
	assert.Equal(t, 1000, cfg.Monitor.Capacity)
	assert.Equal(t, 7*24*time.Hour, cfg.Monitor.Retention)
	assert.Equal(t, 500*time.Millisecond, cfg.Monitor.MaxAvgLatency)
	assert.Equal(t, 30*time.Minute, cfg.Reservation.ReminderLead)
	assert.Equal(t, time.Hour, cfg.Reservation.AutoExtendStep)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("SYNC_MAX_RETRIES", "5")
	t.Setenv("CACHE_SWEEP_PROBABILITY", "0.5")
	t.Setenv("CACHE_DEFAULT_TTL", "90s")

	cfg, err := Load("coordinator")
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Service.StoreBackend)
	assert.Equal(t, 5, cfg.Queue.MaxRetries)
	assert.Equal(t, 0.5, cfg.Cache.SweepProbability)
	assert.Equal(t, 90*time.Second, cfg.Cache.DefaultTTL)
}

func TestValidate(t *testing.T) {
	t.Setenv("STORE_BACKEND", "mongo")
	_, err := Load("coordinator")
	assert.ErrorContains(t, err, "unknown store backend")

	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("REDIS_ENABLED", "false")
	t.Setenv("SYNC_JOURNAL_BACKEND", "redis")
	_, err = Load("coordinator")
	assert.ErrorContains(t, err, "redis backends")
}
