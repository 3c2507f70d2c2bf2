package bootstrap

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/lyzr/toolcrib/common/clock"
	"github.com/lyzr/toolcrib/common/config"
	"github.com/lyzr/toolcrib/common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("toolcrib-test")
	require.NoError(t, err)
	cfg.Service.StoreBackend = "memory"
	cfg.Redis.Enabled = false
	cfg.Cache.SnapshotBackend = "file"
	cfg.Cache.SnapshotPath = filepath.Join(t.TempDir(), "cache.json")
	cfg.Telemetry.EnablePprof = false
	return cfg
}

func TestSetupMemoryBackend(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig(t)

	c, err := Setup(ctx, "toolcrib-test", WithCustomConfig(cfg), WithCustomLogger(logger.Discard()))
	require.NoError(t, err)

	assert.Nil(t, c.DB)
	assert.Nil(t, c.Redis)
	require.NotNil(t, c.Cache)
	require.NotNil(t, c.Monitor)
	assert.NoError(t, c.Health(ctx))
	require.NoError(t, c.Shutdown(ctx))
}

func TestCacheSnapshotSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig(t)
	clk := clock.NewFake(time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC))
	opts := []Option{WithCustomConfig(cfg), WithCustomLogger(logger.Discard()), WithClock(clk)}

	first, err := Setup(ctx, "toolcrib-test", opts...)
	require.NoError(t, err)
	require.NoError(t, first.Cache.Set(ctx, "summary", []byte(`{"available":3}`), time.Hour))
	require.NoError(t, first.Shutdown(ctx))

	second, err := Setup(ctx, "toolcrib-test", opts...)
	require.NoError(t, err)
	defer second.Shutdown(ctx)

	v, ok, err := second.Cache.Get(ctx, "summary")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"available":3}`, string(v))
}

func TestSetupRejectsUnknownSnapshotBackend(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Cache.SnapshotBackend = "s3"

	_, err := Setup(context.Background(), "toolcrib-test", WithCustomConfig(cfg), WithCustomLogger(logger.Discard()))
	assert.Error(t, err)
}

func TestWithoutCache(t *testing.T) {
	c, err := Setup(context.Background(), "toolcrib-test",
		WithCustomConfig(memoryConfig(t)), WithCustomLogger(logger.Discard()), WithoutCache())
	require.NoError(t, err)
	assert.Nil(t, c.Cache)
	require.NoError(t, c.Shutdown(context.Background()))
}
