package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLoggerCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "debug", "json")

	ctx := context.WithValue(context.Background(), TraceIDKey, "trace-1")
	log.WithContext(ctx).WithAssetID("asset-1").Info("checked out", "holder_id", "user-1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "checked out", line["msg"])
	assert.Equal(t, "trace-1", line["trace_id"])
	assert.Equal(t, "asset-1", line["asset_id"])
	assert.Equal(t, "user-1", line["holder_id"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "warn", "json")

	log.Info("dropped")
	assert.Zero(t, buf.Len())

	log.Error("kept", "error", "boom")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Contains(t, line, "stack")
}
