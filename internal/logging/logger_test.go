package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/checkout/backend/internal/config"
)

func TestNewWithWriterJSONAndComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(NewWithWriter(config.LoggingConfig{Level: "debug", Format: "JSON"}, &buf), "reconcile")

	logger.Debug("sweep started", slog.Int("candidates", 3))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "reconcile", record["component"])
	assert.Equal(t, "sweep started", record["msg"])
	assert.EqualValues(t, 3, record["candidates"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelWarn, parseLevel(" Warning "))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestLevelFiltersRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "warn"}, &buf)
	logger.Info("ignored")
	assert.Zero(t, buf.Len())
	logger.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}
