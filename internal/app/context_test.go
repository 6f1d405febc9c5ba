package app

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketdesk/internal/config"
	"ticketdesk/internal/db"
)

func TestOpenWiresServices(t *testing.T) {
	cfg := config.Default()
	cfg.Allocator.Quota = 2
	a, err := Open(cfg, t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	assert.Equal(t, db.SQLite, a.Dialect)
	assert.Equal(t, 2, a.Allocator.Quota)
	stats, err := a.Engine.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Tickets)
}

func TestNewLoggerHonoursFormatAndLevel(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Format = "json"
	cfg.Log.Level = "warn"
	var buf bytes.Buffer
	logger := NewLogger(cfg, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "agent", "a-1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, "a-1", line["agent"])
}
