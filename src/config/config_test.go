package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-core/src/config"
)

func TestDefaults(t *testing.T) {
	cfg := config.Default()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 100, cfg.RateLimit.Max)
	assert.Equal(t, 10, cfg.API.DefaultDepth)
	assert.Equal(t, 1000, cfg.API.MaxDepth)
	assert.Empty(t, cfg.Symbols)
	assert.Empty(t, cfg.Sinks.SnapshotDB)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "3000")
	t.Setenv("SYMBOLS", "AAPL, MSFT,,GOOG")
	t.Setenv("RATE_LIMIT_WINDOW", "2s")
	t.Setenv("RATE_LIMIT_DISABLED", "1")
	t.Setenv("MAX_CONCURRENT_REQUESTS", "50")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("ORDERBOOK_DEFAULT_DEPTH", "5000")

	cfg := config.Load(filepath.Join(t.TempDir(), "missing.env"))

	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, []string{"AAPL", "MSFT", "GOOG"}, cfg.Symbols)
	assert.Equal(t, 2*time.Second, cfg.RateLimit.Window)
	assert.True(t, cfg.RateLimit.Disabled)
	assert.Equal(t, int64(50), cfg.Availability.MaxConcurrentRequests)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Sinks.KafkaBrokers)
	assert.Equal(t, cfg.API.MaxDepth, cfg.API.DefaultDepth)
}

func TestLoadIgnoresBadValues(t *testing.T) {
	t.Setenv("RATE_LIMIT_MAX", "lots")
	t.Setenv("SHUTDOWN_TIMEOUT", "-3s")

	cfg := config.Load(filepath.Join(t.TempDir(), "missing.env"))

	assert.Equal(t, 100, cfg.RateLimit.Max)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
}

func TestLoadReadsEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("JOURNAL_DIR=/tmp/fills\nSNAPSHOT_QUEUE_SIZE=64\n"), 0o600))
	t.Setenv("JOURNAL_DIR", "")
	t.Setenv("SNAPSHOT_QUEUE_SIZE", "")
	// godotenv never overrides variables already present, so clear them first
	require.NoError(t, os.Unsetenv("JOURNAL_DIR"))
	require.NoError(t, os.Unsetenv("SNAPSHOT_QUEUE_SIZE"))

	cfg := config.Load(path)

	assert.Equal(t, "/tmp/fills", cfg.Sinks.JournalDir)
	assert.Equal(t, 64, cfg.Sinks.QueueSize)
}
