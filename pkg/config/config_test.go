package config_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keboola/go-envelope-client/pkg/config"
	"github.com/keboola/go-envelope-client/pkg/reachability"
)

// Tests modifying environment cannot run in parallel.

func TestLoad_Defaults(t *testing.T) {
	c, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, config.Default(), c)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("ENVELOPE_DEBUG", "true")
	t.Setenv("ENVELOPE_CACHE_SIZE", "1024")
	t.Setenv("ENVELOPE_REQUEST_TIMEOUT", "30s")
	t.Setenv("ENVELOPE_BATCH_CONCURRENCY", "2")
	t.Setenv("ENVELOPE_BASE_URL", "https://api.example.com")
	t.Setenv("ENVELOPE_REACHABILITY", "dial")

	c, err := config.Load()
	require.NoError(t, err)
	assert.True(t, c.Debug)
	assert.Equal(t, int64(1024), c.CacheSize)
	assert.Equal(t, 30*time.Second, c.RequestTimeout)
	assert.Equal(t, 2, c.BatchConcurrency)
	assert.Equal(t, "https://api.example.com", c.BaseURL)

	checker, err := c.ReachabilityChecker()
	require.NoError(t, err)
	assert.IsType(t, &reachability.Dialer{}, checker)

	level, err := c.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("ENVELOPE_BATCH_CONCURRENCY", "0")
	t.Setenv("ENVELOPE_REACHABILITY", "foo")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BATCH_CONCURRENCY must be positive")
	assert.Contains(t, err.Error(), `reachability mode "foo" is not supported`)
}

func TestLoad_Malformed(t *testing.T) {
	t.Setenv("ENVELOPE_REQUEST_TIMEOUT", "ten seconds")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot load config")
}

func TestConfig_SlogLevel(t *testing.T) {
	t.Parallel()
	c := config.Default()
	c.LogLevel = "warn"
	level, err := c.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)

	c.LogLevel = "loud"
	_, err = c.SlogLevel()
	require.Error(t, err)
}
