package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DefaultSocketPath(), cfg.Server.Socket)
	assert.False(t, cfg.Server.ReusePort)
	assert.Zero(t, cfg.Server.ClientTimeout)

	assert.Equal(t, "/bin/sh", cfg.Session.Shell)
	assert.Equal(t, 80, cfg.Session.Width)
	assert.Equal(t, 24, cfg.Session.Height)

	assert.Equal(t, 16384, cfg.Buffer.ReadChunk)
	assert.Equal(t, 1<<20, cfg.Buffer.ClientHighWater)
	assert.Equal(t, 64, cfg.Jobs.PoolSize)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Empty(t, cfg.Metrics.Address)
	assert.NoError(t, cfg.Validate())
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"EVMUX_SERVER_SOCKET":         "tcp://127.0.0.1:7000",
		"EVMUX_SERVER_REUSE_PORT":     "true",
		"EVMUX_SERVER_CLIENT_TIMEOUT": "30s",
		"EVMUX_SESSION_SHELL":         "/bin/bash",
		"EVMUX_SESSION_WIDTH":         "132",
		"EVMUX_SESSION_HEIGHT":        "43",
		"EVMUX_BUFFER_READ_CHUNK":     "4096",
		"EVMUX_JOBS_POOL_SIZE":        "8",
		"EVMUX_LOGGING_LOG_LEVEL":     "debug",
		"EVMUX_LOGGING_LOG_DEV":       "true",
		"EVMUX_METRICS_ADDR":          "127.0.0.1:9100",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "tcp://127.0.0.1:7000", cfg.Server.Socket)
	assert.True(t, cfg.Server.ReusePort)
	assert.Equal(t, 30*time.Second, cfg.Server.ClientTimeout)
	assert.Equal(t, "/bin/bash", cfg.Session.Shell)
	assert.Equal(t, 132, cfg.Session.Width)
	assert.Equal(t, 43, cfg.Session.Height)
	assert.Equal(t, 4096, cfg.Buffer.ReadChunk)
	assert.Equal(t, 8, cfg.Jobs.PoolSize)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Address)
}

func TestLoadRejectsInvalidSize(t *testing.T) {
	t.Setenv("EVMUX_SESSION_WIDTH", "0")
	_, err := Load()
	assert.Error(t, err)

	cfg := LoadOrDefault()
	assert.Equal(t, 80, cfg.Session.Width)
}

func TestLoadRejectsMalformedValue(t *testing.T) {
	t.Setenv("EVMUX_BUFFER_READ_CHUNK", "lots")
	_, err := Load()
	assert.ErrorContains(t, err, "failed to load config")
}
