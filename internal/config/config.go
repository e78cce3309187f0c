// Package config loads evmux settings from EVMUX_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is the environment variable prefix.
const Prefix = "EVMUX"

// Config holds all evmux configuration.
type Config struct {
	Server  ServerConfig
	Session SessionConfig
	Buffer  BufferConfig
	Jobs    JobConfig
	Logging LogConfig
	Metrics MetricsConfig
}

// ServerConfig holds control socket configuration.
type ServerConfig struct {
	// Socket is a unix socket path or tcp://host:port.
	Socket        string        `envconfig:"SOCKET"`
	ReusePort     bool          `envconfig:"REUSE_PORT" default:"false"`
	ClientTimeout time.Duration `envconfig:"CLIENT_TIMEOUT" default:"0s"`
}

// SessionConfig holds defaults for new sessions.
type SessionConfig struct {
	Shell  string `envconfig:"SHELL" default:"/bin/sh"`
	Width  int    `envconfig:"WIDTH" default:"80"`
	Height int    `envconfig:"HEIGHT" default:"24"`
}

// BufferConfig holds bufferevent tuning.
type BufferConfig struct {
	ReadChunk int `envconfig:"READ_CHUNK" default:"16384"`
	// ClientHighWater is the output backlog above which pane output to a
	// client is discarded.
	ClientHighWater int `envconfig:"CLIENT_HIGH_WATER" default:"1048576"`
	// PaneHighWater caps the pane output buffered before it is broadcast.
	PaneHighWater int `envconfig:"PANE_HIGH_WATER" default:"65536"`
}

// JobConfig holds the worker pool configuration.
type JobConfig struct {
	PoolSize int `envconfig:"POOL_SIZE" default:"64"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// MetricsConfig holds the metrics endpoint configuration. An empty address
// disables the endpoint.
type MetricsConfig struct {
	Address string `envconfig:"ADDR"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Server.Socket == "" {
		cfg.Server.Socket = DefaultSocketPath()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Socket: DefaultSocketPath(),
		},
		Session: SessionConfig{
			Shell:  "/bin/sh",
			Width:  80,
			Height: 24,
		},
		Buffer: BufferConfig{
			ReadChunk:       16384,
			ClientHighWater: 1 << 20,
			PaneHighWater:   1 << 16,
		},
		Jobs: JobConfig{
			PoolSize: 64,
		},
		Logging: LogConfig{
			Level: "info",
		},
	}
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Server.Socket == "":
		return errors.New("config: empty socket path")
	case c.Session.Width <= 0 || c.Session.Height <= 0:
		return fmt.Errorf("config: invalid default size %dx%d", c.Session.Width, c.Session.Height)
	case c.Buffer.ReadChunk <= 0:
		return fmt.Errorf("config: invalid read chunk %d", c.Buffer.ReadChunk)
	case c.Server.ClientTimeout < 0:
		return fmt.Errorf("config: negative client timeout %v", c.Server.ClientTimeout)
	}
	return nil
}

// DefaultSocketPath returns $TMPDIR/evmux-<uid>/default.
func DefaultSocketPath() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("evmux-%d", os.Getuid()), "default")
}
