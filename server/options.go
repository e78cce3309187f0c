package server

import (
	"github.com/prometheus/client_golang/prometheus"

	"evmux/internal/clock"
	"evmux/internal/logging"
)

// Option configures a Server.
type Option func(opts *Options)

func loadOptions(options ...Option) *Options {
	opts := new(Options)
	for _, option := range options {
		option(opts)
	}
	return opts
}

// Options holds the Server dependencies.
type Options struct {
	// Logger defaults to a no-op logger.
	Logger *logging.Logger
	// Registry receives the server and event loop collectors. Defaults to
	// a private registry.
	Registry *prometheus.Registry
	// Clock drives timeouts and reply timestamps. Defaults to the real
	// clock.
	Clock clock.Clock
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithRegistry sets the metrics registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(opts *Options) {
		opts.Registry = reg
	}
}

// WithClock sets the clock.
func WithClock(c clock.Clock) Option {
	return func(opts *Options) {
		opts.Clock = c
	}
}
