package event

import (
	"evmux/internal/clock"
)

// Option configures a Base.
type Option func(opts *Options)

func loadOptions(options ...Option) *Options {
	opts := new(Options)
	for _, option := range options {
		option(opts)
	}
	return opts
}

// Options holds the Base configuration.
type Options struct {
	// Logger receives loop diagnostics. Defaults to stderr.
	Logger Logger
	// Clock drives every timeout. Defaults to the real clock.
	Clock clock.Clock
	// Backend supplies readiness. Defaults to the platform poller.
	Backend Backend
	// Metrics, when set, counts dispatches and bytes moved.
	Metrics *Metrics
	// MaxDispatch bounds the callbacks run per loop turn before the
	// backend is polled again. Zero means no bound.
	MaxDispatch int
}

// WithOptions replaces the whole configuration.
func WithOptions(options Options) Option {
	return func(opts *Options) {
		*opts = options
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithClock sets the clock used for timeouts.
func WithClock(c clock.Clock) Option {
	return func(opts *Options) {
		opts.Clock = c
	}
}

// WithBackend sets the readiness backend.
func WithBackend(backend Backend) Option {
	return func(opts *Options) {
		opts.Backend = backend
	}
}

// WithMetrics enables metrics collection.
func WithMetrics(m *Metrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithMaxDispatch bounds the callbacks run per loop turn.
func WithMaxDispatch(n int) Option {
	return func(opts *Options) {
		opts.MaxDispatch = n
	}
}
