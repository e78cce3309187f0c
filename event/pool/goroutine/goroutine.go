// Package goroutine provides the bounded worker pool used for blocking work
// (process waits, file system calls) whose results are handed back to the
// event loop with Base.Trigger.
package goroutine

import (
	"time"

	"github.com/panjf2000/ants/v2"
)

const (
	// DefaultPoolSize bounds concurrent workers when no size is given.
	DefaultPoolSize = 1 << 10

	// ExpiryDuration is how long an idle worker lives.
	ExpiryDuration = 10 * time.Second

	// Nonblocking makes Submit fail with ants.ErrPoolOverload instead of
	// waiting for a free worker.
	Nonblocking = true
)

// Pool is the worker pool type.
type Pool = ants.Pool

// Logger receives worker panics.
type Logger = ants.Logger

// ErrPoolOverload is returned by Submit when every worker is busy.
var ErrPoolOverload = ants.ErrPoolOverload

// New creates a pool of size workers; size <= 0 uses DefaultPoolSize.
// Worker panics are reported to logger when it is not nil.
func New(size int, logger Logger) (*Pool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}
	options := ants.Options{
		Nonblocking:    Nonblocking,
		ExpiryDuration: ExpiryDuration,
	}
	if logger != nil {
		options.Logger = logger
		options.PanicHandler = func(p interface{}) {
			logger.Printf("goroutine: worker panicked: %v", p)
		}
	}
	return ants.NewPool(size, ants.WithOptions(options))
}

// Default creates a pool with the default size.
func Default() *Pool {
	p, _ := New(DefaultPoolSize, nil)
	return p
}
