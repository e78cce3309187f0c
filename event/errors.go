package event

import (
	"errors"
	"fmt"
)

var (
	// ErrWouldBlock is returned by a Transport when the operation cannot
	// make progress without blocking. It is retried on the next readiness
	// notification and never reported to callbacks.
	ErrWouldBlock = errors.New("event: operation would block")
	// ErrEventNotInitialized is returned for events not created by a Base.
	ErrEventNotInitialized = errors.New("event: event is not initialized")
	// ErrEventFreed is returned for events used after Free.
	ErrEventFreed = errors.New("event: event has been freed")
	// ErrNoEvents is returned by Loop when nothing is registered.
	ErrNoEvents = errors.New("event: no events registered")
	// ErrBaseClosed is returned once the base has been closed.
	ErrBaseClosed = errors.New("event: base is closed")
	// ErrReentrantLoop is returned when Loop is called from a callback.
	ErrReentrantLoop = errors.New("event: loop is already running")
	// ErrBuffereventFreed is returned for bufferevents used after Free.
	ErrBuffereventFreed = errors.New("event: bufferevent has been freed")
	// ErrInvalidDescriptor is returned for I/O events on a negative fd.
	ErrInvalidDescriptor = errors.New("event: invalid descriptor")
)

// TransportError carries an I/O failure from a transport.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("event: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error { return e.Err }
