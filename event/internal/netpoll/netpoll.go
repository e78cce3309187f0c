// Package netpoll wraps the kernel readiness facility (epoll on linux, kqueue
// on darwin/freebsd) behind one level-triggered poller with a wake-up channel
// for other goroutines.
package netpoll

import "errors"

// Interest is a set of readiness conditions on a descriptor.
type Interest uint8

const (
	// Readable means a read will not block.
	Readable Interest = 1 << iota
	// Writable means a write will not block.
	Writable
)

// InitEvents is the initial length of the poller's event list.
const InitEvents = 64

// ErrUnsupportedPlatform is returned by OpenPoller where no backend exists.
var ErrUnsupportedPlatform = errors.New("netpoll: unsupported platform")
