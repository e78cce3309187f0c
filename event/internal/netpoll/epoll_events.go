//go:build linux

package netpoll

import "golang.org/x/sys/unix"

const (
	// ErrEvents are exceptional conditions such as the peer closing.
	ErrEvents = unix.EPOLLERR | unix.EPOLLHUP | unix.EPOLLRDHUP
	// OutEvents combines EPOLLOUT with the exceptional events.
	OutEvents = ErrEvents | unix.EPOLLOUT
	// InEvents combines EPOLLIN/EPOLLPRI with the exceptional events.
	InEvents = ErrEvents | unix.EPOLLIN | unix.EPOLLPRI

	minEvents = 32
	maxEvents = 1024
)

type eventList struct {
	size   int
	events []unix.EpollEvent
}

func newEventList(size int) *eventList {
	return &eventList{size, make([]unix.EpollEvent, size)}
}

func (el *eventList) expand() {
	if newSize := el.size << 1; newSize <= maxEvents {
		el.size = newSize
		el.events = make([]unix.EpollEvent, newSize)
	}
}

func (el *eventList) shrink() {
	if newSize := el.size >> 1; newSize >= minEvents {
		el.size = newSize
		el.events = make([]unix.EpollEvent, newSize)
	}
}

func epollMask(in Interest) uint32 {
	var ev uint32
	if in&Readable != 0 {
		ev |= unix.EPOLLIN | unix.EPOLLPRI | unix.EPOLLRDHUP
	}
	if in&Writable != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}
