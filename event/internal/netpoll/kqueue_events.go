//go:build darwin || freebsd

package netpoll

import "golang.org/x/sys/unix"

type eventList struct {
	size   int
	events []unix.Kevent_t
}

func newEventList(size int) *eventList {
	return &eventList{
		size:   size,
		events: make([]unix.Kevent_t, size),
	}
}

// increase is only called once every entry of the previous list has been
// handled, so nothing needs migrating.
func (el *eventList) increase() {
	el.size <<= 1
	el.events = make([]unix.Kevent_t, el.size)
}
