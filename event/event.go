// Package event is a single-threaded, callback-driven I/O core modelled on
// the classic event / bufferevent / evbuffer API.
//
// A Base owns every registered Event and runs their callbacks one at a time
// on the goroutine that calls Loop or Dispatch. Readiness comes from a
// Backend (epoll or kqueue in production); timers come from an injectable
// clock. Other goroutines hand work to the loop only through Base.Trigger.
package event

import (
	"strings"
	"time"
)

// What is a set of event conditions.
type What uint16

const (
	// EvTimeout reports that the event's timeout elapsed.
	EvTimeout What = 0x01
	// EvRead waits for the descriptor to become readable.
	EvRead What = 0x02
	// EvWrite waits for the descriptor to become writable.
	EvWrite What = 0x04
	// EvSignal waits for the signal whose number is the event's fd.
	EvSignal What = 0x08
	// EvPersist keeps the event added after it fires.
	EvPersist What = 0x10
)

// NoTimeout passed to Event.Add disables the timer component.
const NoTimeout time.Duration = -1

func (w What) String() string {
	if w == 0 {
		return "none"
	}
	var parts []string
	for _, f := range []struct {
		bit  What
		name string
	}{
		{EvTimeout, "timeout"},
		{EvRead, "read"},
		{EvWrite, "write"},
		{EvSignal, "signal"},
		{EvPersist, "persist"},
	} {
		if w&f.bit != 0 {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "|")
}

// Callback is invoked on the loop goroutine when an event fires. fd is the
// descriptor (or signal number, or -1 for timers) the event was created with;
// what holds the conditions that fired.
type Callback func(fd int, what What)

// Event is one registrable interest. Create events with Base.NewEvent; the
// zero value is inert and every method on it returns ErrEventNotInitialized.
//
// Event methods must be called from the loop goroutine, or before the loop
// starts.
type Event struct {
	id   uint64
	base *Base
	fd   int
	what What
	cb   Callback

	added     bool
	timeout   time.Duration
	deadline  time.Time
	heapIndex int

	// active is set while an activation sits in the base's active queue;
	// res accumulates the conditions to report. gen is bumped by Del so
	// queued activations from before the Del are recognised as stale.
	active bool
	res    What
	gen    uint64

	freed bool
}

// ID returns the identity assigned by the base, or 0 for an uninitialized
// event.
func (ev *Event) ID() uint64 { return ev.id }

// Fd returns the descriptor or signal number the event watches.
func (ev *Event) Fd() int { return ev.fd }

// Initialized reports whether the event was created by a Base and not freed.
func (ev *Event) Initialized() bool { return ev.id != 0 && !ev.freed }

func (ev *Event) check() error {
	if ev.id == 0 || ev.base == nil {
		return ErrEventNotInitialized
	}
	if ev.freed {
		return ErrEventFreed
	}
	return nil
}

// Add makes the event schedulable. timeout is relative to now; NoTimeout
// disables the timer component and 0 fires on the next loop turn. Adding an
// event that is already added only replaces its timeout.
func (ev *Event) Add(timeout time.Duration) error {
	if err := ev.check(); err != nil {
		return err
	}
	return ev.base.add(ev, timeout)
}

// Del removes the event. Its callback will not run after Del returns, even if
// it was already queued to fire in the current loop turn. Deleting an event
// that is not added is a no-op.
func (ev *Event) Del() error {
	if err := ev.check(); err != nil {
		return err
	}
	ev.base.del(ev)
	return nil
}

// Active queues the event to fire with res on the current or next loop turn
// whether or not its condition is met.
func (ev *Event) Active(res What) error {
	if err := ev.check(); err != nil {
		return err
	}
	ev.base.activate(ev, res)
	return nil
}

// Pending reports which of the conditions in what the event is waiting for,
// or has queued to fire, and the timeout deadline when EvTimeout is set.
func (ev *Event) Pending(what What) (What, time.Time) {
	if ev.check() != nil {
		return 0, time.Time{}
	}
	var flags What
	if ev.added {
		flags |= ev.what & (EvRead | EvWrite | EvSignal)
		if ev.heapIndex >= 0 {
			flags |= EvTimeout
		}
	}
	if ev.active {
		flags |= ev.res
	}
	flags &= what
	if flags&EvTimeout != 0 {
		return flags, ev.deadline
	}
	return flags, time.Time{}
}

// Free deletes the event and makes it permanently inert.
func (ev *Event) Free() {
	if ev.check() != nil {
		return
	}
	ev.base.del(ev)
	ev.freed = true
	ev.cb = nil
}
