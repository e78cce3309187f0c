package event

import (
	"time"

	"evmux/event/internal/netpoll"
)

// Backend is the readiness facility a Base multiplexes events over. Every
// method except Wake is called only from the loop goroutine.
type Backend interface {
	// Control changes the interest (EvRead|EvWrite) registered for fd from
	// old to mask. A zero mask removes fd.
	Control(fd int, old, mask What) error
	// Wait blocks for at most timeout (forever if negative) and reports
	// each ready descriptor through ready.
	Wait(timeout time.Duration, ready func(fd int, what What)) error
	// Wake makes a blocked Wait return. It may be called from any goroutine.
	Wake() error
	// Close releases the backend.
	Close() error
}

// pollBackend adapts the platform poller to Backend.
type pollBackend struct {
	poller *netpoll.Poller
}

// NewPollBackend opens the platform poller (epoll or kqueue).
func NewPollBackend() (Backend, error) {
	p, err := netpoll.OpenPoller()
	if err != nil {
		return nil, err
	}
	return &pollBackend{poller: p}, nil
}

func toInterest(w What) (in netpoll.Interest) {
	if w&EvRead != 0 {
		in |= netpoll.Readable
	}
	if w&EvWrite != 0 {
		in |= netpoll.Writable
	}
	return
}

func (pb *pollBackend) Control(fd int, old, mask What) error {
	return pb.poller.Control(fd, toInterest(old), toInterest(mask))
}

func (pb *pollBackend) Wait(timeout time.Duration, ready func(fd int, what What)) error {
	msec := -1
	if timeout >= 0 {
		// Round up so a sub-millisecond timer does not spin.
		msec = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}
	_, err := pb.poller.Poll(msec, func(fd int, in netpoll.Interest) {
		var w What
		if in&netpoll.Readable != 0 {
			w |= EvRead
		}
		if in&netpoll.Writable != 0 {
			w |= EvWrite
		}
		ready(fd, w)
	})
	return err
}

func (pb *pollBackend) Wake() error  { return pb.poller.Wake() }
func (pb *pollBackend) Close() error { return pb.poller.Close() }
