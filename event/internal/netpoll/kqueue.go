//go:build darwin || freebsd

package netpoll

import (
	"os"

	"golang.org/x/sys/unix"
)

const maxEvents = 1024

// Poller is a kqueue instance. An EVFILT_USER event is registered at open
// time and triggered by Wake.
type Poller struct {
	fd     int
	events *eventList
}

// OpenPoller creates the kqueue and registers the user wake-up filter.
func OpenPoller() (poller *Poller, err error) {
	poller = new(Poller)
	if poller.fd, err = unix.Kqueue(); err != nil {
		return nil, os.NewSyscallError("kqueue", err)
	}
	var ev unix.Kevent_t
	unix.SetKevent(&ev, 0, unix.EVFILT_USER, unix.EV_ADD|unix.EV_CLEAR)
	if _, err = unix.Kevent(poller.fd, []unix.Kevent_t{ev}, nil, nil); err != nil {
		_ = poller.Close()
		return nil, os.NewSyscallError("kevent add", err)
	}
	poller.events = newEventList(InitEvents)
	return poller, nil
}

// Close releases the kqueue.
func (p *Poller) Close() error {
	return os.NewSyscallError("close", unix.Close(p.fd))
}

// Control moves fd from interest old to interest mask. kqueue tracks each
// filter separately, so only the filters that changed are submitted.
func (p *Poller) Control(fd int, old, mask Interest) error {
	var changes []unix.Kevent_t
	if diff := (old ^ mask) & Readable; diff != 0 {
		changes = append(changes, kevent(fd, unix.EVFILT_READ, mask&Readable != 0))
	}
	if diff := (old ^ mask) & Writable; diff != 0 {
		changes = append(changes, kevent(fd, unix.EVFILT_WRITE, mask&Writable != 0))
	}
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.fd, changes, nil, nil)
	return os.NewSyscallError("kevent", err)
}

func kevent(fd, filter int, add bool) unix.Kevent_t {
	var ev unix.Kevent_t
	flags := unix.EV_DELETE
	if add {
		flags = unix.EV_ADD
	}
	unix.SetKevent(&ev, fd, filter, flags)
	return ev
}

// Wake triggers the user filter, interrupting a blocked Poll.
func (p *Poller) Wake() error {
	var ev unix.Kevent_t
	unix.SetKevent(&ev, 0, unix.EVFILT_USER, 0)
	ev.Fflags = unix.NOTE_TRIGGER
	_, err := unix.Kevent(p.fd, []unix.Kevent_t{ev}, nil, nil)
	return os.NewSyscallError("kevent trigger", err)
}

// Poll waits up to msec milliseconds (-1 blocks) and reports every ready
// descriptor to callback. EV_EOF and EV_ERROR are reported as both readable
// and writable.
func (p *Poller) Poll(msec int, callback func(fd int, ready Interest)) (int, error) {
	var ts *unix.Timespec
	if msec >= 0 {
		t := unix.NsecToTimespec(int64(msec) * 1e6)
		ts = &t
	}
	n, err := unix.Kevent(p.fd, nil, p.events.events, ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, os.NewSyscallError("kevent wait", err)
	}
	for i := 0; i < n; i++ {
		ev := &p.events.events[i]
		if ev.Filter == unix.EVFILT_USER {
			continue
		}
		var ready Interest
		switch ev.Filter {
		case unix.EVFILT_READ:
			ready = Readable
		case unix.EVFILT_WRITE:
			ready = Writable
		}
		if ev.Flags&(unix.EV_EOF|unix.EV_ERROR) != 0 {
			ready = Readable | Writable
		}
		callback(int(ev.Ident), ready)
	}
	if n == p.events.size && p.events.size < maxEvents {
		p.events.increase()
	}
	return n, nil
}
