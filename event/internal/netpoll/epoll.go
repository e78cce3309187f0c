//go:build linux

package netpoll

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Poller is a level-triggered epoll instance plus an eventfd used by Wake.
type Poller struct {
	fd     int
	wfd    int
	wbuf   []byte
	events *eventList
}

// OpenPoller creates the epoll instance and registers the wake-up eventfd.
func OpenPoller() (poller *Poller, err error) {
	poller = new(Poller)
	if poller.fd, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC); err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	if poller.wfd, err = unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC); err != nil {
		_ = unix.Close(poller.fd)
		return nil, os.NewSyscallError("eventfd", err)
	}
	ev := unix.EpollEvent{Fd: int32(poller.wfd), Events: unix.EPOLLIN}
	if err = unix.EpollCtl(poller.fd, unix.EPOLL_CTL_ADD, poller.wfd, &ev); err != nil {
		_ = poller.Close()
		return nil, os.NewSyscallError("epoll_ctl add", err)
	}
	one := uint64(1)
	poller.wbuf = (*(*[8]byte)(unsafe.Pointer(&one)))[:]
	poller.events = newEventList(InitEvents)
	return poller, nil
}

// Close releases the epoll instance and the eventfd.
func (p *Poller) Close() error {
	_ = unix.Close(p.wfd)
	return os.NewSyscallError("close", unix.Close(p.fd))
}

// Control moves fd from interest old to interest mask, adding, modifying or
// deleting the registration as needed.
func (p *Poller) Control(fd int, old, mask Interest) error {
	if old == mask {
		return nil
	}
	ev := unix.EpollEvent{Fd: int32(fd), Events: epollMask(mask)}
	switch {
	case old == 0:
		return os.NewSyscallError("epoll_ctl add", unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &ev))
	case mask == 0:
		return os.NewSyscallError("epoll_ctl del", unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, &ev))
	default:
		return os.NewSyscallError("epoll_ctl mod", unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &ev))
	}
}

// Wake interrupts a Poll blocked in another goroutine.
func (p *Poller) Wake() error {
	if _, err := unix.Write(p.wfd, p.wbuf); err != nil && err != unix.EAGAIN {
		return os.NewSyscallError("write", err)
	}
	return nil
}

// Poll waits up to msec milliseconds (-1 blocks) and reports every ready
// descriptor to callback. Hang-ups and errors are reported as both readable
// and writable so that whichever side is watching observes the failure.
func (p *Poller) Poll(msec int, callback func(fd int, ready Interest)) (int, error) {
	n, err := unix.EpollWait(p.fd, p.events.events, msec)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, os.NewSyscallError("epoll_wait", err)
	}
	var drain [8]byte
	for i := 0; i < n; i++ {
		ev := &p.events.events[i]
		fd := int(ev.Fd)
		if fd == p.wfd {
			_, _ = unix.Read(p.wfd, drain[:])
			continue
		}
		var ready Interest
		if ev.Events&InEvents != 0 {
			ready |= Readable
		}
		if ev.Events&OutEvents != 0 {
			ready |= Writable
		}
		if ev.Events&ErrEvents != 0 {
			ready |= Readable | Writable
		}
		callback(fd, ready)
	}
	if n == p.events.size {
		p.events.expand()
	} else if n < p.events.size>>1 {
		p.events.shrink()
	}
	return n, nil
}
