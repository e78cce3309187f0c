//go:build unix

package event

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"evmux/event/internal/netpoll"
)

// maxAcceptsPerTurn bounds the connections accepted in one readiness turn.
const maxAcceptsPerTurn = 16

// accept is swapped in tests.
var accept = unix.Accept

// ErrUnsupportedProtocol is returned by Listen for networks other than unix
// and tcp.
var ErrUnsupportedProtocol = errors.New("event: unsupported protocol")

// AcceptCallback receives each accepted descriptor. The callback owns fd.
type AcceptCallback func(l *Listener, fd int)

// Listener accepts connections on a non-blocking listening socket watched by
// a persistent read event.
type Listener struct {
	once sync.Once
	base *Base
	ev   *Event
	cb   AcceptCallback

	f      *os.File
	fd     int
	ln     net.Listener
	lnaddr net.Addr

	network, addr string
}

// ParseAddr splits "tcp://host:port" or "unix://path" into network and
// address. Anything without a scheme is a unix socket path.
func ParseAddr(addr string) (network, address string) {
	network, address = "unix", addr
	if i := strings.Index(addr, "://"); i >= 0 {
		network, address = strings.ToLower(addr[:i]), addr[i+3:]
	}
	return
}

// Listen opens addr (see ParseAddr) and starts accepting on b. A stale unix
// socket file is removed first, and its directory is created with mode
// 0700. With reusePort, TCP listeners set SO_REUSEPORT.
func (b *Base) Listen(addr string, reusePort bool, cb AcceptCallback) (l *Listener, err error) {
	l = &Listener{base: b, cb: cb, fd: -1}
	l.network, l.addr = ParseAddr(addr)
	switch l.network {
	case "unix":
		if err = os.MkdirAll(filepath.Dir(l.addr), 0o700); err != nil {
			return nil, err
		}
		_ = os.RemoveAll(l.addr)
		l.ln, err = net.Listen(l.network, l.addr)
	case "tcp", "tcp4", "tcp6":
		if reusePort {
			l.ln, err = netpoll.ReusePortListen(l.network, l.addr)
		} else {
			l.ln, err = net.Listen(l.network, l.addr)
		}
	default:
		return nil, ErrUnsupportedProtocol
	}
	if err != nil {
		return nil, err
	}
	l.lnaddr = l.ln.Addr()
	if err = l.renormalize(); err != nil {
		return nil, err
	}
	l.ev = b.NewEvent(l.fd, EvRead|EvPersist, l.onAccept)
	if err = l.ev.Add(NoTimeout); err != nil {
		l.close()
		return nil, err
	}
	return l, nil
}

// renormalize duplicates the listening descriptor out of the net package
// and makes it non-blocking.
func (l *Listener) renormalize() error {
	var err error
	switch netln := l.ln.(type) {
	case *net.TCPListener:
		l.f, err = netln.File()
	case *net.UnixListener:
		l.f, err = netln.File()
	default:
		err = ErrUnsupportedProtocol
	}
	if err != nil {
		l.close()
		return err
	}
	l.fd = int(l.f.Fd())
	return unix.SetNonblock(l.fd, true)
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr { return l.lnaddr }

// Fd returns the listening descriptor.
func (l *Listener) Fd() int { return l.fd }

// Disable stops accepting without closing the socket.
func (l *Listener) Disable() error { return l.ev.Del() }

// Enable resumes accepting.
func (l *Listener) Enable() error { return l.ev.Add(NoTimeout) }

// Close stops accepting, closes the socket and removes a unix socket file.
func (l *Listener) Close() error {
	if l.ev != nil {
		l.ev.Free()
	}
	l.close()
	return nil
}

func (l *Listener) close() {
	l.once.Do(func() {
		if l.f != nil {
			l.sniffError(l.f.Close())
		}
		if l.ln != nil {
			l.sniffError(l.ln.Close())
		}
		if l.network == "unix" {
			l.sniffError(os.RemoveAll(l.addr))
		}
	})
}

func (l *Listener) sniffError(err error) {
	if err != nil {
		l.base.logger.Printf("event: listener %s: %v\n", l.addr, err)
	}
}

func (l *Listener) onAccept(fd int, _ What) {
	for i := 0; i < maxAcceptsPerTurn; i++ {
		nfd, _, err := accept(fd)
		switch err {
		case nil:
		case unix.ECONNABORTED:
			continue
		case unix.EAGAIN, unix.EINTR:
			return
		default:
			l.base.logger.Printf("event: accept on %s failed: %v\n", l.addr, err)
			return
		}
		unix.CloseOnExec(nfd)
		if err = unix.SetNonblock(nfd, true); err != nil {
			l.base.logger.Printf("event: failed to set fd:%d non-blocking: %v\n", nfd, err)
			_ = unix.Close(nfd)
			continue
		}
		if l.cb == nil {
			_ = unix.Close(nfd)
			continue
		}
		l.cb(l, nfd)
		if l.ev.freed {
			return
		}
	}
}
