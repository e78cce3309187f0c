//go:build unix

package event

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// FdTransport is a Transport over a raw non-blocking descriptor: a socket,
// a pipe or a PTY master.
type FdTransport struct {
	fd int
	// file owns fd when the transport was built from an *os.File.
	file   *os.File
	closed bool
}

// NewFdTransport takes ownership of fd and switches it to non-blocking
// mode.
func NewFdTransport(fd int) (*FdTransport, error) {
	if fd < 0 {
		return nil, ErrInvalidDescriptor
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, os.NewSyscallError("setnonblock", err)
	}
	return &FdTransport{fd: fd}, nil
}

// NewFileTransport wraps f. The file stays referenced by the transport so
// its finalizer cannot close the descriptor underneath the loop; Close
// closes f.
func NewFileTransport(f *os.File) (*FdTransport, error) {
	rc, err := f.SyscallConn()
	if err != nil {
		return nil, err
	}
	fd := -1
	if err = rc.Control(func(s uintptr) { fd = int(s) }); err != nil {
		return nil, err
	}
	t, err := NewFdTransport(fd)
	if err != nil {
		return nil, err
	}
	t.file = f
	return t, nil
}

// Fd returns the descriptor.
func (t *FdTransport) Fd() int { return t.fd }

// TryRead reads into p without blocking.
func (t *FdTransport) TryRead(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := unix.Read(t.fd, p)
	switch {
	case err == unix.EAGAIN || err == unix.EINTR:
		return 0, ErrWouldBlock
	case err != nil:
		return 0, &TransportError{Op: "read", Err: os.NewSyscallError("read", err)}
	case n == 0:
		return 0, io.EOF
	}
	return n, nil
}

// TryWrite writes from p without blocking.
func (t *FdTransport) TryWrite(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := unix.Write(t.fd, p)
	switch {
	case err == unix.EAGAIN || err == unix.EINTR:
		return 0, ErrWouldBlock
	case err != nil:
		return 0, &TransportError{Op: "write", Err: os.NewSyscallError("write", err)}
	}
	return n, nil
}

// SocketError returns the pending SO_ERROR of a socket, used to learn the
// outcome of a non-blocking connect.
func (t *FdTransport) SocketError() error {
	v, err := unix.GetsockoptInt(t.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return &TransportError{Op: "getsockopt", Err: os.NewSyscallError("getsockopt", err)}
	}
	if v != 0 {
		return &TransportError{Op: "connect", Err: os.NewSyscallError("connect", unix.Errno(v))}
	}
	return nil
}

// Close closes the descriptor once.
func (t *FdTransport) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	if t.file != nil {
		return t.file.Close()
	}
	return os.NewSyscallError("close", unix.Close(t.fd))
}
