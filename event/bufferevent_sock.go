//go:build unix

package event

import (
	"golang.org/x/sys/unix"
)

// ConnectUnix starts a non-blocking connect to the unix socket at path and
// returns a bufferevent that owns the socket. The event callback receives
// BevConnected once the connection is up, or BevError if it failed.
func (b *Base) ConnectUnix(path string, readcb, writecb BevCallback, eventcb BevEventCallback, opts ...BevOption) (*Bufferevent, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, &TransportError{Op: "socket", Err: err}
	}
	unix.CloseOnExec(fd)
	t, err := NewFdTransport(fd)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	bev := b.NewBufferevent(t, readcb, writecb, eventcb, append(opts, CloseOnFree())...)

	switch err = unix.Connect(fd, &unix.SockaddrUnix{Name: path}); err {
	case nil, unix.EINPROGRESS, unix.EAGAIN:
	default:
		_ = bev.Free()
		return nil, &TransportError{Op: "connect", Err: err}
	}
	bev.connecting = true
	if err = bev.writeEv.Add(bev.writeTimeout); err != nil {
		_ = bev.Free()
		return nil, err
	}
	return bev, nil
}
