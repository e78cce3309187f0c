package event

// Transport is the non-blocking byte stream under a Bufferevent.
//
// TryRead and TryWrite never block. They return ErrWouldBlock when no
// progress is possible right now, and TryRead returns io.EOF on an orderly
// close. Any other error is a transport failure.
type Transport interface {
	// Fd is the descriptor whose readiness drives the transport.
	Fd() int
	TryRead(p []byte) (int, error)
	TryWrite(p []byte) (int, error)
	Close() error
}
