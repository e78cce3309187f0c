package event

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"evmux/internal/clock"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeBackend reports the readiness in ready on every Wait for the fds with
// matching interest. When nothing is ready it advances the fake clock by the
// poll timeout, or blocks until Wake when the timeout is infinite.
type fakeBackend struct {
	interest   map[int]What
	ready      map[int]What
	clock      *clock.FakeClock
	wake       chan struct{}
	waits      []time.Duration
	controlErr error
	closed     bool
}

func newFakeBackend(c *clock.FakeClock) *fakeBackend {
	return &fakeBackend{
		interest: make(map[int]What),
		ready:    make(map[int]What),
		clock:    c,
		wake:     make(chan struct{}, 1),
	}
}

func (f *fakeBackend) Control(fd int, old, mask What) error {
	if f.controlErr != nil {
		return f.controlErr
	}
	if mask == 0 {
		delete(f.interest, fd)
	} else {
		f.interest[fd] = mask
	}
	return nil
}

func (f *fakeBackend) Wait(timeout time.Duration, ready func(fd int, what What)) error {
	f.waits = append(f.waits, timeout)
	fds := make([]int, 0, len(f.ready))
	for fd := range f.ready {
		fds = append(fds, fd)
	}
	sort.Ints(fds)
	fired := false
	for _, fd := range fds {
		if w := f.ready[fd] & f.interest[fd]; w != 0 {
			ready(fd, w)
			fired = true
		}
	}
	if fired {
		return nil
	}
	switch {
	case timeout < 0:
		<-f.wake
	case timeout > 0 && f.clock != nil:
		f.clock.Advance(timeout)
	}
	select {
	case <-f.wake:
	default:
	}
	return nil
}

func (f *fakeBackend) Wake() error {
	select {
	case f.wake <- struct{}{}:
	default:
	}
	return nil
}

func (f *fakeBackend) Close() error {
	f.closed = true
	return nil
}

type step struct {
	data string
	err  error
}

// scriptTransport replays read steps in order. A data step may be consumed
// over several reads; an io.EOF step is sticky; once the script runs out
// every read would block.
type scriptTransport struct {
	fd         int
	reads      []step
	readCalls  int
	written    []byte
	writeLimit int
	writeErr   error
	closed     bool
}

func (s *scriptTransport) Fd() int { return s.fd }

func (s *scriptTransport) TryRead(p []byte) (int, error) {
	s.readCalls++
	if len(s.reads) == 0 {
		return 0, ErrWouldBlock
	}
	st := &s.reads[0]
	if st.err != nil {
		if !errors.Is(st.err, io.EOF) {
			s.reads = s.reads[1:]
		}
		return 0, st.err
	}
	n := copy(p, st.data)
	st.data = st.data[n:]
	if st.data == "" {
		s.reads = s.reads[1:]
	}
	return n, nil
}

func (s *scriptTransport) TryWrite(p []byte) (int, error) {
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	n := len(p)
	if s.writeLimit > 0 && n > s.writeLimit {
		n = s.writeLimit
	}
	s.written = append(s.written, p[:n]...)
	return n, nil
}

func (s *scriptTransport) Close() error {
	s.closed = true
	return nil
}

type testLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *testLogger) Printf(format string, args ...interface{}) {
	l.mu.Lock()
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func newTestBase(t *testing.T, opts ...Option) (*Base, *fakeBackend, *clock.FakeClock) {
	t.Helper()
	c := clock.Fake(epoch)
	be := newFakeBackend(c)
	b, err := NewBase(append([]Option{WithBackend(be), WithClock(c), WithLogger(&testLogger{})}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b, be, c
}
