package event

import (
	"errors"
	"io"
	"strings"
	"time"

	"evmux/event/evbuffer"
)

const (
	// readSize bounds a single TryRead.
	readSize = 4096
	// defaultChunk bounds the bytes moved per direction per loop turn.
	defaultChunk = 16 * 1024
)

// BevEvent is the set of flags passed to a bufferevent's event callback.
type BevEvent uint16

const (
	// BevReading marks a condition seen while reading.
	BevReading BevEvent = 0x01
	// BevWriting marks a condition seen while writing.
	BevWriting BevEvent = 0x02
	// BevEOF reports an orderly close by the peer.
	BevEOF BevEvent = 0x10
	// BevError reports a transport failure; see Bufferevent.Err.
	BevError BevEvent = 0x20
	// BevTimeout reports that a read or write timeout elapsed.
	BevTimeout BevEvent = 0x40
	// BevConnected reports that a non-blocking connect finished.
	BevConnected BevEvent = 0x80
)

func (e BevEvent) String() string {
	if e == 0 {
		return "none"
	}
	var parts []string
	for _, f := range []struct {
		bit  BevEvent
		name string
	}{
		{BevReading, "reading"},
		{BevWriting, "writing"},
		{BevEOF, "eof"},
		{BevError, "error"},
		{BevTimeout, "timeout"},
		{BevConnected, "connected"},
	} {
		if e&f.bit != 0 {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "|")
}

// BevCallback is a read or write callback.
type BevCallback func(bev *Bufferevent)

// BevEventCallback receives EOF, error, timeout and connect notifications.
type BevEventCallback func(bev *Bufferevent, what BevEvent)

// BevOption configures a Bufferevent.
type BevOption func(bev *Bufferevent)

// CloseOnFree makes Free close the transport.
func CloseOnFree() BevOption {
	return func(bev *Bufferevent) {
		bev.closeOnFree = true
	}
}

// WithReadChunk bounds the bytes read or written per direction in a single
// loop turn.
func WithReadChunk(n int) BevOption {
	return func(bev *Bufferevent) {
		if n > 0 {
			bev.chunk = n
		}
	}
}

type watermark struct {
	low, high int
}

// Bufferevent pairs a Transport with an input and an output buffer and
// drives both through two persistent events on the base. All methods must
// be called on the loop goroutine.
type Bufferevent struct {
	base    *Base
	t       Transport
	readEv  *Event
	writeEv *Event
	input   *evbuffer.Buffer
	output  *evbuffer.Buffer

	readcb  BevCallback
	writecb BevCallback
	eventcb BevEventCallback

	enabled      What
	readWM       watermark
	writeWM      watermark
	readTimeout  time.Duration
	writeTimeout time.Duration

	// suspended is set while reading is paused by the high watermark.
	suspended  bool
	connecting bool

	chunk       int
	closeOnFree bool
	err         error
	freed       bool
}

// NewBufferevent creates a bufferevent over t with both directions
// disabled. Free does not close t unless CloseOnFree is given.
func (b *Base) NewBufferevent(t Transport, readcb, writecb BevCallback, eventcb BevEventCallback, opts ...BevOption) *Bufferevent {
	bev := &Bufferevent{
		base:         b,
		t:            t,
		input:        evbuffer.New(0),
		output:       evbuffer.New(0),
		readcb:       readcb,
		writecb:      writecb,
		eventcb:      eventcb,
		readTimeout:  NoTimeout,
		writeTimeout: NoTimeout,
		chunk:        defaultChunk,
	}
	for _, opt := range opts {
		opt(bev)
	}
	bev.readEv = b.NewEvent(t.Fd(), EvRead|EvPersist, bev.onRead)
	bev.writeEv = b.NewEvent(t.Fd(), EvWrite|EvPersist, bev.onWrite)
	bev.input.SetCallback(bev.onInputChange)
	bev.output.SetCallback(bev.onOutputChange)
	return bev
}

// Transport returns the underlying transport.
func (bev *Bufferevent) Transport() Transport { return bev.t }

// Base returns the base the bufferevent runs on.
func (bev *Bufferevent) Base() *Base { return bev.base }

// Input returns the buffer incoming bytes are appended to.
func (bev *Bufferevent) Input() *evbuffer.Buffer { return bev.input }

// Output returns the buffer drained to the transport.
func (bev *Bufferevent) Output() *evbuffer.Buffer { return bev.output }

// Err returns the transport error behind the last BevError.
func (bev *Bufferevent) Err() error { return bev.err }

// Enabled returns the enabled directions.
func (bev *Bufferevent) Enabled() What { return bev.enabled }

// SetCallbacks replaces all three callbacks.
func (bev *Bufferevent) SetCallbacks(readcb, writecb BevCallback, eventcb BevEventCallback) {
	bev.readcb, bev.writecb, bev.eventcb = readcb, writecb, eventcb
}

// Enable turns on the directions in what. Enabling read also lifts a
// high-watermark suspension.
func (bev *Bufferevent) Enable(what What) error {
	if bev.freed {
		return ErrBuffereventFreed
	}
	what &= EvRead | EvWrite
	bev.enabled |= what
	if what&EvRead != 0 {
		bev.suspended = false
		if err := bev.readEv.Add(bev.readTimeout); err != nil {
			return err
		}
	}
	if what&EvWrite != 0 && !bev.output.IsEmpty() {
		// A pending write keeps its original timeout.
		if pending, _ := bev.writeEv.Pending(EvWrite); pending == 0 {
			if err := bev.writeEv.Add(bev.writeTimeout); err != nil {
				return err
			}
		}
	}
	return nil
}

// Disable turns off the directions in what. Buffered data is kept.
func (bev *Bufferevent) Disable(what What) error {
	if bev.freed {
		return ErrBuffereventFreed
	}
	bev.disable(what)
	return nil
}

func (bev *Bufferevent) disable(what What) {
	what &= EvRead | EvWrite
	bev.enabled &^= what
	if what&EvRead != 0 {
		bev.suspended = false
		_ = bev.readEv.Del()
	}
	if what&EvWrite != 0 && !bev.connecting {
		_ = bev.writeEv.Del()
	}
}

// SetWatermark sets the low and high watermarks of the directions in what.
// A zero high watermark means unlimited.
func (bev *Bufferevent) SetWatermark(what What, low, high int) {
	if what&EvWrite != 0 {
		bev.writeWM = watermark{low: low, high: high}
	}
	if what&EvRead != 0 {
		bev.readWM = watermark{low: low, high: high}
		switch {
		case high > 0 && bev.input.Len() >= high:
			bev.suspendRead()
		case bev.suspended:
			bev.resumeRead()
		}
	}
}

// SetTimeouts sets the read and write inactivity timeouts. A value <= 0
// disables the timeout. Armed events pick up the new value at once.
func (bev *Bufferevent) SetTimeouts(read, write time.Duration) {
	if read <= 0 {
		read = NoTimeout
	}
	if write <= 0 {
		write = NoTimeout
	}
	bev.readTimeout, bev.writeTimeout = read, write
	if bev.freed {
		return
	}
	if pending, _ := bev.readEv.Pending(EvRead); pending != 0 {
		_ = bev.readEv.Add(read)
	}
	if pending, _ := bev.writeEv.Pending(EvWrite); pending != 0 {
		_ = bev.writeEv.Add(write)
	}
}

// Write queues p on the output buffer. It is safe to call from inside any
// of the bufferevent's callbacks.
func (bev *Bufferevent) Write(p []byte) (int, error) {
	if bev.freed {
		return 0, ErrBuffereventFreed
	}
	bev.output.Add(p)
	return len(p), nil
}

// WriteString queues s on the output buffer.
func (bev *Bufferevent) WriteString(s string) (int, error) {
	return bev.Write([]byte(s))
}

// WriteBuffer moves everything in src onto the output buffer.
func (bev *Bufferevent) WriteBuffer(src *evbuffer.Buffer) error {
	if bev.freed {
		return ErrBuffereventFreed
	}
	src.MoveTo(bev.output)
	return nil
}

// Flush writes as much of the output buffer as the transport takes right
// now, ignoring the per-turn budget. No callbacks run.
func (bev *Bufferevent) Flush() error {
	if bev.freed {
		return ErrBuffereventFreed
	}
	for !bev.output.IsEmpty() {
		n, err := bev.drainOutput()
		bev.base.metrics.written(n)
		if errors.Is(err, ErrWouldBlock) {
			return nil
		}
		if err != nil {
			bev.err = err
			return err
		}
	}
	_ = bev.writeEv.Del()
	return nil
}

// Free deletes both events and drops the callbacks. The transport is closed
// only with CloseOnFree. Free may be called from inside a callback; the
// bufferevent does no further work afterwards.
func (bev *Bufferevent) Free() error {
	if bev.freed {
		return nil
	}
	bev.freed = true
	bev.readEv.Free()
	bev.writeEv.Free()
	bev.input.SetCallback(nil)
	bev.output.SetCallback(nil)
	bev.readcb, bev.writecb, bev.eventcb = nil, nil, nil
	bev.enabled = 0
	if bev.closeOnFree {
		return bev.t.Close()
	}
	return nil
}

func (bev *Bufferevent) onInputChange(c evbuffer.Change) {
	if c.Deleted > 0 && bev.suspended && bev.input.Len() < bev.readWM.high {
		bev.resumeRead()
	}
}

func (bev *Bufferevent) onOutputChange(c evbuffer.Change) {
	if c.Added > 0 && bev.enabled&EvWrite != 0 {
		if pending, _ := bev.writeEv.Pending(EvWrite); pending == 0 {
			_ = bev.writeEv.Add(bev.writeTimeout)
		}
	}
}

func (bev *Bufferevent) suspendRead() {
	if bev.suspended {
		return
	}
	bev.suspended = true
	_ = bev.readEv.Del()
}

func (bev *Bufferevent) resumeRead() {
	bev.suspended = false
	if bev.enabled&EvRead != 0 {
		_ = bev.readEv.Add(bev.readTimeout)
	}
}

// fill reads from the transport until it would block, fails, or the turn
// budget runs out. Reads never take the input past the high watermark.
func (bev *Bufferevent) fill() (total int, err error) {
	budget := bev.chunk
	if high := bev.readWM.high; high > 0 {
		if room := high - bev.input.Len(); room < budget {
			budget = room
		}
	}
	for total < budget {
		size := budget - total
		if size > readSize {
			size = readSize
		}
		var n int
		n, err = bev.t.TryRead(bev.input.Reserve(size))
		if n > 0 {
			bev.input.Commit(n)
			total += n
		}
		if err != nil {
			return
		}
		if n == 0 {
			return total, ErrWouldBlock
		}
	}
	return
}

func (bev *Bufferevent) drainOutput() (total int, err error) {
	for !bev.output.IsEmpty() && total < bev.chunk {
		p := bev.output.Bytes()
		if rem := bev.chunk - total; len(p) > rem {
			p = p[:rem]
		}
		var n int
		n, err = bev.t.TryWrite(p)
		if n > 0 {
			bev.output.Drain(n)
			total += n
		}
		if err != nil {
			return
		}
		if n == 0 {
			return total, ErrWouldBlock
		}
	}
	return
}

func (bev *Bufferevent) onRead(_ int, what What) {
	if what&EvRead == 0 {
		bev.emit(BevReading | BevTimeout)
		return
	}
	if high := bev.readWM.high; high > 0 && bev.input.Len() >= high {
		// Enabled again while still full: wait for a drain.
		bev.suspendRead()
		return
	}
	total, err := bev.fill()
	bev.base.metrics.read(total)
	if high := bev.readWM.high; high > 0 && bev.input.Len() >= high {
		bev.suspendRead()
	}
	if total > 0 && bev.input.Len() >= bev.readWM.low && bev.readcb != nil {
		bev.readcb(bev)
		if bev.freed {
			return
		}
	}
	switch {
	case err == nil || errors.Is(err, ErrWouldBlock):
	case errors.Is(err, io.EOF):
		bev.fail(BevReading|BevEOF, nil)
	default:
		bev.fail(BevReading|BevError, err)
	}
}

func (bev *Bufferevent) onWrite(_ int, what What) {
	if what&EvWrite == 0 {
		bev.emit(BevWriting | BevTimeout)
		return
	}
	if bev.connecting {
		bev.connecting = false
		if se, ok := bev.t.(interface{ SocketError() error }); ok {
			if err := se.SocketError(); err != nil {
				bev.fail(BevError, err)
				return
			}
		}
		bev.emit(BevConnected)
		if bev.freed {
			return
		}
		if bev.enabled&EvWrite == 0 || bev.output.IsEmpty() {
			_ = bev.writeEv.Del()
			return
		}
	}
	total, err := bev.drainOutput()
	bev.base.metrics.written(total)
	if err != nil && !errors.Is(err, ErrWouldBlock) {
		bev.fail(BevWriting|BevError, err)
		return
	}
	if bev.output.IsEmpty() {
		_ = bev.writeEv.Del()
	}
	if total > 0 && bev.output.Len() <= bev.writeWM.low && bev.writecb != nil {
		bev.writecb(bev)
	}
}

// fail records err, stops both directions and reports what once.
func (bev *Bufferevent) fail(what BevEvent, err error) {
	bev.err = err
	bev.disable(EvRead | EvWrite)
	bev.emit(what)
}

func (bev *Bufferevent) emit(what BevEvent) {
	if bev.eventcb != nil {
		bev.eventcb(bev, what)
	}
}
