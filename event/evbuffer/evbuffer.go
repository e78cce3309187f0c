// Package evbuffer implements the byte queue used by every buffered stream in
// the event core: cheap append at the tail, cheap drain at the head, and line
// framing for text protocols.
//
// A Buffer keeps its live bytes in one contiguous slice between a read offset
// and a write offset. Draining only advances the read offset; the dead prefix
// is reclaimed by compaction on a later append once it is at least half the
// capacity, or when compaction alone makes room.
package evbuffer

import (
	"bytes"
	"fmt"
	"io"

	"evmux/event/internal"
	"evmux/event/pool/bytebuffer"
)

const initSize = 1 << 12

// EOLStyle selects the line terminator ReadLine looks for.
type EOLStyle int

const (
	// EOLAny ends a line at any run of CR and LF characters.
	EOLAny EOLStyle = iota
	// EOLCRLF ends a line at LF, optionally preceded by CR.
	EOLCRLF
	// EOLCRLFStrict ends a line only at CR LF.
	EOLCRLFStrict
	// EOLLF ends a line at LF.
	EOLLF
	// EOLNUL ends a line at a NUL byte.
	EOLNUL
)

// Change describes one mutation, reported to the buffer's callback.
type Change struct {
	Orig    int // length before the mutation
	Added   int
	Deleted int
}

// Buffer is a growable byte queue. The zero value is an empty buffer ready to
// use. A Buffer is not safe for concurrent use.
type Buffer struct {
	buf []byte
	r   int
	w   int
	cb  func(Change)
}

// New returns a buffer with at least size bytes preallocated.
func New(size int) *Buffer {
	if size <= 0 {
		return &Buffer{}
	}
	return &Buffer{buf: make([]byte, internal.CeilToPowerOfTwo(size))}
}

// Len returns the number of queued bytes.
func (b *Buffer) Len() int { return b.w - b.r }

// IsEmpty reports whether nothing is queued.
func (b *Buffer) IsEmpty() bool { return b.w == b.r }

// Cap returns the size of the backing storage.
func (b *Buffer) Cap() int { return len(b.buf) }

// Bytes returns the queued bytes without consuming them. The slice aliases the
// buffer and is only valid until the next mutating call.
func (b *Buffer) Bytes() []byte { return b.buf[b.r:b.w] }

// Peek returns up to n queued bytes without consuming them, with the same
// lifetime rule as Bytes.
func (b *Buffer) Peek(n int) []byte {
	if n <= 0 {
		return nil
	}
	if n > b.Len() {
		n = b.Len()
	}
	return b.buf[b.r : b.r+n]
}

// SetCallback installs fn to be called after every mutation that adds or
// removes bytes. Nil removes it.
func (b *Buffer) SetCallback(fn func(Change)) { b.cb = fn }

// Add copies p onto the tail.
func (b *Buffer) Add(p []byte) {
	n := len(p)
	if n == 0 {
		return
	}
	orig := b.Len()
	b.grow(n)
	copy(b.buf[b.w:], p)
	b.w += n
	b.notify(orig, n, 0)
}

// Write implements io.Writer. It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	b.Add(p)
	return len(p), nil
}

// WriteString appends s.
func (b *Buffer) WriteString(s string) (int, error) {
	n := len(s)
	if n == 0 {
		return 0, nil
	}
	orig := b.Len()
	b.grow(n)
	copy(b.buf[b.w:], s)
	b.w += n
	b.notify(orig, n, 0)
	return n, nil
}

// WriteByte appends c.
func (b *Buffer) WriteByte(c byte) error {
	orig := b.Len()
	b.grow(1)
	b.buf[b.w] = c
	b.w++
	b.notify(orig, 1, 0)
	return nil
}

// Printf appends a formatted string and returns the number of bytes added.
func (b *Buffer) Printf(format string, args ...interface{}) (int, error) {
	bb := bytebuffer.Get()
	defer bytebuffer.Put(bb)
	if _, err := fmt.Fprintf(bb, format, args...); err != nil {
		return 0, err
	}
	b.Add(bb.B)
	return len(bb.B), nil
}

// Reserve makes room for n more bytes and returns the writable region at the
// tail. Nothing is queued until Commit is called.
func (b *Buffer) Reserve(n int) []byte {
	if n <= 0 {
		return nil
	}
	b.grow(n)
	return b.buf[b.w : b.w+n]
}

// Commit queues n bytes previously written into the region returned by
// Reserve.
func (b *Buffer) Commit(n int) {
	if n <= 0 {
		return
	}
	if n > len(b.buf)-b.w {
		panic("evbuffer: commit beyond reserved space")
	}
	orig := b.Len()
	b.w += n
	b.notify(orig, n, 0)
}

// Drain discards up to n bytes from the head and returns how many were
// discarded.
func (b *Buffer) Drain(n int) int {
	if n <= 0 || b.IsEmpty() {
		return 0
	}
	orig := b.Len()
	if n > orig {
		n = orig
	}
	b.drain(n)
	b.notify(orig, 0, n)
	return n
}

func (b *Buffer) drain(n int) {
	b.r += n
	if b.r == b.w {
		b.r, b.w = 0, 0
	}
}

// Read implements io.Reader: it copies and drains up to len(p) bytes. An empty
// buffer returns io.EOF.
func (b *Buffer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if b.IsEmpty() {
		return 0, io.EOF
	}
	orig := b.Len()
	n := copy(p, b.buf[b.r:b.w])
	b.drain(n)
	b.notify(orig, 0, n)
	return n, nil
}

// ReadByte removes and returns the first byte.
func (b *Buffer) ReadByte() (byte, error) {
	if b.IsEmpty() {
		return 0, io.EOF
	}
	orig := b.Len()
	c := b.buf[b.r]
	b.drain(1)
	b.notify(orig, 0, 1)
	return c, nil
}

// MoveTo appends everything queued in b onto dst and drains b. It returns the
// number of bytes moved.
func (b *Buffer) MoveTo(dst *Buffer) int {
	n := b.Len()
	if n == 0 || dst == b {
		return 0
	}
	dst.Add(b.buf[b.r:b.w])
	b.Drain(n)
	return n
}

// Search returns the offset of the first occurrence of p in the queued bytes,
// or -1.
func (b *Buffer) Search(p []byte) int {
	return bytes.Index(b.Bytes(), p)
}

// ReadLine removes the first line, terminator included, and returns a copy of
// it without the terminator. If no complete line is queued it returns
// (nil, false) and leaves the buffer untouched.
func (b *Buffer) ReadLine(style EOLStyle) ([]byte, bool) {
	data := b.Bytes()
	end, eolLen := findEOL(data, style)
	if end < 0 {
		return nil, false
	}
	line := make([]byte, end)
	copy(line, data[:end])
	orig := b.Len()
	b.drain(end + eolLen)
	b.notify(orig, 0, end+eolLen)
	return line, true
}

// Reset discards all queued bytes, keeping the storage.
func (b *Buffer) Reset() {
	orig := b.Len()
	b.r, b.w = 0, 0
	b.notify(orig, 0, orig)
}

// findEOL returns the line length and terminator length, or -1.
func findEOL(data []byte, style EOLStyle) (end, eolLen int) {
	switch style {
	case EOLAny:
		i := bytes.IndexAny(data, "\r\n")
		if i < 0 {
			return -1, 0
		}
		j := i
		for j < len(data) && (data[j] == '\r' || data[j] == '\n') {
			j++
		}
		return i, j - i
	case EOLCRLF:
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			return -1, 0
		}
		if i > 0 && data[i-1] == '\r' {
			return i - 1, 2
		}
		return i, 1
	case EOLCRLFStrict:
		i := bytes.Index(data, []byte("\r\n"))
		if i < 0 {
			return -1, 0
		}
		return i, 2
	case EOLLF:
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			return -1, 0
		}
		return i, 1
	case EOLNUL:
		i := bytes.IndexByte(data, 0)
		if i < 0 {
			return -1, 0
		}
		return i, 1
	}
	return -1, 0
}

// grow guarantees n writable bytes after the write offset, compacting the
// dead prefix or reallocating geometrically.
func (b *Buffer) grow(n int) {
	if len(b.buf)-b.w >= n {
		return
	}
	live := b.w - b.r
	if b.r > 0 && (b.r >= len(b.buf)/2 || len(b.buf)-live >= n) {
		copy(b.buf, b.buf[b.r:b.w])
		b.r, b.w = 0, live
		if len(b.buf)-b.w >= n {
			return
		}
	}
	newCap := initSize
	if need := live + n; need > newCap {
		newCap = internal.CeilToPowerOfTwo(need)
	}
	if newCap < 2*len(b.buf) {
		newCap = 2 * len(b.buf)
	}
	newBuf := make([]byte, newCap)
	copy(newBuf, b.buf[b.r:b.w])
	b.buf = newBuf
	b.r, b.w = 0, live
}

func (b *Buffer) notify(orig, added, deleted int) {
	if b.cb != nil && (added != 0 || deleted != 0) {
		b.cb(Change{Orig: orig, Added: added, Deleted: deleted})
	}
}
