// Package bytebuffer hands out pooled, growable scratch buffers.
package bytebuffer

import "github.com/valyala/bytebufferpool"

// ByteBuffer is the pooled buffer type.
type ByteBuffer = bytebufferpool.ByteBuffer

// Get returns an empty buffer from the pool.
func Get() *ByteBuffer { return bytebufferpool.Get() }

// Put returns b to the pool. Nil is ignored.
func Put(b *ByteBuffer) {
	if b != nil {
		bytebufferpool.Put(b)
	}
}
