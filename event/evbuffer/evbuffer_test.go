package evbuffer

import (
	"bytes"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendDrainKeepsOrder(t *testing.T) {
	var b Buffer
	b.Add([]byte("hello "))
	_, _ = b.WriteString("world")
	require.Equal(t, 11, b.Len())
	assert.Equal(t, "hello world", string(b.Bytes()))

	assert.Equal(t, 6, b.Drain(6))
	assert.Equal(t, "world", string(b.Bytes()))
	assert.Equal(t, "wor", string(b.Peek(3)))
	assert.Equal(t, "world", string(b.Peek(100)))
	assert.Nil(t, b.Peek(0))
}

func TestDrainClampsToLength(t *testing.T) {
	b := New(16)
	b.Add([]byte("abc"))
	assert.Equal(t, 3, b.Drain(10))
	assert.Equal(t, 0, b.Len())
	assert.True(t, b.IsEmpty())
	assert.Equal(t, 0, b.Drain(1))
	assert.Equal(t, 0, b.Drain(-1))
}

func TestRandomAppendDrainMatchesModel(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var b Buffer
	var model []byte
	var appended, drained int
	for i := 0; i < 5000; i++ {
		if rng.Intn(3) > 0 {
			chunk := make([]byte, rng.Intn(700))
			rng.Read(chunk)
			b.Add(chunk)
			model = append(model, chunk...)
			appended += len(chunk)
		} else {
			n := rng.Intn(1500)
			got := b.Drain(n)
			if n > len(model) {
				n = len(model)
			}
			require.Equal(t, n, got)
			model = model[n:]
			drained += n
		}
		require.Equal(t, appended-drained, b.Len())
		require.True(t, bytes.Equal(model, b.Bytes()))
	}
}

func TestCompactionBoundsCapacity(t *testing.T) {
	var b Buffer
	chunk := bytes.Repeat([]byte("x"), 1000)
	b.Add(chunk[:100])
	for i := 0; i < 10000; i++ {
		b.Add(chunk)
		b.Drain(1000)
	}
	assert.Equal(t, initSize, b.Cap())
	assert.Equal(t, 100, b.Len())
}

func TestGrowthPreservesContent(t *testing.T) {
	b := New(4)
	var want []byte
	for i := 0; i < 100; i++ {
		p := bytes.Repeat([]byte{byte(i)}, i*37)
		b.Add(p)
		want = append(want, p...)
		if i%3 == 0 && len(want) >= 11 {
			b.Drain(11)
			want = want[11:]
		}
	}
	assert.Equal(t, want, b.Bytes())
}

func TestReadAndReadByte(t *testing.T) {
	var b Buffer
	b.Add([]byte("abcdef"))
	p := make([]byte, 4)
	n, err := b.Read(p)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(p[:n]))

	c, err := b.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte('e'), c)

	n, err = b.Read(p)
	require.NoError(t, err)
	assert.Equal(t, "f", string(p[:n]))

	_, err = b.Read(p)
	assert.Equal(t, io.EOF, err)
	_, err = b.ReadByte()
	assert.Equal(t, io.EOF, err)
}

func TestReserveCommit(t *testing.T) {
	var b Buffer
	b.Add([]byte("ab"))
	space := b.Reserve(3)
	require.Len(t, space, 3)
	copy(space, "cde")
	assert.Equal(t, 2, b.Len())
	b.Commit(2)
	assert.Equal(t, "abcd", string(b.Bytes()))
	assert.Panics(t, func() { b.Commit(b.Cap()) })
}

func TestMoveToAndSearch(t *testing.T) {
	var src, dst Buffer
	src.Add([]byte("needle in haystack"))
	assert.Equal(t, 7, src.Search([]byte("in")))
	assert.Equal(t, -1, src.Search([]byte("pin")))

	dst.Add([]byte(">"))
	assert.Equal(t, 18, src.MoveTo(&dst))
	assert.True(t, src.IsEmpty())
	assert.Equal(t, ">needle in haystack", string(dst.Bytes()))
}

func TestPrintf(t *testing.T) {
	var b Buffer
	n, err := b.Printf("%%begin %d %d %d\n", 1700000000, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, b.Len(), n)
	assert.Equal(t, "%begin 1700000000 3 0\n", string(b.Bytes()))
}

func TestReadLineStyles(t *testing.T) {
	tests := []struct {
		name  string
		style EOLStyle
		in    string
		lines []string
		rest  string
	}{
		{"lf", EOLLF, "one\ntwo\r\nthree", []string{"one", "two\r"}, "three"},
		{"crlf", EOLCRLF, "one\r\ntwo\nthree", []string{"one", "two"}, "three"},
		{"crlf strict", EOLCRLFStrict, "one\ntwo\r\nthree", []string{"one\ntwo"}, "three"},
		{"any", EOLAny, "one\r\n\r\ntwo\rthree", []string{"one", "two"}, "three"},
		{"nul", EOLNUL, "one\x00two\x00\n", []string{"one", "two"}, "\n"},
		{"empty line", EOLLF, "\nx", []string{""}, "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b Buffer
			b.Add([]byte(tt.in))
			var got []string
			for {
				line, ok := b.ReadLine(tt.style)
				if !ok {
					break
				}
				got = append(got, string(line))
			}
			assert.Equal(t, tt.lines, got)
			assert.Equal(t, tt.rest, string(b.Bytes()))
		})
	}
}

func TestReadLinePartialLeavesBufferUntouched(t *testing.T) {
	var b Buffer
	b.Add([]byte("partial\r"))
	line, ok := b.ReadLine(EOLCRLFStrict)
	assert.False(t, ok)
	assert.Nil(t, line)
	assert.Equal(t, "partial\r", string(b.Bytes()))

	b.Add([]byte("\nnext"))
	line, ok = b.ReadLine(EOLCRLFStrict)
	require.True(t, ok)
	assert.Equal(t, "partial", string(line))
	assert.Equal(t, "next", string(b.Bytes()))
}

func TestReadLineReturnsCopy(t *testing.T) {
	var b Buffer
	b.Add([]byte("abc\ndef\n"))
	line, ok := b.ReadLine(EOLLF)
	require.True(t, ok)
	b.Add(bytes.Repeat([]byte("z"), 3*initSize))
	assert.Equal(t, "abc", string(line))
}

func TestCallbackReportsChanges(t *testing.T) {
	var b Buffer
	var changes []Change
	b.SetCallback(func(c Change) { changes = append(changes, c) })

	b.Add([]byte("abcd"))
	b.Drain(1)
	_, _ = b.ReadLine(EOLLF)
	b.Add([]byte("\n"))
	_, _ = b.ReadLine(EOLLF)
	b.Reset()
	b.Add(nil)

	assert.Equal(t, []Change{
		{Orig: 0, Added: 4},
		{Orig: 4, Deleted: 1},
		{Orig: 3, Added: 1},
		{Orig: 4, Deleted: 4},
	}, changes)

	b.SetCallback(nil)
	b.Add([]byte("x"))
	assert.Len(t, changes, 4)
}
