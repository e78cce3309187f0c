package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTable(t *testing.T) {
	tbl := newTable[SessionID, session]()

	a, b, c := tbl.alloc(), tbl.alloc(), tbl.alloc()
	assert.Equal(t, []SessionID{0, 1, 2}, []SessionID{a, b, c})

	tbl.put(c, &session{name: "c"})
	tbl.put(a, &session{name: "a"})
	assert.Equal(t, 2, tbl.len())
	assert.Equal(t, []SessionID{a, c}, tbl.ids())

	_, ok := tbl.get(b)
	assert.False(t, ok, "allocated but never stored")

	v, ok := tbl.del(a)
	assert.True(t, ok)
	assert.Equal(t, "a", v.name)
	_, ok = tbl.del(a)
	assert.False(t, ok)

	// Handles are not reused.
	assert.Equal(t, SessionID(3), tbl.alloc())
	_, ok = tbl.get(a)
	assert.False(t, ok)
}
