package server

import "sort"

// table is an arena of T keyed by small integer handles. Handles are never
// reused, so a stale handle simply misses.
type table[ID ~uint32, T any] struct {
	next  ID
	items map[ID]*T
}

func newTable[ID ~uint32, T any]() table[ID, T] {
	return table[ID, T]{items: make(map[ID]*T)}
}

// alloc reserves the next handle.
func (t *table[ID, T]) alloc() ID {
	id := t.next
	t.next++
	return id
}

func (t *table[ID, T]) put(id ID, v *T) { t.items[id] = v }

func (t *table[ID, T]) get(id ID) (*T, bool) {
	v, ok := t.items[id]
	return v, ok
}

func (t *table[ID, T]) del(id ID) (*T, bool) {
	v, ok := t.items[id]
	if ok {
		delete(t.items, id)
	}
	return v, ok
}

func (t *table[ID, T]) len() int { return len(t.items) }

// ids returns the live handles in ascending order.
func (t *table[ID, T]) ids() []ID {
	ids := make([]ID, 0, len(t.items))
	for id := range t.items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
