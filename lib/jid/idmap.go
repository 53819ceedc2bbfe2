package jid

import "sort"

// IDMap maps IDs to values. Iteration order is unspecified; Keys returns a
// sorted slice when a stable order is needed. An IDMap is a per-call value
// and is not safe for concurrent mutation.
type IDMap[V any] struct {
	m map[ID]V
}

// NewIDMap returns an empty map with room for size entries.
func NewIDMap[V any](size int) IDMap[V] {
	return IDMap[V]{m: make(map[ID]V, size)}
}

// Put stores v under id, replacing any previous value.
func (m *IDMap[V]) Put(id ID, v V) {
	if m.m == nil {
		m.m = make(map[ID]V)
	}
	m.m[id] = v
}

// Get returns the value stored under id.
func (m IDMap[V]) Get(id ID) (V, bool) {
	v, ok := m.m[id]
	return v, ok
}

// Delete removes id from the map.
func (m IDMap[V]) Delete(id ID) {
	delete(m.m, id)
}

// Len returns the number of entries.
func (m IDMap[V]) Len() int { return len(m.m) }

// IsEmpty reports whether the map holds no entries.
func (m IDMap[V]) IsEmpty() bool { return len(m.m) == 0 }

// Clear removes every entry.
func (m IDMap[V]) Clear() {
	clear(m.m)
}

// Range calls fn for each entry until fn returns false.
func (m IDMap[V]) Range(fn func(ID, V) bool) {
	for id, v := range m.m {
		if !fn(id, v) {
			return
		}
	}
}

// Keys returns the IDs in the map sorted by their textual form.
func (m IDMap[V]) Keys() []ID {
	keys := make([]ID, 0, len(m.m))
	for id := range m.m {
		keys = append(keys, id)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}
