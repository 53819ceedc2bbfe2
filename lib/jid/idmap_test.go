package jid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDMapBasics(t *testing.T) {
	var m IDMap[int]
	assert.True(t, m.IsEmpty())
	assert.Equal(t, 0, m.Len())

	a := MustParse("alice@example.org/a")
	b := MustParse("alice@example.org/b")
	m.Put(b, 2)
	m.Put(a, 1)

	assert.False(t, m.IsEmpty())
	assert.Equal(t, []ID{a, b}, m.Keys())

	v, ok := m.Get(a)
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	m.Delete(a)
	_, ok = m.Get(a)
	assert.False(t, ok)

	m.Clear()
	assert.True(t, m.IsEmpty())
}

func TestIDMapRangeStopsEarly(t *testing.T) {
	m := NewIDMap[int](3)
	m.Put(MustParse("a@x/1"), 1)
	m.Put(MustParse("a@x/2"), 2)
	m.Put(MustParse("a@x/3"), 3)

	visited := 0
	m.Range(func(ID, int) bool {
		visited++
		return false
	})
	assert.Equal(t, 1, visited)
}
