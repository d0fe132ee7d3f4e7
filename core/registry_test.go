package core

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryAddRemove(t *testing.T) {
	r := NewRegistry()
	a := &Conn{fd: 10}
	b := &Conn{fd: 11}

	assert.True(t, r.Add(a))
	assert.True(t, r.Add(b))
	assert.False(t, r.Add(&Conn{fd: 10}), "fd already tracked")
	assert.Equal(t, 2, r.Len())

	got, ok := r.Get(10)
	assert.True(t, ok)
	assert.Same(t, a, got)

	assert.False(t, r.Remove(&Conn{fd: 10}), "only the tracked instance is removed")
	assert.True(t, r.Remove(a))
	assert.False(t, r.Remove(a), "second remove is a no-op")
	assert.Equal(t, 1, r.Len())

	_, ok = r.Get(10)
	assert.False(t, ok)
	assert.ElementsMatch(t, []*Conn{b}, r.Snapshot())
}

func TestRegistryDrainRefusesAdds(t *testing.T) {
	r := NewRegistry()
	for fd := 0; fd < 5; fd++ {
		r.Add(&Conn{fd: fd})
	}

	drained := r.Drain()
	assert.Len(t, drained, 5)
	assert.Equal(t, 0, r.Len())
	assert.False(t, r.Add(&Conn{fd: 99}))
	assert.Empty(t, r.Drain())
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				c := &Conn{fd: base*1000 + i}
				r.Add(c)
				r.Len()
				if i%2 == 0 {
					r.Remove(c)
				}
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, 8*50, r.Len())
}
