package registry

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_GetOrCreate_SameKeyReturnsSameInstance(t *testing.T) {
	r := New[string, *int]()

	a := r.GetOrCreate("x", func() *int { v := 1; return &v })
	b := r.GetOrCreate("x", func() *int { v := 2; return &v })

	assert.Same(t, a, b)
	assert.Equal(t, 1, *b)
}

func TestRegistry_GetOrCreate_DifferentKeysIndependent(t *testing.T) {
	r := New[string, int]()

	a := r.GetOrCreate("a", func() int { return 1 })
	b := r.GetOrCreate("b", func() int { return 2 })

	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_GetOrCreate_CreateCalledExactlyOncePerKeyUnderConcurrency(t *testing.T) {
	r := New[string, int]()
	var createCalls int64

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.GetOrCreate("shared", func() int {
				atomic.AddInt64(&createCalls, 1)
				return 7
			})
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, createCalls)
}

func TestRegistry_RemoveAndGet(t *testing.T) {
	r := New[string, int]()
	r.GetOrCreate("k", func() int { return 9 })

	v, ok := r.Get("k")
	assert.True(t, ok)
	assert.Equal(t, 9, v)

	assert.True(t, r.Remove("k"))
	assert.False(t, r.Remove("k"))

	_, ok = r.Get("k")
	assert.False(t, ok)
}

func TestRegistry_Keys(t *testing.T) {
	r := New[string, int]()
	r.GetOrCreate("a", func() int { return 1 })
	r.GetOrCreate("b", func() int { return 2 })

	assert.ElementsMatch(t, []string{"a", "b"}, r.Keys())
}
