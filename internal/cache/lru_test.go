package cache

import (
	"testing"

	"github.com/hupe1980/x3fs/resource"
	"github.com/stretchr/testify/assert"
)

func TestLRU_Eviction(t *testing.T) {
	c := NewLRUBlockCache(128, nil)

	c.Set(2, make([]byte, 64))
	c.Set(3, make([]byte, 64))
	_, ok := c.Get(2) // 2 becomes most recent
	assert.True(t, ok)

	c.Set(4, make([]byte, 64)) // evicts 3

	_, ok = c.Get(3)
	assert.False(t, ok)
	_, ok = c.Get(2)
	assert.True(t, ok)
	_, ok = c.Get(4)
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, int64(128), c.Size())

	hits, misses := c.Stats()
	assert.Equal(t, int64(3), hits)
	assert.Equal(t, int64(1), misses)
}

func TestLRU_SetCopies(t *testing.T) {
	c := NewLRUBlockCache(1024, nil)

	b := []byte("abcd")
	c.Set(5, b)
	b[0] = 'z'

	got, ok := c.Get(5)
	assert.True(t, ok)
	assert.Equal(t, "abcd", string(got))
}

func TestLRU_EdgeCases(t *testing.T) {
	c := NewLRUBlockCache(50, nil)

	c.Set(2, make([]byte, 60))
	_, ok := c.Get(2)
	assert.False(t, ok, "block larger than capacity must not be cached")

	c.Set(2, make([]byte, 10))
	c.Set(2, make([]byte, 20))
	assert.Equal(t, int64(20), c.Size())
	c.Set(2, make([]byte, 5))
	assert.Equal(t, int64(5), c.Size())

	c.Invalidate(2)
	_, ok = c.Get(2)
	assert.False(t, ok)
	assert.Equal(t, int64(0), c.Size())
}

func TestLRU_ResourceController(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 10})
	c := NewLRUBlockCache(50, rc)

	c.Set(2, make([]byte, 8))
	assert.Equal(t, int64(8), rc.MemoryUsage())

	// Growing past the controller budget drops the entry instead of keeping stale bytes.
	c.Set(2, make([]byte, 12))
	_, ok := c.Get(2)
	assert.False(t, ok)
	assert.Equal(t, int64(0), rc.MemoryUsage())

	c.Set(3, make([]byte, 4))
	c.Invalidate(3)
	assert.Equal(t, int64(0), rc.MemoryUsage())
}
