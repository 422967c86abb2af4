package cache

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/x3fs/internal/format"
	"github.com/hupe1980/x3fs/resource"
)

// LRUBlockCache implements a simple LRU BlockCache bounded in bytes.
type LRUBlockCache struct {
	mu        sync.Mutex
	capacity  int64
	size      int64
	items     map[format.BlockID]*list.Element
	evictList *list.List
	rc        *resource.Controller

	hits   atomic.Int64
	misses atomic.Int64
}

type entry struct {
	id    format.BlockID
	value []byte
}

// NewLRUBlockCache creates a new LRU cache with the given capacity in bytes.
// If rc is provided, it is used to track memory usage.
func NewLRUBlockCache(capacity int64, rc *resource.Controller) *LRUBlockCache {
	return &LRUBlockCache{
		capacity:  capacity,
		items:     make(map[format.BlockID]*list.Element),
		evictList: list.New(),
		rc:        rc,
	}
}

// Get returns a cached block.
func (c *LRUBlockCache) Get(id format.BlockID) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[id]; ok {
		c.hits.Add(1)
		c.evictList.MoveToFront(ent)
		return ent.Value.(*entry).value, true
	}
	c.misses.Add(1)
	return nil, false
}

// Set caches a copy of b, replacing any previous value for id.
func (c *LRUBlockCache) Set(id format.BlockID, b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value := append([]byte(nil), b...)
	itemSize := int64(len(value))

	if ent, ok := c.items[id]; ok {
		c.evictList.MoveToFront(ent)
		oldSize := int64(len(ent.Value.(*entry).value))
		if itemSize > oldSize && !c.rc.TryAcquireMemory(itemSize-oldSize) {
			// Stale bytes must not survive a write: drop the entry.
			c.removeElement(ent)
			return
		}
		if itemSize < oldSize {
			c.rc.ReleaseMemory(oldSize - itemSize)
		}
		c.size += itemSize - oldSize
		ent.Value.(*entry).value = value
		c.evict()
		return
	}

	if itemSize > c.capacity {
		return
	}

	// Evict locally first so released memory is available to the controller.
	for c.size+itemSize > c.capacity {
		ent := c.evictList.Back()
		if ent == nil {
			break
		}
		c.removeElement(ent)
	}

	if !c.rc.TryAcquireMemory(itemSize) {
		return
	}

	element := c.evictList.PushFront(&entry{id: id, value: value})
	c.items[id] = element
	c.size += itemSize
}

// Invalidate drops the entry for id.
func (c *LRUBlockCache) Invalidate(id format.BlockID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[id]; ok {
		c.removeElement(ent)
	}
}

func (c *LRUBlockCache) evict() {
	for c.size > c.capacity {
		element := c.evictList.Back()
		if element == nil {
			break
		}
		c.removeElement(element)
	}
}

// Stats returns hit and miss counters.
func (c *LRUBlockCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *LRUBlockCache) removeElement(e *list.Element) {
	c.evictList.Remove(e)
	kv := e.Value.(*entry)
	delete(c.items, kv.id)
	itemSize := int64(len(kv.value))
	c.size -= itemSize
	c.rc.ReleaseMemory(itemSize)
}

// Size returns the current size of the cache in bytes.
func (c *LRUBlockCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Len returns the number of cached blocks.
func (c *LRUBlockCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}
