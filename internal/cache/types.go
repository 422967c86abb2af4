package cache

import "github.com/hupe1980/x3fs/internal/format"

// BlockCache caches whole blocks by id.
// Returned slices must be treated as read-only.
type BlockCache interface {
	// Get returns a cached block. ok=false if missing.
	Get(id format.BlockID) (b []byte, ok bool)
	// Set caches a copy of b.
	Set(id format.BlockID, b []byte)
	// Invalidate drops the entry for id.
	Invalidate(id format.BlockID)
	// Stats returns cache statistics.
	Stats() (hits, misses int64)
}
