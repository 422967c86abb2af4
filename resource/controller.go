// Package resource bounds the memory, worker and I/O budget of x3fs
// components that run outside the single-threaded core: the block read
// cache, snapshot transfers and host copy helpers.
package resource

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryLimit is returned for a single request larger than the whole
// memory limit. Such a request could never be granted.
var ErrMemoryLimit = errors.New("request exceeds memory limit")

// Config holds resource limits.
type Config struct {
	// MemoryLimitBytes caps memory pinned by caches.
	// If 0, usage is only tracked.
	MemoryLimitBytes int64

	// MaxTransfers is the maximum number of concurrent snapshot chunk
	// transfers. If 0, defaults to 1.
	MaxTransfers int64

	// IOLimitBytesPerSec throttles host copy and snapshot traffic.
	// If 0, unlimited.
	IOLimitBytesPerSec int64
}

// Controller hands out memory, transfer slots and I/O tokens.
// A nil *Controller imposes no limits.
type Controller struct {
	cfg Config

	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64

	transferSem *semaphore.Weighted

	ioLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxTransfers <= 0 {
		cfg.MaxTransfers = 1
	}

	c := &Controller{
		cfg:         cfg,
		transferSem: semaphore.NewWeighted(cfg.MaxTransfers),
	}

	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}

	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}

	return c
}

// Config returns the effective configuration.
func (c *Controller) Config() Config {
	if c == nil {
		return Config{MaxTransfers: 1}
	}
	return c.cfg
}

// AcquireMemory reserves memory, blocking until it is available or ctx is done.
// A request above MemoryLimitBytes fails at once with ErrMemoryLimit.
func (c *Controller) AcquireMemory(ctx context.Context, bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}
	if err := c.CheckMemory(bytes); err != nil {
		return err
	}
	if c.memSem != nil {
		if err := c.memSem.Acquire(ctx, bytes); err != nil {
			return err
		}
	}
	c.memUsed.Add(bytes)
	return nil
}

// CheckMemory reports whether a single request of bytes can ever be granted.
func (c *Controller) CheckMemory(bytes int64) error {
	if c == nil || c.cfg.MemoryLimitBytes <= 0 || bytes <= c.cfg.MemoryLimitBytes {
		return nil
	}
	return fmt.Errorf("%w: %d bytes, limit %d", ErrMemoryLimit, bytes, c.cfg.MemoryLimitBytes)
}

// TryAcquireMemory reserves memory without blocking.
// Returns false if the limit would be exceeded.
func (c *Controller) TryAcquireMemory(bytes int64) bool {
	if c == nil || bytes <= 0 {
		return true
	}
	if c.memSem != nil && !c.memSem.TryAcquire(bytes) {
		return false
	}
	c.memUsed.Add(bytes)
	return true
}

// ReleaseMemory releases reserved memory.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}
	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the current memory usage in bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// AcquireTransfer reserves a transfer slot, blocking while all are busy.
func (c *Controller) AcquireTransfer(ctx context.Context) error {
	if c == nil {
		return ctx.Err()
	}
	return c.transferSem.Acquire(ctx, 1)
}

// TryAcquireTransfer reserves a transfer slot without blocking.
func (c *Controller) TryAcquireTransfer() bool {
	if c == nil {
		return true
	}
	return c.transferSem.TryAcquire(1)
}

// ReleaseTransfer releases a transfer slot.
func (c *Controller) ReleaseTransfer() {
	if c == nil {
		return
	}
	c.transferSem.Release(1)
}

// AcquireIO waits until the I/O limit admits the given number of bytes.
// Requests larger than the burst are split.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil || c.ioLimiter == nil {
		return nil
	}
	burst := c.ioLimiter.Burst()
	for bytes > 0 {
		n := min(bytes, burst)
		if err := c.ioLimiter.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}
	return nil
}
