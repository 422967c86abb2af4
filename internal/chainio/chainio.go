// Package chainio moves bytes between a caller buffer and the block chain of
// an open file, translating the descriptor offset into a (block, offset)
// pair by following the allocation table.
//
// Blocks are allocated lazily: a write links a new block only when it has
// bytes to put in it. A write that runs out of space keeps everything it
// already wrote and reports the count alongside ErrNoFreeSpace.
package chainio

import (
	"fmt"
	"math"

	"github.com/hupe1980/x3fs/internal/blockdev"
	"github.com/hupe1980/x3fs/internal/fat"
	"github.com/hupe1980/x3fs/internal/fdtable"
	"github.com/hupe1980/x3fs/internal/format"
)

// Engine performs chained transfers against one device and its table.
type Engine struct {
	dev *blockdev.Device
	fat *fat.Table
}

// New returns an engine over dev and tbl.
func New(dev *blockdev.Device, tbl *fat.Table) *Engine {
	return &Engine{dev: dev, fat: tbl}
}

// Write writes p at the descriptor offset and advances it. The descriptor's
// FCB snapshot gets the new head and size and is marked dirty; the caller
// persists the allocation table.
func (e *Engine) Write(d *fdtable.Descriptor, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if d.Offset < 0 || d.Offset > d.Size() {
		return 0, format.ErrInvalidOffset
	}
	if d.Offset+int64(len(p)) > math.MaxUint32 {
		return 0, fmt.Errorf("%w: file would exceed %d bytes", format.ErrInvalidArgument, uint32(math.MaxUint32))
	}

	if !d.FCB.Head.Allocated() {
		head, err := e.fat.Allocate(format.NoBlock)
		if err != nil {
			return 0, err
		}
		d.FCB.Head = head
		d.Dirty = true
	}

	bs := int64(e.dev.BlockSize())
	blk, err := e.walk(d.FCB.Head, d.Offset/bs, true)
	if err != nil {
		return 0, err
	}

	written := 0
	for {
		inBlock := int(d.Offset % bs)
		n := min(int(bs)-inBlock, len(p)-written)
		m, err := e.dev.WriteAt(blk, inBlock, p[written:written+n])
		written += m
		e.advance(d, m)
		if err != nil {
			return written, err
		}
		if written == len(p) {
			return written, nil
		}
		blk, err = e.step(blk, true)
		if err != nil {
			return written, err
		}
	}
}

// Read fills p from the descriptor offset, never past the file size, and
// advances the offset. It returns 0, nil at end of file.
func (e *Engine) Read(d *fdtable.Descriptor, p []byte) (int, error) {
	size := d.Size()
	if d.Offset < 0 || d.Offset > size {
		return 0, format.ErrInvalidOffset
	}
	want := int(min(int64(len(p)), size-d.Offset))
	if want == 0 {
		return 0, nil
	}
	if !d.FCB.Head.Allocated() {
		return 0, fmt.Errorf("%w: %q has size %d but no blocks", format.ErrCorrupt, d.Name(), size)
	}

	bs := int64(e.dev.BlockSize())
	blk, err := e.walk(d.FCB.Head, d.Offset/bs, false)
	if err != nil {
		return 0, err
	}

	read := 0
	for {
		inBlock := int(d.Offset % bs)
		n := min(int(bs)-inBlock, want-read)
		m, err := e.dev.ReadAt(blk, inBlock, p[read:read+n])
		read += m
		d.Offset += int64(m)
		if err != nil {
			return read, err
		}
		if read == want {
			return read, nil
		}
		blk, err = e.step(blk, false)
		if err != nil {
			return read, err
		}
	}
}

// ReadAll reads the whole chain of fcb.
func (e *Engine) ReadAll(fcb format.FCB) ([]byte, error) {
	d := &fdtable.Descriptor{FCB: fcb}
	buf := make([]byte, fcb.Size)
	n, err := e.Read(d, buf)
	return buf[:n], err
}

// walk follows skip links from head.
func (e *Engine) walk(head format.BlockID, skip int64, extend bool) (format.BlockID, error) {
	blk := head
	for range skip {
		next, err := e.step(blk, extend)
		if err != nil {
			return format.NoBlock, err
		}
		blk = next
	}
	return blk, nil
}

// step returns the block after blk, linking a fresh one at END when extend
// is set.
func (e *Engine) step(blk format.BlockID, extend bool) (format.BlockID, error) {
	if next, ok := e.fat.Next(blk); ok {
		return next, nil
	}
	if e.fat.Get(blk) != format.FATEnd {
		return format.NoBlock, fmt.Errorf("%w: chain broken at block %d (entry 0x%08x)",
			format.ErrCorrupt, blk, e.fat.Get(blk))
	}
	if !extend {
		return format.NoBlock, fmt.Errorf("%w: chain ends at block %d before end of file", format.ErrCorrupt, blk)
	}
	return e.fat.Allocate(blk)
}

func (e *Engine) advance(d *fdtable.Descriptor, n int) {
	if n == 0 {
		return
	}
	d.Offset += int64(n)
	if d.Offset > d.Size() {
		d.FCB.Size = uint32(d.Offset)
	}
	d.Dirty = true
}
