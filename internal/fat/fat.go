// Package fat implements the allocation table: one entry per block id,
// holding the next block of a chain, END, FREE or RESERVED.
//
// The table lives in memory for the session. Mutations mark the table
// blocks they touch dirty; Flush writes exactly those blocks back.
package fat

import (
	"encoding/binary"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/x3fs/internal/blockdev"
	"github.com/hupe1980/x3fs/internal/format"
)

// Table is the in-memory allocation table of a mounted image.
type Table struct {
	dev       *blockdev.Device
	start     format.BlockID
	nblocks   int
	perBlock  int
	entries   []uint32
	firstData format.BlockID
	dirty     *roaring.Bitmap // indexes of dirty table blocks
}

func newTable(dev *blockdev.Device, sb *format.Superblock) *Table {
	return &Table{
		dev:       dev,
		start:     format.BlockID(sb.FATStart),
		nblocks:   int(sb.FATBlocks),
		perBlock:  int(sb.BlockSize) / format.FATEntrySize,
		entries:   make([]uint32, sb.BlockCount),
		firstData: sb.FirstData(),
		dirty:     roaring.New(),
	}
}

// Format builds the table of a fresh image: system blocks RESERVED, the
// root directory END, everything else FREE. The table is written out.
func Format(dev *blockdev.Device, sb *format.Superblock) (*Table, error) {
	t := newTable(dev, sb)
	for id := range t.firstData {
		t.set(id, format.FATReserved)
	}
	t.set(sb.Root(), format.FATEnd)
	for i := range t.nblocks {
		t.dirty.Add(uint32(i))
	}
	if err := t.Flush(); err != nil {
		return nil, err
	}
	return t, nil
}

// Load reads the table of a mounted image.
func Load(dev *blockdev.Device, sb *format.Superblock) (*Table, error) {
	t := newTable(dev, sb)
	buf := make([]byte, dev.BlockSize())
	for i := range t.nblocks {
		if err := dev.ReadSystemBlock(t.start+format.BlockID(i), buf); err != nil {
			return nil, err
		}
		base := i * t.perBlock
		for j := 0; j < t.perBlock && base+j < len(t.entries); j++ {
			t.entries[base+j] = binary.LittleEndian.Uint32(buf[j*format.FATEntrySize:])
		}
	}
	for id := range t.firstData {
		if t.entries[id] != format.FATReserved {
			return nil, fmt.Errorf("%w: system block %d not reserved in FAT", format.ErrCorrupt, id)
		}
	}
	return t, nil
}

// Len returns the number of entries, equal to the image block count.
func (t *Table) Len() int { return len(t.entries) }

// Get returns the raw entry for id.
func (t *Table) Get(id format.BlockID) uint32 {
	if int(id) >= len(t.entries) {
		return format.FATReserved
	}
	return t.entries[id]
}

// Next returns the block following id in its chain. ok is false when id is
// the END of its chain, the entry is not a valid link, or the linked block
// is itself FREE or RESERVED.
func (t *Table) Next(id format.BlockID) (format.BlockID, bool) {
	v := t.Get(id)
	if !t.isLink(v) {
		return format.NoBlock, false
	}
	if w := t.entries[v]; w == format.FATFree || w == format.FATReserved {
		return format.NoBlock, false
	}
	return format.BlockID(v), true
}

// IsFree reports whether id is available for allocation.
func (t *Table) IsFree(id format.BlockID) bool {
	return id >= t.firstData && int(id) < len(t.entries) && t.entries[id] == format.FATFree
}

// FindFree returns the first FREE block, scanning linearly.
func (t *Table) FindFree() (format.BlockID, bool) {
	for id := int(t.firstData); id < len(t.entries); id++ {
		if t.entries[id] == format.FATFree {
			return format.BlockID(id), true
		}
	}
	return format.NoBlock, false
}

// Link marks next as END and, if prev refers to a block, appends next after it.
func (t *Table) Link(prev, next format.BlockID) {
	t.set(next, format.FATEnd)
	if prev.Allocated() {
		t.set(prev, uint32(next))
	}
}

// Allocate finds a free block and links it after prev (which may be NoBlock).
func (t *Table) Allocate(prev format.BlockID) (format.BlockID, error) {
	id, ok := t.FindFree()
	if !ok {
		return format.NoBlock, format.ErrNoFreeSpace
	}
	t.Link(prev, id)
	return id, nil
}

// FreeChain marks every block of the chain starting at head FREE. Unallocated
// heads are a no-op; the walk stops at END, at any non-link entry, and after
// Len steps so a damaged cyclic chain cannot loop forever.
func (t *Table) FreeChain(head format.BlockID) int {
	freed := 0
	id := head
	for steps := 0; id.Allocated() && int(id) < len(t.entries) && steps < len(t.entries); steps++ {
		v := t.entries[id]
		if v == format.FATFree || v == format.FATReserved {
			break
		}
		t.set(id, format.FATFree)
		freed++
		if !t.isLink(v) {
			break
		}
		id = format.BlockID(v)
	}
	return freed
}

// Chain returns the block ids of the chain starting at head, in order. A
// chain that loops back on itself ends before the first repeated block.
func (t *Table) Chain(head format.BlockID) []format.BlockID {
	var ids []format.BlockID
	seen := roaring.New()
	id := head
	for id.Allocated() && int(id) < len(t.entries) {
		v := t.entries[id]
		if v == format.FATFree || v == format.FATReserved || !seen.CheckedAdd(uint32(id)) {
			break
		}
		ids = append(ids, id)
		if !t.isLink(v) {
			break
		}
		id = format.BlockID(v)
	}
	return ids
}

// FreeCount returns the number of FREE entries.
func (t *Table) FreeCount() int {
	n := 0
	for id := int(t.firstData); id < len(t.entries); id++ {
		if t.entries[id] == format.FATFree {
			n++
		}
	}
	return n
}

// Dirty reports whether any table block awaits Flush.
func (t *Table) Dirty() bool { return !t.dirty.IsEmpty() }

// Flush writes every dirty table block back to the image.
func (t *Table) Flush() error {
	if t.dirty.IsEmpty() {
		return nil
	}
	buf := make([]byte, t.dev.BlockSize())
	it := t.dirty.Iterator()
	for it.HasNext() {
		i := int(it.Next())
		clear(buf)
		base := i * t.perBlock
		for j := 0; j < t.perBlock && base+j < len(t.entries); j++ {
			binary.LittleEndian.PutUint32(buf[j*format.FATEntrySize:], t.entries[base+j])
		}
		// Entries past the block count never exist.
		for j := len(t.entries) - base; j < t.perBlock; j++ {
			binary.LittleEndian.PutUint32(buf[j*format.FATEntrySize:], format.FATReserved)
		}
		if err := t.dev.WriteSystemBlock(t.start+format.BlockID(i), buf); err != nil {
			return err
		}
		t.dirty.Remove(uint32(i))
	}
	return nil
}

func (t *Table) set(id format.BlockID, v uint32) {
	t.entries[id] = v
	t.dirty.Add(uint32(int(id) / t.perBlock))
}

func (t *Table) isLink(v uint32) bool {
	return v != format.FATFree && v != format.FATEnd && v != format.FATReserved &&
		format.BlockID(v) >= t.firstData && int(v) < len(t.entries)
}
