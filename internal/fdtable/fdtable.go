// Package fdtable is the fixed-capacity open file table of a session.
package fdtable

import (
	"github.com/hupe1980/x3fs/internal/format"
)

// DefaultCapacity is the number of descriptors a session may hold.
const DefaultCapacity = 16

// Descriptor is one open file: a snapshot of its FCB, where that FCB lives,
// and the current offset.
type Descriptor struct {
	FCB    format.FCB
	Dir    format.BlockID
	Index  int
	Offset int64
	Dirty  bool
}

// Name returns the file name of the snapshot.
func (d *Descriptor) Name() string { return d.FCB.FileName() }

// Size returns the file size of the snapshot.
func (d *Descriptor) Size() int64 { return int64(d.FCB.Size) }

// Table maps small integer fds to descriptors.
type Table struct {
	slots []*Descriptor
	count int
}

// New returns an empty table. A non-positive capacity selects DefaultCapacity.
func New(capacity int) *Table {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Table{slots: make([]*Descriptor, capacity)}
}

// Cap returns the number of slots.
func (t *Table) Cap() int { return len(t.slots) }

// Len returns the number of open descriptors.
func (t *Table) Len() int { return t.count }

// Find returns the fd already bound to the entry called name in dir.
func (t *Table) Find(dir format.BlockID, name string) (int, bool) {
	for fd, d := range t.slots {
		if d != nil && d.Dir == dir && d.FCB.MatchName(name) {
			return fd, true
		}
	}
	return -1, false
}

// Alloc stores d in the lowest free slot.
func (t *Table) Alloc(d *Descriptor) (int, error) {
	for fd, s := range t.slots {
		if s == nil {
			t.slots[fd] = d
			t.count++
			return fd, nil
		}
	}
	return -1, format.ErrTooManyOpenFiles
}

// Get returns the descriptor bound to fd.
func (t *Table) Get(fd int) (*Descriptor, error) {
	if fd < 0 || fd >= len(t.slots) || t.slots[fd] == nil {
		return nil, format.ErrBadDescriptor
	}
	return t.slots[fd], nil
}

// Release frees slot fd.
func (t *Table) Release(fd int) error {
	if _, err := t.Get(fd); err != nil {
		return err
	}
	t.slots[fd] = nil
	t.count--
	return nil
}

// Each calls fn for every open descriptor in fd order.
func (t *Table) Each(fn func(fd int, d *Descriptor)) {
	for fd, d := range t.slots {
		if d != nil {
			fn(fd, d)
		}
	}
}

// InDirectory reports whether any descriptor points into dir.
func (t *Table) InDirectory(dir format.BlockID) bool {
	for _, d := range t.slots {
		if d != nil && d.Dir == dir {
			return true
		}
	}
	return false
}

// Compacted re-points descriptors after entry removed was dropped from dir
// and the following entries shifted down.
func (t *Table) Compacted(dir format.BlockID, removed int) {
	for _, d := range t.slots {
		if d != nil && d.Dir == dir && d.Index > removed {
			d.Index--
		}
	}
}
