// Package dir reads and writes directory blocks: a header followed by a
// fixed-capacity array of FCBs whose live entries are kept contiguous.
package dir

import (
	"fmt"
	"strings"

	"github.com/hupe1980/x3fs/internal/blockdev"
	"github.com/hupe1980/x3fs/internal/format"
)

// Directory is the decoded form of one directory block. Entries always
// holds exactly the live FCBs, so len(Entries) is the on-disk item_num.
type Directory struct {
	Bid      format.BlockID
	Parent   format.BlockID
	Entries  []format.FCB
	Capacity int
}

// New returns an empty directory stored in block bid.
func New(bid, parent format.BlockID, capacity int) *Directory {
	return &Directory{
		Bid:      bid,
		Parent:   parent,
		Entries:  make([]format.FCB, 0, capacity),
		Capacity: capacity,
	}
}

// Load reads and validates the directory stored in block bid.
func Load(dev *blockdev.Device, bid format.BlockID, capacity int) (*Directory, error) {
	buf := make([]byte, dev.BlockSize())
	if err := dev.ReadBlock(bid, buf); err != nil {
		return nil, err
	}
	return Decode(buf, bid, capacity)
}

// Decode parses a directory block read from bid. The live entries are the
// slots before item_num up to the first one without EXISTS; a damaged block
// with a hole loses the entries after it.
func Decode(buf []byte, bid format.BlockID, capacity int) (*Directory, error) {
	h, err := format.DecodeDirHeader(buf)
	if err != nil {
		return nil, fmt.Errorf("block %d: %w", bid, err)
	}
	if h.Self != bid {
		return nil, fmt.Errorf("%w: directory block %d claims id %d", format.ErrCorrupt, bid, h.Self)
	}
	if int(h.ItemNum) > capacity {
		return nil, fmt.Errorf("%w: directory block %d holds %d entries, capacity %d",
			format.ErrCorrupt, bid, h.ItemNum, capacity)
	}
	d := New(bid, h.Parent, capacity)
	for i := range int(h.ItemNum) {
		off := format.FCBOffset(i)
		fcb := format.DecodeFCB(buf[off : off+format.FCBSize])
		if !fcb.Exists() {
			break
		}
		d.Entries = append(d.Entries, fcb)
	}
	return d, nil
}

// Encode writes the directory into buf, zeroing every slot past the live
// entries.
func (d *Directory) Encode(buf []byte) {
	clear(buf)
	h := format.DirHeader{
		Magic:   format.DirMagic,
		ItemNum: uint32(len(d.Entries)),
		Self:    d.Bid,
		Parent:  d.Parent,
	}
	h.Encode(buf)
	for i := range d.Entries {
		off := format.FCBOffset(i)
		d.Entries[i].Encode(buf[off : off+format.FCBSize])
	}
}

// Store writes the directory back to its block.
func (d *Directory) Store(dev *blockdev.Device) error {
	buf := make([]byte, dev.BlockSize())
	d.Encode(buf)
	return dev.WriteBlock(d.Bid, buf)
}

// IsRoot reports whether the directory is its own parent.
func (d *Directory) IsRoot() bool { return d.Parent == d.Bid }

// Len returns the number of live entries.
func (d *Directory) Len() int { return len(d.Entries) }

// Full reports whether another entry would exceed the capacity.
func (d *Directory) Full() bool { return len(d.Entries) >= d.Capacity }

// Lookup returns the index of the live entry called name.
func (d *Directory) Lookup(name string) (int, bool) {
	for i := range d.Entries {
		if d.Entries[i].MatchName(name) {
			return i, true
		}
	}
	return -1, false
}

// LookupHead returns the index of the live entry whose chain starts at head.
func (d *Directory) LookupHead(head format.BlockID) (int, bool) {
	if !head.Allocated() {
		return -1, false
	}
	for i := range d.Entries {
		if d.Entries[i].Head == head {
			return i, true
		}
	}
	return -1, false
}

// Append adds fcb after the last live entry.
func (d *Directory) Append(fcb format.FCB) (int, error) {
	if d.Full() {
		return -1, format.ErrDirectoryFull
	}
	d.Entries = append(d.Entries, fcb)
	return len(d.Entries) - 1, nil
}

// RemoveAt drops entry i and shifts the following entries down one slot,
// keeping their order.
func (d *Directory) RemoveAt(i int) format.FCB {
	removed := d.Entries[i]
	copy(d.Entries[i:], d.Entries[i+1:])
	d.Entries[len(d.Entries)-1] = format.FCB{}
	d.Entries = d.Entries[:len(d.Entries)-1]
	return removed
}

// Set overwrites entry i.
func (d *Directory) Set(i int, fcb format.FCB) { d.Entries[i] = fcb }

// ValidateName checks a single path component for use as an entry name.
func ValidateName(name string) error {
	switch {
	case name == "":
		return format.ErrInvalidName
	case len(name) > format.NameLength:
		return format.ErrNameTooLong
	case name == "." || name == ".." || strings.Contains(name, "/"):
		return format.ErrReservedName
	case strings.IndexByte(name, 0) >= 0:
		return format.ErrInvalidName
	}
	return nil
}
