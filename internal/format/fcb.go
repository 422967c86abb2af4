package format

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// FCB is a file control block: the directory entry of one file, directory
// or symbolic link.
type FCB struct {
	Name  [NameLength]byte
	Attrs uint16
	Size  uint32
	Head  BlockID
}

// NewFCB builds an existing entry. The caller validates name.
func NewFCB(name string, attrs uint16) FCB {
	var f FCB
	copy(f.Name[:], name)
	f.Attrs = attrs | AttrExists
	return f
}

// FileName returns the name up to the first NUL or the full field width.
func (f *FCB) FileName() string {
	if i := bytes.IndexByte(f.Name[:], 0); i >= 0 {
		return string(f.Name[:i])
	}
	return string(f.Name[:])
}

// SetName overwrites the name field.
func (f *FCB) SetName(name string) {
	f.Name = [NameLength]byte{}
	copy(f.Name[:], name)
}

// MatchName compares name against the fixed-length field, like strncmp over
// NameLength bytes.
func (f *FCB) MatchName(name string) bool {
	if len(name) > NameLength {
		return false
	}
	var want [NameLength]byte
	copy(want[:], name)
	return f.Name == want
}

func (f *FCB) Exists() bool      { return f.Attrs&AttrExists != 0 }
func (f *FCB) IsDirectory() bool { return f.Attrs&AttrDirectory != 0 }
func (f *FCB) IsSymlink() bool   { return f.Attrs&AttrSymlink != 0 }

// Kind returns a short human label for listings.
func (f *FCB) Kind() string {
	switch {
	case f.IsDirectory():
		return "dir"
	case f.IsSymlink():
		return "link"
	default:
		return "file"
	}
}

// Encode writes the FCB into buf[:FCBSize].
func (f *FCB) Encode(buf []byte) {
	le := binary.LittleEndian
	copy(buf[0:NameLength], f.Name[:])
	le.PutUint16(buf[22:24], f.Attrs)
	le.PutUint32(buf[24:28], f.Size)
	le.PutUint32(buf[28:32], uint32(f.Head))
}

// DecodeFCB parses buf[:FCBSize].
func DecodeFCB(buf []byte) FCB {
	le := binary.LittleEndian
	var f FCB
	copy(f.Name[:], buf[0:NameLength])
	f.Attrs = le.Uint16(buf[22:24])
	f.Size = le.Uint32(buf[24:28])
	f.Head = BlockID(le.Uint32(buf[28:32]))
	return f
}

// DirHeader is the fixed prefix of a directory block.
type DirHeader struct {
	Magic   uint32
	ItemNum uint32
	Self    BlockID
	Parent  BlockID
}

// Encode writes the header into buf[:DirHeaderSize].
func (h *DirHeader) Encode(buf []byte) {
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], h.Magic)
	le.PutUint32(buf[4:8], h.ItemNum)
	le.PutUint32(buf[8:12], uint32(h.Self))
	le.PutUint32(buf[12:16], uint32(h.Parent))
}

// DecodeDirHeader parses a directory header and checks its magic.
func DecodeDirHeader(buf []byte) (DirHeader, error) {
	le := binary.LittleEndian
	h := DirHeader{
		Magic:   le.Uint32(buf[0:4]),
		ItemNum: le.Uint32(buf[4:8]),
		Self:    BlockID(le.Uint32(buf[8:12])),
		Parent:  BlockID(le.Uint32(buf[12:16])),
	}
	if h.Magic != DirMagic {
		return h, fmt.Errorf("%w: directory magic 0x%08x", ErrCorrupt, h.Magic)
	}
	return h, nil
}

// FCBOffset returns the byte offset of slot i inside a directory block.
func FCBOffset(i int) int { return DirHeaderSize + i*FCBSize }
