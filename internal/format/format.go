// Package format defines the on-disk layout of an x3fs image.
//
// Every structure occupies exactly one block. All integers are little-endian.
//
//	block 0            superblock
//	block 1            reserved sentinel
//	blocks 2..2+F-1    allocation table (FAT), one uint32 per block id
//	block 2+F          root directory
//	remaining blocks   directory and data blocks
package format

import (
	"errors"
	"fmt"
)

const (
	// SuperMagic identifies an x3fs superblock (ASCII: "X3FS").
	SuperMagic = 0x58334653
	// DirMagic identifies a directory block (ASCII: "X3DR").
	DirMagic = 0x58334452
	// Version is the current image format version.
	Version = 1

	// MinBlockSize is the smallest supported block size.
	MinBlockSize = 64
	// MaxBlockSize is the largest supported block size.
	MaxBlockSize = 64 * 1024

	// NameLength is the fixed width of an FCB name field. A name of exactly
	// NameLength bytes is stored without a terminating NUL.
	NameLength = 22

	// FCBSize is the encoded size of one file control block.
	FCBSize = 32
	// DirHeaderSize is the encoded size of a directory block header.
	DirHeaderSize = 16
	// SuperblockSize is the encoded size of the superblock including its checksum.
	SuperblockSize = 36

	// FATEntrySize is the encoded size of one allocation table entry.
	FATEntrySize = 4

	// FATStart is the first block of the allocation table.
	FATStart BlockID = 2
)

// BlockID addresses one block of the image.
type BlockID uint32

const (
	// NoBlock marks an FCB that has never been written.
	NoBlock BlockID = 0
	// ReservedBlock is never allocated and never dereferenced.
	ReservedBlock BlockID = 1
)

// Allocated reports whether id refers to an addressable block.
// Ids 0 and 1 are both non-addressable.
func (id BlockID) Allocated() bool { return id > ReservedBlock }

// FAT entry values. Any other value is the id of the next block in a chain.
const (
	FATFree     uint32 = 0
	FATEnd      uint32 = 0xFFFFFFFF
	FATReserved uint32 = 0xFFFFFFFE
)

// Attribute bits of an FCB.
const (
	AttrExists    uint16 = 1 << 0
	AttrDirectory uint16 = 1 << 1
	AttrSymlink   uint16 = 1 << 2
)

var (
	ErrNameTooLong      = errors.New("file name too long")
	ErrReservedName     = errors.New("reserved file name")
	ErrInvalidName      = errors.New("invalid file name")
	ErrAlreadyExists    = errors.New("file exists")
	ErrNotFound         = errors.New("no such file or directory")
	ErrNotADirectory    = errors.New("not a directory")
	ErrIsADirectory     = errors.New("is a directory")
	ErrDirectoryFull    = errors.New("directory FCB array is full")
	ErrNoFreeSpace      = errors.New("no free space")
	ErrBadDescriptor    = errors.New("illegal fd")
	ErrTooManyOpenFiles = errors.New("too many opened files")
	ErrIO               = errors.New("i/o error")
	ErrBusy             = errors.New("file is open")
	ErrInvalidOffset    = errors.New("invalid offset")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrCorrupt          = errors.New("image corrupt")
	ErrBadMagic         = errors.New("bad magic number")
	ErrInvalidGeometry  = errors.New("invalid image geometry")
	ErrClosed           = errors.New("file system closed")
)

// FCBsPerBlock returns the directory capacity for a block size.
func FCBsPerBlock(blockSize int) int {
	return (blockSize - DirHeaderSize) / FCBSize
}

// FATBlocks returns the number of blocks needed to hold the allocation table
// of an image with blockCount blocks.
func FATBlocks(blockSize, blockCount int) int {
	perBlock := blockSize / FATEntrySize
	return (blockCount + perBlock - 1) / perBlock
}

// ValidateGeometry checks a block size and block count pair.
func ValidateGeometry(blockSize, blockCount int) error {
	if blockSize < MinBlockSize || blockSize > MaxBlockSize || blockSize%FCBSize != 0 {
		return fmt.Errorf("%w: block size %d", ErrInvalidGeometry, blockSize)
	}
	// superblock, sentinel, FAT, root and at least one free block
	minBlocks := int(FATStart) + FATBlocks(blockSize, blockCount) + 2
	if blockCount < minBlocks {
		return fmt.Errorf("%w: %d blocks, need at least %d", ErrInvalidGeometry, blockCount, minBlocks)
	}
	if uint64(blockCount) >= uint64(FATReserved) {
		return fmt.Errorf("%w: %d blocks", ErrInvalidGeometry, blockCount)
	}
	return nil
}
