package format

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Superblock describes the geometry of an image. It is written once by
// Format and read once at mount.
type Superblock struct {
	Magic       uint32
	Version     uint32
	BlockSize   uint32
	BlockCount  uint32
	FCBPerBlock uint32
	FATStart    uint32
	FATBlocks   uint32
	RootBlock   uint32
}

// NewSuperblock computes the superblock for a new image.
func NewSuperblock(blockSize, blockCount int) (*Superblock, error) {
	if err := ValidateGeometry(blockSize, blockCount); err != nil {
		return nil, err
	}
	fatBlocks := FATBlocks(blockSize, blockCount)
	return &Superblock{
		Magic:       SuperMagic,
		Version:     Version,
		BlockSize:   uint32(blockSize),
		BlockCount:  uint32(blockCount),
		FCBPerBlock: uint32(FCBsPerBlock(blockSize)),
		FATStart:    uint32(FATStart),
		FATBlocks:   uint32(fatBlocks),
		RootBlock:   uint32(FATStart) + uint32(fatBlocks),
	}, nil
}

// Root returns the block id of the root directory.
func (sb *Superblock) Root() BlockID { return BlockID(sb.RootBlock) }

// FirstData returns the first block id that may be handed out by the allocator.
func (sb *Superblock) FirstData() BlockID { return BlockID(sb.FATStart + sb.FATBlocks) }

// Encode writes the superblock into the front of buf.
func (sb *Superblock) Encode(buf []byte) {
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], sb.Magic)
	le.PutUint32(buf[4:8], sb.Version)
	le.PutUint32(buf[8:12], sb.BlockSize)
	le.PutUint32(buf[12:16], sb.BlockCount)
	le.PutUint32(buf[16:20], sb.FCBPerBlock)
	le.PutUint32(buf[20:24], sb.FATStart)
	le.PutUint32(buf[24:28], sb.FATBlocks)
	le.PutUint32(buf[28:32], sb.RootBlock)
	le.PutUint32(buf[32:36], crc32.ChecksumIEEE(buf[0:32]))
}

// DecodeSuperblock parses and validates a superblock.
func DecodeSuperblock(buf []byte) (*Superblock, error) {
	if len(buf) < SuperblockSize {
		return nil, fmt.Errorf("%w: short superblock", ErrCorrupt)
	}
	le := binary.LittleEndian
	sb := &Superblock{
		Magic:       le.Uint32(buf[0:4]),
		Version:     le.Uint32(buf[4:8]),
		BlockSize:   le.Uint32(buf[8:12]),
		BlockCount:  le.Uint32(buf[12:16]),
		FCBPerBlock: le.Uint32(buf[16:20]),
		FATStart:    le.Uint32(buf[20:24]),
		FATBlocks:   le.Uint32(buf[24:28]),
		RootBlock:   le.Uint32(buf[28:32]),
	}
	if sb.Magic != SuperMagic {
		return nil, fmt.Errorf("%w: 0x%08x", ErrBadMagic, sb.Magic)
	}
	if sum := crc32.ChecksumIEEE(buf[0:32]); sum != le.Uint32(buf[32:36]) {
		return nil, fmt.Errorf("%w: superblock checksum mismatch", ErrCorrupt)
	}
	if sb.Version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, sb.Version)
	}
	if err := ValidateGeometry(int(sb.BlockSize), int(sb.BlockCount)); err != nil {
		return nil, err
	}
	want, _ := NewSuperblock(int(sb.BlockSize), int(sb.BlockCount))
	if sb.FCBPerBlock != want.FCBPerBlock || sb.FATStart != want.FATStart ||
		sb.FATBlocks != want.FATBlocks || sb.RootBlock != want.RootBlock {
		return nil, fmt.Errorf("%w: superblock layout fields disagree with geometry", ErrCorrupt)
	}
	return sb, nil
}
