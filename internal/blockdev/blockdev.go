// Package blockdev is the block store of an x3fs image: positioned,
// block-addressed transfers against the backing file.
//
// It is the only place that turns block ids into byte offsets. Writes are
// never buffered; each call reaches the image before it returns.
package blockdev

import (
	"errors"
	"fmt"
	"os"

	"github.com/hupe1980/x3fs/internal/cache"
	"github.com/hupe1980/x3fs/internal/format"
	"github.com/hupe1980/x3fs/internal/fs"
)

// ErrBadBlock is returned for block ids outside the addressable range.
var ErrBadBlock = errors.New("block id out of range")

// Options configures a Device.
type Options struct {
	// FileSystem opens the backing image. Defaults to fs.Default.
	FileSystem fs.FileSystem
	// SyncWrites fsyncs the image after every block write.
	SyncWrites bool
	// Cache is an optional write-through read cache.
	Cache cache.BlockCache
}

// DefaultOptions contains default options.
var DefaultOptions = Options{
	FileSystem: fs.Default,
}

// Device is an open image addressed in blocks.
type Device struct {
	file       fs.File
	blockSize  int
	blockCount int
	sync       bool
	cache      cache.BlockCache

	reads  int64
	writes int64
}

// Create creates (or truncates) an image file of blockCount zeroed blocks.
func Create(path string, blockSize, blockCount int, optFns ...func(o *Options)) (*Device, error) {
	opts := applyOptions(optFns)

	f, err := opts.FileSystem.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: create image: %w", format.ErrIO, err)
	}
	if err := f.Truncate(int64(blockSize) * int64(blockCount)); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: size image: %w", format.ErrIO, err)
	}
	return newDevice(f, blockSize, blockCount, opts), nil
}

// Open opens an existing image. The geometry is taken from the caller, who
// has already decoded the superblock with ReadSuperblock.
func Open(path string, blockSize, blockCount int, optFns ...func(o *Options)) (*Device, error) {
	opts := applyOptions(optFns)

	f, err := opts.FileSystem.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open image: %w", format.ErrIO, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: stat image: %w", format.ErrIO, err)
	}
	if info.Size() < int64(blockSize)*int64(blockCount) {
		_ = f.Close()
		return nil, fmt.Errorf("%w: image is %d bytes, superblock claims %d blocks of %d",
			format.ErrCorrupt, info.Size(), blockCount, blockSize)
	}
	return newDevice(f, blockSize, blockCount, opts), nil
}

// ReadSuperblock reads and decodes block 0 of the image at path.
func ReadSuperblock(path string, fsys fs.FileSystem) (*format.Superblock, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open image: %w", format.ErrIO, err)
	}
	defer f.Close()

	buf := make([]byte, format.SuperblockSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("%w: read superblock: %w", format.ErrIO, err)
	}
	return format.DecodeSuperblock(buf)
}

func applyOptions(optFns []func(o *Options)) Options {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.FileSystem == nil {
		opts.FileSystem = fs.Default
	}
	return opts
}

func newDevice(f fs.File, blockSize, blockCount int, opts Options) *Device {
	return &Device{
		file:       f,
		blockSize:  blockSize,
		blockCount: blockCount,
		sync:       opts.SyncWrites,
		cache:      opts.Cache,
	}
}

// BlockSize returns the block size in bytes.
func (d *Device) BlockSize() int { return d.blockSize }

// BlockCount returns the number of blocks in the image.
func (d *Device) BlockCount() int { return d.blockCount }

// Stats returns the number of block reads and writes issued to the image.
func (d *Device) Stats() (reads, writes int64) { return d.reads, d.writes }

// ReadBlock reads the whole block id into buf, which must be BlockSize long.
func (d *Device) ReadBlock(id format.BlockID, buf []byte) error {
	if err := d.checkData(id); err != nil {
		return err
	}
	return d.readBlock(id, buf)
}

// WriteBlock writes buf as the whole block id.
func (d *Device) WriteBlock(id format.BlockID, buf []byte) error {
	if err := d.checkData(id); err != nil {
		return err
	}
	return d.writeBlock(id, buf)
}

// ReadSystemBlock reads the superblock or an allocation table block.
func (d *Device) ReadSystemBlock(id format.BlockID, buf []byte) error {
	if id == format.ReservedBlock || int(id) >= d.blockCount {
		return fmt.Errorf("%w: system block %d", ErrBadBlock, id)
	}
	return d.readBlock(id, buf)
}

// WriteSystemBlock writes the superblock or an allocation table block.
func (d *Device) WriteSystemBlock(id format.BlockID, buf []byte) error {
	if id == format.ReservedBlock || int(id) >= d.blockCount {
		return fmt.Errorf("%w: system block %d", ErrBadBlock, id)
	}
	return d.writeBlock(id, buf)
}

// ReadAt reads len(p) bytes from block id starting at off within the block.
func (d *Device) ReadAt(id format.BlockID, off int, p []byte) (int, error) {
	if err := d.checkRange(id, off, len(p)); err != nil {
		return 0, err
	}
	if d.cache != nil {
		if b, ok := d.cache.Get(id); ok {
			return copy(p, b[off:]), nil
		}
	}
	n, err := d.file.ReadAt(p, d.offset(id)+int64(off))
	d.reads++
	if err != nil && n < len(p) {
		return n, fmt.Errorf("%w: read block %d: %w", format.ErrIO, id, err)
	}
	return n, nil
}

// WriteAt writes p into block id starting at off within the block.
func (d *Device) WriteAt(id format.BlockID, off int, p []byte) (int, error) {
	if err := d.checkRange(id, off, len(p)); err != nil {
		return 0, err
	}
	n, err := d.file.WriteAt(p, d.offset(id)+int64(off))
	d.writes++
	if d.cache != nil {
		d.cache.Invalidate(id)
	}
	if err != nil {
		return n, fmt.Errorf("%w: write block %d: %w", format.ErrIO, id, err)
	}
	if err := d.maybeSync(); err != nil {
		return n, err
	}
	return n, nil
}

// Sync flushes the image to stable storage.
func (d *Device) Sync() error {
	if err := d.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync image: %w", format.ErrIO, err)
	}
	return nil
}

// Close closes the backing image.
func (d *Device) Close() error {
	if err := d.file.Close(); err != nil {
		return fmt.Errorf("%w: close image: %w", format.ErrIO, err)
	}
	return nil
}

func (d *Device) readBlock(id format.BlockID, buf []byte) error {
	if len(buf) != d.blockSize {
		return fmt.Errorf("%w: buffer of %d bytes for block of %d", format.ErrInvalidArgument, len(buf), d.blockSize)
	}
	if d.cache != nil {
		if b, ok := d.cache.Get(id); ok {
			copy(buf, b)
			return nil
		}
	}
	_, err := d.file.ReadAt(buf, d.offset(id))
	d.reads++
	if err != nil {
		return fmt.Errorf("%w: read block %d: %w", format.ErrIO, id, err)
	}
	if d.cache != nil {
		d.cache.Set(id, buf)
	}
	return nil
}

func (d *Device) writeBlock(id format.BlockID, buf []byte) error {
	if len(buf) != d.blockSize {
		return fmt.Errorf("%w: buffer of %d bytes for block of %d", format.ErrInvalidArgument, len(buf), d.blockSize)
	}
	_, err := d.file.WriteAt(buf, d.offset(id))
	d.writes++
	if err != nil {
		if d.cache != nil {
			d.cache.Invalidate(id)
		}
		return fmt.Errorf("%w: write block %d: %w", format.ErrIO, id, err)
	}
	if d.cache != nil {
		d.cache.Set(id, buf)
	}
	return d.maybeSync()
}

func (d *Device) maybeSync() error {
	if !d.sync {
		return nil
	}
	return d.Sync()
}

func (d *Device) offset(id format.BlockID) int64 {
	return int64(id) * int64(d.blockSize)
}

func (d *Device) checkData(id format.BlockID) error {
	if !id.Allocated() || int(id) >= d.blockCount {
		return fmt.Errorf("%w: %d", ErrBadBlock, id)
	}
	return nil
}

func (d *Device) checkRange(id format.BlockID, off, n int) error {
	if err := d.checkData(id); err != nil {
		return err
	}
	if off < 0 || n < 0 || off+n > d.blockSize {
		return fmt.Errorf("%w: range [%d,%d) in block of %d", format.ErrInvalidArgument, off, off+n, d.blockSize)
	}
	return nil
}
