package x3fs

import (
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/x3fs/internal/blockdev"
	"github.com/hupe1980/x3fs/internal/cache"
	"github.com/hupe1980/x3fs/internal/chainio"
	"github.com/hupe1980/x3fs/internal/dir"
	"github.com/hupe1980/x3fs/internal/fat"
	"github.com/hupe1980/x3fs/internal/fdtable"
	"github.com/hupe1980/x3fs/internal/format"
)

// FS is a mounted image: the block device, its allocation table, the open
// file table and the current directory.
//
// An FS is not safe for concurrent use. Mount holds the image for the
// lifetime of the FS; do not mount the same image twice.
type FS struct {
	opts   options
	path   string
	logger *Logger

	dev *blockdev.Device
	sb  *format.Superblock
	fat *fat.Table
	io  *chainio.Engine
	fds *fdtable.Table
	cwd *dir.Directory

	closed bool
}

// Format creates (or overwrites) an empty image at path.
//
// Example:
//
//	err := x3fs.Format("disk.x3", x3fs.WithBlockSize(512), x3fs.WithBlockCount(4096))
func Format(path string, optFns ...Option) (err error) {
	o := applyOptions(optFns)
	logger := o.logger.WithImage(path)

	sb, err := format.NewSuperblock(o.blockSize, o.blockCount)
	if err != nil {
		return pathError("format", path, err)
	}
	dev, err := blockdev.Create(path, o.blockSize, o.blockCount, func(bo *blockdev.Options) {
		bo.FileSystem = o.fileSystem
	})
	if err != nil {
		return pathError("format", path, err)
	}
	defer func() {
		if cerr := dev.Close(); cerr != nil && err == nil {
			err = pathError("format", path, cerr)
		}
	}()

	buf := make([]byte, o.blockSize)
	sb.Encode(buf)
	if err := dev.WriteSystemBlock(0, buf); err != nil {
		return pathError("format", path, err)
	}
	tbl, err := fat.Format(dev, sb)
	if err != nil {
		return pathError("format", path, err)
	}
	root := dir.New(sb.Root(), sb.Root(), int(sb.FCBPerBlock))
	if err := root.Store(dev); err != nil {
		return pathError("format", path, err)
	}
	if err := dev.Sync(); err != nil {
		return pathError("format", path, err)
	}

	logger.LogMount("format", o.blockSize, o.blockCount, tbl.FreeCount(), nil)
	return nil
}

// Mount opens the image at path with the root directory as the current
// directory.
func Mount(path string, optFns ...Option) (*FS, error) {
	o := applyOptions(optFns)
	logger := o.logger.WithImage(path)

	s, err := mount(path, o, logger)
	if err != nil {
		logger.LogMount("mount", 0, 0, 0, err)
		return nil, pathError("mount", path, err)
	}
	logger.LogMount("mount", int(s.sb.BlockSize), int(s.sb.BlockCount), s.fat.FreeCount(), nil)
	return s, nil
}

func mount(path string, o options, logger *Logger) (*FS, error) {
	sb, err := blockdev.ReadSuperblock(path, o.fileSystem)
	if err != nil {
		return nil, err
	}

	var blockCache cache.BlockCache
	if o.cacheBytes > 0 {
		blockCache = cache.NewLRUBlockCache(o.cacheBytes, o.resource)
	}
	dev, err := blockdev.Open(path, int(sb.BlockSize), int(sb.BlockCount), func(bo *blockdev.Options) {
		bo.FileSystem = o.fileSystem
		bo.SyncWrites = o.syncWrites
		bo.Cache = blockCache
	})
	if err != nil {
		return nil, err
	}

	tbl, err := fat.Load(dev, sb)
	if err != nil {
		_ = dev.Close()
		return nil, err
	}
	root, err := dir.Load(dev, sb.Root(), int(sb.FCBPerBlock))
	if err != nil {
		_ = dev.Close()
		return nil, err
	}
	if !root.IsRoot() {
		_ = dev.Close()
		return nil, fmt.Errorf("%w: root directory parent is %d", format.ErrCorrupt, root.Parent)
	}
	if v := tbl.Get(sb.Root()); v != format.FATEnd {
		logger.Warn("root directory block is not terminated in the allocation table; run fsck",
			"block", sb.Root(), "entry", v)
	}
	for id := range sb.FirstData() {
		if v := tbl.Get(id); v != format.FATReserved {
			logger.Warn("system block is not reserved in the allocation table; run fsck",
				"block", id, "entry", v)
			break
		}
	}

	return &FS{
		opts:   o,
		path:   path,
		logger: logger,
		dev:    dev,
		sb:     sb,
		fat:    tbl,
		io:     chainio.New(dev, tbl),
		fds:    fdtable.New(o.maxOpenFiles),
		cwd:    root,
	}, nil
}

// Close writes back every open descriptor, flushes the allocation table
// and releases the image. Closing a closed FS is a no-op.
func (s *FS) Close() error {
	if s == nil || s.closed {
		return nil
	}
	var errs []error
	s.fds.Each(func(fd int, _ *fdtable.Descriptor) {
		if err := s.closeFile(fd); err != nil {
			errs = append(errs, fdError("close", fd, err))
		}
	})
	if err := s.fat.Flush(); err != nil {
		errs = append(errs, err)
	}
	if err := s.dev.Sync(); err != nil {
		errs = append(errs, err)
	}
	if err := s.dev.Close(); err != nil {
		errs = append(errs, err)
	}
	s.closed = true

	err := errors.Join(errs...)
	s.logger.LogMount("umount", int(s.sb.BlockSize), int(s.sb.BlockCount), s.fat.FreeCount(), err)
	return err
}

// Stats describes a mounted image.
type Stats struct {
	BlockSize   int
	BlockCount  int
	FreeBlocks  int
	UsedBlocks  int
	FCBPerBlock int
	OpenFiles   int
	BlockReads  int64
	BlockWrites int64
}

// Stat returns the geometry and usage of the image.
func (s *FS) Stat() Stats {
	reads, writes := s.dev.Stats()
	free := s.fat.FreeCount()
	return Stats{
		BlockSize:   int(s.sb.BlockSize),
		BlockCount:  int(s.sb.BlockCount),
		FreeBlocks:  free,
		UsedBlocks:  int(s.sb.BlockCount) - int(s.sb.FirstData()) - free,
		FCBPerBlock: int(s.sb.FCBPerBlock),
		OpenFiles:   s.fds.Len(),
		BlockReads:  reads,
		BlockWrites: writes,
	}
}

func (s *FS) capacity() int { return int(s.sb.FCBPerBlock) }

func (s *FS) loadDir(bid format.BlockID) (*dir.Directory, error) {
	if bid == s.cwd.Bid {
		return s.cwd, nil
	}
	return dir.Load(s.dev, bid, s.capacity())
}

// persist writes d back and flushes the allocation table.
func (s *FS) persist(d *dir.Directory) error {
	if err := d.Store(s.dev); err != nil {
		return err
	}
	return s.fat.Flush()
}

// observe records metrics for one operation.
func (s *FS) observe(op string, start time.Time, err error) {
	s.opts.metricsCollector.RecordOp(op, time.Since(start), err)
}

func (s *FS) check() error {
	if s.closed {
		return format.ErrClosed
	}
	return nil
}
