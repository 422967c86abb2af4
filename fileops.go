package x3fs

import (
	"fmt"
	"io"
	"time"

	"github.com/hupe1980/x3fs/internal/dir"
	"github.com/hupe1980/x3fs/internal/fdtable"
	"github.com/hupe1980/x3fs/internal/format"
)

// OpenFile describes one entry of the open file table.
type OpenFile struct {
	Fd     int
	Name   string
	Offset int64
	Size   int64
	Dirty  bool
}

// Open opens the file name in the current directory for reading and
// writing at offset 0. Opening a file that is already open returns its
// existing descriptor.
func (s *FS) Open(name string) (fd int, err error) {
	start := time.Now()
	defer func() {
		s.observe("open", start, err)
		s.logger.LogOp("open", name, err)
	}()
	fd, err = s.open(name)
	return fd, pathError("open", name, err)
}

func (s *FS) open(name string) (int, error) {
	if err := s.check(); err != nil {
		return -1, err
	}
	i, err := s.lookup(name)
	if err != nil {
		return -1, err
	}
	fcb := s.cwd.Entries[i]
	if fcb.IsDirectory() {
		return -1, format.ErrIsADirectory
	}
	if fd, ok := s.fds.Find(s.cwd.Bid, name); ok {
		return fd, nil
	}
	return s.fds.Alloc(&fdtable.Descriptor{
		FCB:   fcb,
		Dir:   s.cwd.Bid,
		Index: i,
	})
}

// CloseFile releases fd, first writing its FCB back to the owning
// directory if the file was modified.
func (s *FS) CloseFile(fd int) (err error) {
	start := time.Now()
	defer func() {
		s.observe("close", start, err)
		s.logger.WithFd(fd).LogOp("close", "", err)
	}()
	if err := s.check(); err != nil {
		return fdError("close", fd, err)
	}
	return fdError("close", fd, s.closeFile(fd))
}

func (s *FS) closeFile(fd int) error {
	d, err := s.fds.Get(fd)
	if err != nil {
		return err
	}
	if d.Dirty {
		if err := s.writeBack(d); err != nil {
			return err
		}
	}
	return s.fds.Release(fd)
}

// writeBack reloads the owning directory from disk, stores the descriptor's
// FCB at its recorded index and mirrors the result into the current
// directory when they are the same.
func (s *FS) writeBack(d *fdtable.Descriptor) error {
	owner, err := dir.Load(s.dev, d.Dir, s.capacity())
	if err != nil {
		return err
	}
	if d.Index >= owner.Len() || !owner.Entries[d.Index].MatchName(d.Name()) {
		return fmt.Errorf("%w: entry %q no longer at index %d of directory %d",
			format.ErrCorrupt, d.Name(), d.Index, d.Dir)
	}
	owner.Set(d.Index, d.FCB)
	if err := s.persist(owner); err != nil {
		return err
	}
	if owner.Bid == s.cwd.Bid {
		s.cwd = owner
	}
	d.Dirty = false
	return nil
}

// Write writes p at the descriptor offset, growing the file as needed.
// When the image runs out of space the bytes already written are kept and
// reported together with ErrNoFreeSpace.
func (s *FS) Write(fd int, p []byte) (n int, err error) {
	start := time.Now()
	defer func() {
		s.observe("write", start, err)
		s.opts.metricsCollector.RecordIO(0, n)
		s.logger.LogTransfer("write", fd, len(p), n, err)
	}()
	if err := s.check(); err != nil {
		return 0, fdError("write", fd, err)
	}
	d, err := s.fds.Get(fd)
	if err != nil {
		return 0, fdError("write", fd, err)
	}
	n, err = s.io.Write(d, p)
	if ferr := s.fat.Flush(); ferr != nil && err == nil {
		err = ferr
	}
	return n, fdError("write", fd, err)
}

// Read reads up to len(p) bytes from the descriptor offset. It returns
// 0, nil at end of file.
func (s *FS) Read(fd int, p []byte) (n int, err error) {
	start := time.Now()
	defer func() {
		s.observe("read", start, err)
		s.opts.metricsCollector.RecordIO(n, 0)
		s.logger.LogTransfer("read", fd, len(p), n, err)
	}()
	if err := s.check(); err != nil {
		return 0, fdError("read", fd, err)
	}
	d, err := s.fds.Get(fd)
	if err != nil {
		return 0, fdError("read", fd, err)
	}
	n, err = s.io.Read(d, p)
	return n, fdError("read", fd, err)
}

// Seek sets the descriptor offset relative to whence (io.SeekStart,
// io.SeekCurrent or io.SeekEnd). The result must lie within [0, size].
func (s *FS) Seek(fd int, offset int64, whence int) (int64, error) {
	if err := s.check(); err != nil {
		return 0, fdError("seek", fd, err)
	}
	d, err := s.fds.Get(fd)
	if err != nil {
		return 0, fdError("seek", fd, err)
	}
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = d.Offset
	case io.SeekEnd:
		base = d.Size()
	default:
		return 0, fdError("seek", fd, fmt.Errorf("%w: whence %d", format.ErrInvalidArgument, whence))
	}
	pos := base + offset
	if pos < 0 || pos > d.Size() {
		return 0, fdError("seek", fd, format.ErrInvalidOffset)
	}
	d.Offset = pos
	return pos, nil
}

// Lsof lists the open descriptors in fd order.
func (s *FS) Lsof() []OpenFile {
	if s.closed {
		return nil
	}
	var files []OpenFile
	s.fds.Each(func(fd int, d *fdtable.Descriptor) {
		files = append(files, OpenFile{
			Fd:     fd,
			Name:   d.Name(),
			Offset: d.Offset,
			Size:   d.Size(),
			Dirty:  d.Dirty,
		})
	})
	return files
}
