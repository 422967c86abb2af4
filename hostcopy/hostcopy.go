// Package hostcopy moves file contents between the host and a mounted x3fs
// image. Names are resolved against the current directory of the FS, and a
// file must not be held open by the caller while it is copied.
package hostcopy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/hupe1980/x3fs"
	"github.com/hupe1980/x3fs/resource"
)

// Options configures the copy helpers.
type Options struct {
	// BufferSize is the size of the transfer buffer.
	BufferSize int

	// Resource throttles the transfer. nil imposes no limit.
	Resource *resource.Controller

	// Logger receives one record per copy.
	Logger *slog.Logger
}

// DefaultOptions contains default options.
var DefaultOptions = Options{
	BufferSize: 32 << 10,
	Logger:     slog.New(slog.DiscardHandler),
}

func applyOptions(optFns []func(o *Options)) Options {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultOptions.BufferSize
	}
	if opts.Logger == nil {
		opts.Logger = DefaultOptions.Logger
	}
	return opts
}

// CopyIn creates name in the current directory and fills it with the
// contents of hostPath. When the image fills up, the bytes already copied
// stay and the error wraps x3fs.ErrNoFreeSpace.
func CopyIn(ctx context.Context, fsys *x3fs.FS, hostPath, name string, optFns ...func(o *Options)) (int64, error) {
	opts := applyOptions(optFns)

	src, err := os.Open(hostPath)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	if err := fsys.Create(name); err != nil {
		return 0, err
	}
	n, err := withFile(fsys, name, func(fd int) (int64, error) {
		return copyBuffer(ctx, &fdWriter{ctx: ctx, fsys: fsys, fd: fd}, src, opts)
	})
	opts.Logger.Debug("copy in", "host", hostPath, "name", name, "bytes", n, "error", err)
	return n, err
}

// CopyOut writes the contents of name to hostPath, replacing it.
func CopyOut(ctx context.Context, fsys *x3fs.FS, name, hostPath string, optFns ...func(o *Options)) (int64, error) {
	opts := applyOptions(optFns)

	dst, err := os.Create(hostPath)
	if err != nil {
		return 0, err
	}
	n, err := withFile(fsys, name, func(fd int) (int64, error) {
		return copyBuffer(ctx, dst, &fdReader{ctx: ctx, fsys: fsys, fd: fd}, opts)
	})
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	opts.Logger.Debug("copy out", "name", name, "host", hostPath, "bytes", n, "error", err)
	return n, err
}

// Cat writes the contents of name to w.
func Cat(ctx context.Context, fsys *x3fs.FS, name string, w io.Writer, optFns ...func(o *Options)) (int64, error) {
	opts := applyOptions(optFns)
	return withFile(fsys, name, func(fd int) (int64, error) {
		return copyBuffer(ctx, w, &fdReader{ctx: ctx, fsys: fsys, fd: fd}, opts)
	})
}

// Append writes everything read from r to the end of name.
func Append(ctx context.Context, fsys *x3fs.FS, name string, r io.Reader, optFns ...func(o *Options)) (int64, error) {
	opts := applyOptions(optFns)
	return withFile(fsys, name, func(fd int) (int64, error) {
		if _, err := fsys.Seek(fd, 0, io.SeekEnd); err != nil {
			return 0, err
		}
		return copyBuffer(ctx, &fdWriter{ctx: ctx, fsys: fsys, fd: fd}, r, opts)
	})
}

// withFile opens name, runs fn and closes the descriptor, writing its size
// back to the directory.
func withFile(fsys *x3fs.FS, name string, fn func(fd int) (int64, error)) (int64, error) {
	fd, err := fsys.Open(name)
	if err != nil {
		return 0, err
	}
	n, err := fn(fd)
	return n, errors.Join(err, fsys.CloseFile(fd))
}

// copyBuffer copies src to dst. The host side of the transfer is charged
// against the I/O limit: the reader for inbound copies, the writer for
// outbound ones.
func copyBuffer(ctx context.Context, dst io.Writer, src io.Reader, opts Options) (int64, error) {
	if opts.Resource != nil {
		if _, inbound := dst.(*fdWriter); inbound {
			src = resource.NewRateLimitedReader(ctx, src, opts.Resource)
		} else {
			dst = resource.NewRateLimitedWriter(ctx, dst, opts.Resource)
		}
	}
	return io.CopyBuffer(dst, src, make([]byte, opts.BufferSize))
}

// fdReader adapts an open descriptor to io.Reader.
type fdReader struct {
	ctx  context.Context
	fsys *x3fs.FS
	fd   int
}

func (r *fdReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := r.fsys.Read(r.fd, p)
	if n == 0 && err == nil && len(p) > 0 {
		return 0, io.EOF
	}
	return n, err
}

// fdWriter adapts an open descriptor to io.Writer.
type fdWriter struct {
	ctx  context.Context
	fsys *x3fs.FS
	fd   int
}

func (w *fdWriter) Write(p []byte) (int, error) {
	if err := w.ctx.Err(); err != nil {
		return 0, err
	}
	return w.fsys.Write(w.fd, p)
}
