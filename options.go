package x3fs

import (
	"log/slog"

	"github.com/hupe1980/x3fs/internal/fdtable"
	"github.com/hupe1980/x3fs/internal/fs"
	"github.com/hupe1980/x3fs/resource"
)

const (
	// DefaultBlockSize is the block size Format uses unless WithBlockSize is given.
	DefaultBlockSize = 1024
	// DefaultBlockCount is the image size in blocks Format uses unless
	// WithBlockCount is given.
	DefaultBlockCount = 1024
)

type options struct {
	blockSize        int
	blockCount       int
	maxOpenFiles     int
	syncWrites       bool
	cacheBytes       int64
	resource         *resource.Controller
	metricsCollector MetricsCollector
	logger           *Logger
	fileSystem       fs.FileSystem
}

// Option configures Format and Mount.
//
// Geometry options are read by Format only; a mounted image takes its
// geometry from the superblock.
type Option func(*options)

// WithBlockSize sets the block size of a new image. It must be a multiple
// of 32 between 64 and 65536.
func WithBlockSize(size int) Option {
	return func(o *options) {
		o.blockSize = size
	}
}

// WithBlockCount sets the number of blocks of a new image.
func WithBlockCount(count int) Option {
	return func(o *options) {
		o.blockCount = count
	}
}

// WithMaxOpenFiles sets the capacity of the open file table.
func WithMaxOpenFiles(n int) Option {
	return func(o *options) {
		o.maxOpenFiles = n
	}
}

// WithSyncWrites fsyncs the image after every block write.
func WithSyncWrites(enabled bool) Option {
	return func(o *options) {
		o.syncWrites = enabled
	}
}

// WithBlockCache enables a write-through read cache of up to bytes.
//
// Example:
//
//	rc := resource.NewController(resource.Config{MemoryLimitBytes: 8 << 20})
//	fsys, _ := x3fs.Mount("disk.x3", x3fs.WithBlockCache(4<<20), x3fs.WithResourceController(rc))
func WithBlockCache(bytes int64) Option {
	return func(o *options) {
		o.cacheBytes = bytes
	}
}

// WithResourceController charges the block cache against rc's memory budget.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resource = rc
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &x3fs.BasicMetricsCollector{}
//	fsys, _ := x3fs.Mount("disk.x3", x3fs.WithMetricsCollector(metrics))
//	// ... use fsys ...
//	stats := metrics.GetStats()
//	fmt.Printf("Ops: %d, Written: %d bytes\n", stats.OpCount, stats.BytesWritten)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func withFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		o.fileSystem = fsys
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		blockSize:        DefaultBlockSize,
		blockCount:       DefaultBlockCount,
		maxOpenFiles:     fdtable.DefaultCapacity,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		fileSystem:       fs.Default,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.fileSystem == nil {
		o.fileSystem = fs.Default
	}
	return o
}
