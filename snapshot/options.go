package snapshot

import (
	"log/slog"

	"github.com/hupe1980/x3fs/codec"
	"github.com/hupe1980/x3fs/resource"
)

// DefaultChunkSize is the uncompressed size of one chunk blob.
const DefaultChunkSize = 4 << 20

// Options configures Push, Pull, List and Delete.
type Options struct {
	// ChunkSize is the uncompressed chunk size used by Push.
	ChunkSize int

	// Compression is the chunk compression used by Push. Pull reads it from
	// the manifest.
	Compression Compression

	// Concurrency bounds the chunks in flight.
	Concurrency int

	// Overwrite lets Push replace an existing snapshot of the same name.
	Overwrite bool

	// Resource limits chunk buffers, transfer slots and bandwidth.
	// nil imposes no limits.
	Resource *resource.Controller

	// Codec encodes the manifest.
	Codec codec.Codec

	// Logger receives progress records.
	Logger *slog.Logger
}

// DefaultOptions contains default options.
var DefaultOptions = Options{
	ChunkSize:   DefaultChunkSize,
	Compression: CompressionZSTD,
	Concurrency: 4,
	Codec:       codec.Default,
	Logger:      slog.New(slog.DiscardHandler),
}

func applyOptions(optFns []func(o *Options)) Options {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}
	if opts.Logger == nil {
		opts.Logger = DefaultOptions.Logger
	}
	return opts
}
