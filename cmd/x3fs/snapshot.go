package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"path"
	"text/tabwriter"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hupe1980/x3fs/blobstore"
	miniostore "github.com/hupe1980/x3fs/blobstore/minio"
	s3store "github.com/hupe1980/x3fs/blobstore/s3"
	"github.com/hupe1980/x3fs/resource"
	"github.com/hupe1980/x3fs/snapshot"
)

// storeFlags selects the blob store holding snapshots. Exactly one of
// dir, bucket or endpoint must be set.
type storeFlags struct {
	dir      string
	bucket   string
	prefix   string
	table    string
	endpoint string
	access   string
	secret   string
	secure   bool
}

func (sf *storeFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&sf.dir, "dir", "", "local directory store")
	fs.StringVar(&sf.bucket, "s3", "", "S3 (or MinIO) bucket")
	fs.StringVar(&sf.prefix, "prefix", "", "key prefix inside the bucket")
	fs.StringVar(&sf.table, "ddb", "", "DynamoDB table that serializes CURRENT updates (S3 only)")
	fs.StringVar(&sf.endpoint, "minio", "", "MinIO endpoint host:port (uses the -s3 bucket)")
	fs.StringVar(&sf.access, "access", "", "MinIO access key")
	fs.StringVar(&sf.secret, "secret", "", "MinIO secret key")
	fs.BoolVar(&sf.secure, "secure", true, "use TLS for MinIO")
}

func (sf *storeFlags) open(ctx context.Context) (blobstore.BlobStore, error) {
	switch {
	case sf.dir != "" && sf.bucket != "":
		return nil, errors.New("-dir and -s3 are mutually exclusive")
	case sf.dir != "":
		return blobstore.NewLocalStore(sf.dir), nil
	case sf.bucket == "":
		return nil, errors.New("one of -dir or -s3 is required")
	case sf.endpoint != "":
		client, err := minio.New(sf.endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(sf.access, sf.secret, ""),
			Secure: sf.secure,
		})
		if err != nil {
			return nil, fmt.Errorf("minio client: %w", err)
		}
		return miniostore.NewStore(client, sf.bucket, func(o *miniostore.Options) {
			o.Prefix = sf.prefix
		}), nil
	}

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	store := s3store.NewStore(s3.NewFromConfig(cfg), sf.bucket, func(o *s3store.Options) {
		o.Prefix = sf.prefix
	})
	if sf.table == "" {
		return store, nil
	}
	baseURI := "s3://" + path.Join(sf.bucket, sf.prefix)
	return s3store.NewDDBCommitStore(store, dynamodb.NewFromConfig(cfg), sf.table, baseURI), nil
}

func runSnapshot(ctx context.Context, e *env, args []string) error {
	subs := map[string]func(context.Context, *env, []string) error{
		"push": runSnapshotPush,
		"pull": runSnapshotPull,
		"list": runSnapshotList,
		"rm":   runSnapshotRm,
	}
	if len(args) > 0 {
		if fn, ok := subs[args[0]]; ok {
			return fn(ctx, e, args[1:])
		}
	}
	fmt.Fprintln(e.stderr, "usage: x3fs snapshot push|pull|list|rm [flags] ...")
	return errUsage
}

func runSnapshotPush(ctx context.Context, e *env, args []string) error {
	fs := e.newFlags("snapshot push", "<image> <name>")
	var sf storeFlags
	sf.register(fs)
	compression := fs.String("compression", snapshot.DefaultOptions.Compression.String(), "none, lz4 or zstd")
	chunk := fs.Int("chunk", snapshot.DefaultChunkSize, "uncompressed chunk size in bytes")
	concurrency := fs.Int("concurrency", snapshot.DefaultOptions.Concurrency, "chunks in flight")
	rate := fs.Int64("rate", 0, "limit to this many bytes per second")
	overwrite := fs.Bool("f", false, "replace an existing snapshot of the same name")
	if err := parse(fs, args, 2, 2); err != nil {
		return err
	}
	c, err := snapshot.ParseCompression(*compression)
	if err != nil {
		return err
	}
	store, err := sf.open(ctx)
	if err != nil {
		return err
	}
	m, err := snapshot.Push(ctx, fs.Arg(0), store, fs.Arg(1), func(o *snapshot.Options) {
		o.Compression = c
		o.ChunkSize = *chunk
		o.Concurrency = *concurrency
		o.Overwrite = *overwrite
		o.Resource = newTransferLimit(*rate, *concurrency)
		o.Logger = e.logger.Logger
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "%s: %d chunks, %d bytes stored for %d bytes of image\n",
		m.Name, len(m.Chunks), m.StoredBytes(), m.ImageSize)
	return nil
}

func runSnapshotPull(ctx context.Context, e *env, args []string) error {
	fs := e.newFlags("snapshot pull", "<image> [name]")
	var sf storeFlags
	sf.register(fs)
	concurrency := fs.Int("concurrency", snapshot.DefaultOptions.Concurrency, "chunks in flight")
	rate := fs.Int64("rate", 0, "limit to this many bytes per second")
	if err := parse(fs, args, 1, 2); err != nil {
		return err
	}
	store, err := sf.open(ctx)
	if err != nil {
		return err
	}
	m, err := snapshot.Pull(ctx, store, fs.Arg(1), fs.Arg(0), func(o *snapshot.Options) {
		o.Concurrency = *concurrency
		o.Resource = newTransferLimit(*rate, *concurrency)
		o.Logger = e.logger.Logger
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "%s: restored %d bytes to %s\n", m.Name, m.ImageSize, fs.Arg(0))
	return nil
}

func runSnapshotList(ctx context.Context, e *env, args []string) error {
	fs := e.newFlags("snapshot list", "")
	var sf storeFlags
	sf.register(fs)
	if err := parse(fs, args, 0, 0); err != nil {
		return err
	}
	store, err := sf.open(ctx)
	if err != nil {
		return err
	}
	infos, err := snapshot.List(ctx, store, func(o *snapshot.Options) { o.Logger = e.logger.Logger })
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCREATED\tIMAGE\tSTORED\tCHUNKS\tCOMPRESSION")
	for _, info := range infos {
		name := info.Name
		if info.Current {
			name += " *"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n", name, info.CreatedAt.Format(time.RFC3339),
			info.ImageSize, info.StoredBytes, info.Chunks, info.Compression)
	}
	return w.Flush()
}

func runSnapshotRm(ctx context.Context, e *env, args []string) error {
	fs := e.newFlags("snapshot rm", "<name>")
	var sf storeFlags
	sf.register(fs)
	if err := parse(fs, args, 1, 1); err != nil {
		return err
	}
	store, err := sf.open(ctx)
	if err != nil {
		return err
	}
	return snapshot.Delete(ctx, store, fs.Arg(0), func(o *snapshot.Options) { o.Logger = e.logger.Logger })
}

func newIOLimit(rate int64) *resource.Controller {
	return resource.NewController(resource.Config{IOLimitBytesPerSec: rate})
}

// newTransferLimit returns nil when rate is unset so transfers run unthrottled.
func newTransferLimit(rate int64, transfers int) *resource.Controller {
	if rate <= 0 {
		return nil
	}
	return resource.NewController(resource.Config{
		MaxTransfers:       int64(transfers),
		IOLimitBytesPerSec: rate,
	})
}
