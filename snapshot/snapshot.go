package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hupe1980/x3fs/blobstore"
	"github.com/hupe1980/x3fs/internal/format"
	"github.com/hupe1980/x3fs/internal/hash"
	"github.com/hupe1980/x3fs/resource"
	"golang.org/x/sync/errgroup"
)

// Push uploads the image at imagePath as snapshot name and points CURRENT
// at it. The image must not be mounted while it is pushed.
//
// Chunks are written first, then the manifest, then CURRENT, so a failed
// push never becomes visible.
func Push(ctx context.Context, imagePath string, store blobstore.BlobStore, name string, optFns ...func(o *Options)) (*Manifest, error) {
	opts := applyOptions(optFns)
	start := time.Now()

	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := checkBudget(opts.Resource, opts.ChunkSize); err != nil {
		return nil, err
	}
	if !opts.Overwrite {
		b, err := store.Open(ctx, manifestName(name))
		if err == nil {
			_ = b.Close()
			return nil, fmt.Errorf("%w: %s", ErrExists, name)
		}
		if !errors.Is(err, blobstore.ErrNotFound) {
			return nil, err
		}
	}

	f, err := os.Open(imagePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sb, size, err := readSuperblock(f)
	if err != nil {
		return nil, err
	}

	m := &Manifest{
		Version:     ManifestVersion,
		Name:        name,
		CreatedAt:   start.UTC(),
		ImageSize:   size,
		BlockSize:   sb.BlockSize,
		BlockCount:  sb.BlockCount,
		ChunkSize:   opts.ChunkSize,
		Compression: opts.Compression,
		Chunks:      make([]ChunkInfo, (size+int64(opts.ChunkSize)-1)/int64(opts.ChunkSize)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i := range m.Chunks {
		off := int64(i) * int64(opts.ChunkSize)
		n := int(min(int64(opts.ChunkSize), size-off))
		g.Go(func() error {
			return transfer(gctx, opts.Resource, int64(n), func() error {
				buf := make([]byte, n)
				if _, err := f.ReadAt(buf, off); err != nil && !errors.Is(err, io.EOF) {
					return err
				}
				frame := encodeChunk(buf, opts.Compression)
				if err := opts.Resource.AcquireIO(gctx, len(frame)); err != nil {
					return err
				}
				if err := store.Put(gctx, chunkName(name, i), frame); err != nil {
					return fmt.Errorf("put chunk %d: %w", i, err)
				}
				m.Chunks[i] = ChunkInfo{
					Index:  i,
					Offset: off,
					Size:   n,
					Stored: len(frame),
					CRC32C: hash.CRC32C(buf),
				}
				opts.Logger.Debug("chunk pushed", "snapshot", name, "chunk", i, "size", n, "stored", len(frame))
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := writeManifest(ctx, store, m, opts); err != nil {
		return nil, err
	}
	if err := store.Put(ctx, CurrentName, []byte(name)); err != nil {
		return nil, fmt.Errorf("commit %s: %w", CurrentName, err)
	}

	opts.Logger.Info("snapshot pushed",
		"snapshot", name,
		"chunks", len(m.Chunks),
		"image_bytes", m.ImageSize,
		"stored_bytes", m.StoredBytes(),
		"compression", m.Compression.String(),
		"duration", time.Since(start))
	return m, nil
}

// Pull restores snapshot name into imagePath, replacing any existing file.
// An empty name restores the snapshot CURRENT points to. Every chunk is
// verified before the image is renamed into place.
func Pull(ctx context.Context, store blobstore.BlobStore, name, imagePath string, optFns ...func(o *Options)) (*Manifest, error) {
	opts := applyOptions(optFns)
	start := time.Now()

	if name == "" {
		cur, err := Current(ctx, store)
		if err != nil {
			return nil, err
		}
		name = cur
	}
	m, err := LoadManifest(ctx, store, name, opts.Codec)
	if err != nil {
		return nil, err
	}
	if err := checkLayout(m); err != nil {
		return nil, err
	}
	largest := 0
	for _, c := range m.Chunks {
		largest = max(largest, c.Size)
	}
	if err := checkBudget(opts.Resource, largest); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(imagePath), ".x3fs-pull-*")
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if err := tmp.Truncate(m.ImageSize); err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for _, c := range m.Chunks {
		g.Go(func() error {
			return transfer(gctx, opts.Resource, int64(c.Size), func() error {
				frame, err := blobstore.ReadAll(gctx, store, chunkName(name, c.Index))
				if err != nil {
					return fmt.Errorf("get chunk %d: %w", c.Index, err)
				}
				if err := opts.Resource.AcquireIO(gctx, len(frame)); err != nil {
					return err
				}
				if len(frame) != c.Stored {
					return fmt.Errorf("%w: chunk %d is %d bytes, manifest says %d", ErrCorrupt, c.Index, len(frame), c.Stored)
				}
				data, err := decodeChunk(frame, m.Compression)
				if err != nil {
					return fmt.Errorf("chunk %d: %w", c.Index, err)
				}
				if len(data) != c.Size || hash.CRC32C(data) != c.CRC32C {
					return fmt.Errorf("%w: chunk %d checksum mismatch", ErrCorrupt, c.Index)
				}
				_, err = tmp.WriteAt(data, c.Offset)
				return err
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sb, _, err := readSuperblock(tmp)
	if err != nil {
		return nil, err
	}
	if sb.BlockSize != m.BlockSize || sb.BlockCount != m.BlockCount {
		return nil, fmt.Errorf("%w: restored geometry %dx%d, manifest says %dx%d",
			ErrCorrupt, sb.BlockCount, sb.BlockSize, m.BlockCount, m.BlockSize)
	}
	if err := tmp.Sync(); err != nil {
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp.Name(), imagePath); err != nil {
		_ = os.Remove(tmp.Name())
		committed = true
		return nil, err
	}
	committed = true

	opts.Logger.Info("snapshot pulled",
		"snapshot", name,
		"image", imagePath,
		"image_bytes", m.ImageSize,
		"duration", time.Since(start))
	return m, nil
}

// Info summarizes a stored snapshot.
type Info struct {
	Name        string
	CreatedAt   time.Time
	ImageSize   int64
	StoredBytes int64
	Chunks      int
	Compression Compression
	Current     bool
}

// List returns the snapshots in the store, oldest first. Manifests that
// cannot be read are skipped and logged.
func List(ctx context.Context, store blobstore.BlobStore, optFns ...func(o *Options)) ([]Info, error) {
	opts := applyOptions(optFns)

	names, err := store.List(ctx, "")
	if err != nil {
		return nil, err
	}
	current, err := Current(ctx, store)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	var infos []Info
	for _, n := range names {
		snap, ok := strings.CutSuffix(n, "/"+ManifestName)
		if !ok || strings.Contains(snap, "/") {
			continue
		}
		m, err := LoadManifest(ctx, store, snap, opts.Codec)
		if err != nil {
			opts.Logger.Warn("skipping unreadable snapshot", "snapshot", snap, "error", err)
			continue
		}
		infos = append(infos, Info{
			Name:        m.Name,
			CreatedAt:   m.CreatedAt,
			ImageSize:   m.ImageSize,
			StoredBytes: m.StoredBytes(),
			Chunks:      len(m.Chunks),
			Compression: m.Compression,
			Current:     snap == current,
		})
	}
	sort.SliceStable(infos, func(i, j int) bool {
		if !infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].CreatedAt.Before(infos[j].CreatedAt)
		}
		return infos[i].Name < infos[j].Name
	})
	return infos, nil
}

// Delete removes snapshot name. The manifest goes first, so an interrupted
// delete leaves only unreferenced chunks. The snapshot CURRENT points to
// cannot be deleted.
func Delete(ctx context.Context, store blobstore.BlobStore, name string, optFns ...func(o *Options)) error {
	opts := applyOptions(optFns)

	if err := ValidateName(name); err != nil {
		return err
	}
	current, err := Current(ctx, store)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if current == name {
		return fmt.Errorf("%w: %s", ErrCurrent, name)
	}

	blobs, err := store.List(ctx, name+"/")
	if err != nil {
		return err
	}
	if len(blobs) == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err := store.Delete(ctx, manifestName(name)); err != nil {
		return err
	}
	for _, b := range blobs {
		if b == manifestName(name) {
			continue
		}
		if err := store.Delete(ctx, b); err != nil {
			return err
		}
	}
	opts.Logger.Info("snapshot deleted", "snapshot", name, "blobs", len(blobs))
	return nil
}

// checkBudget rejects chunks that the memory limit of rc can never hold.
func checkBudget(rc *resource.Controller, chunkSize int) error {
	if err := rc.CheckMemory(int64(chunkSize)); err != nil {
		return fmt.Errorf("%w: chunk size %d: %w", ErrInvalidOptions, chunkSize, err)
	}
	return nil
}

// transfer runs fn holding a transfer slot and n bytes of the memory budget.
func transfer(ctx context.Context, rc *resource.Controller, n int64, fn func() error) error {
	if err := rc.AcquireTransfer(ctx); err != nil {
		return err
	}
	defer rc.ReleaseTransfer()
	if err := rc.AcquireMemory(ctx, n); err != nil {
		return err
	}
	defer rc.ReleaseMemory(n)
	return fn()
}

func writeManifest(ctx context.Context, store blobstore.BlobStore, m *Manifest, opts Options) error {
	b, err := opts.Codec.Marshal(m)
	if err != nil {
		return err
	}
	w, err := store.Create(ctx, manifestName(m.Name))
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// readSuperblock validates that r holds an x3fs image and returns its size.
func readSuperblock(f *os.File) (*format.Superblock, int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, 0, err
	}
	buf := make([]byte, format.SuperblockSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, 0, fmt.Errorf("%w: read superblock: %w", format.ErrCorrupt, err)
	}
	sb, err := format.DecodeSuperblock(buf)
	if err != nil {
		return nil, 0, err
	}
	if want := int64(sb.BlockSize) * int64(sb.BlockCount); fi.Size() < want {
		return nil, 0, fmt.Errorf("%w: image is %d bytes, want %d", format.ErrCorrupt, fi.Size(), want)
	}
	return sb, fi.Size(), nil
}

// checkLayout verifies that the chunks tile the image.
func checkLayout(m *Manifest) error {
	var off int64
	for i, c := range m.Chunks {
		if c.Index != i || c.Offset != off || c.Size <= 0 {
			return fmt.Errorf("%w: chunk %d out of place", ErrCorrupt, i)
		}
		off += int64(c.Size)
	}
	if off != m.ImageSize {
		return fmt.Errorf("%w: chunks cover %d bytes of %d", ErrCorrupt, off, m.ImageSize)
	}
	return nil
}
