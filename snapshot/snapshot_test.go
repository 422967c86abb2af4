package snapshot

import (
	"bytes"
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hupe1980/x3fs"
	"github.com/hupe1980/x3fs/blobstore"
	"github.com/hupe1980/x3fs/fsck"
	"github.com/hupe1980/x3fs/internal/format"
	"github.com/hupe1980/x3fs/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildImage formats a 64 KiB image holding /docs/a.txt.
func buildImage(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.x3")
	require.NoError(t, x3fs.Format(path, x3fs.WithBlockSize(256), x3fs.WithBlockCount(256)))

	fsys, err := x3fs.Mount(path)
	require.NoError(t, err)
	require.NoError(t, fsys.Mkdir("docs"))
	require.NoError(t, fsys.Chdir("docs"))
	require.NoError(t, fsys.Create("a.txt"))
	fd, err := fsys.Open("a.txt")
	require.NoError(t, err)
	_, err = fsys.Write(fd, content)
	require.NoError(t, err)
	require.NoError(t, fsys.Close())
	return path
}

func readContent(t *testing.T, image string) []byte {
	t.Helper()
	fsys, err := x3fs.Mount(image)
	require.NoError(t, err)
	defer fsys.Close()
	require.NoError(t, fsys.Chdir("docs"))
	fd, err := fsys.Open("a.txt")
	require.NoError(t, err)

	var out bytes.Buffer
	buf := make([]byte, 100)
	for {
		n, err := fsys.Read(fd, buf)
		require.NoError(t, err)
		if n == 0 {
			break
		}
		out.Write(buf[:n])
	}
	return out.Bytes()
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(1)).Read(b)
	return b
}

func TestPushPull_RoundTrip(t *testing.T) {
	content := randomBytes(3000)

	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			ctx := context.Background()
			image := buildImage(t, content)
			store := blobstore.NewMemoryStore()

			m, err := Push(ctx, image, store, "nightly", func(o *Options) {
				o.ChunkSize = 10000
				o.Compression = c
			})
			require.NoError(t, err)
			assert.Equal(t, int64(256*256), m.ImageSize)
			assert.Len(t, m.Chunks, 7)
			assert.Equal(t, 65536-6*10000, m.Chunks[6].Size)
			if c != CompressionNone {
				assert.Less(t, m.StoredBytes(), m.ImageSize, "a mostly empty image compresses")
			}

			pushed := store.Stats()
			assert.Equal(t, int64(len(m.Chunks)+2), pushed.Puts, "chunks, manifest and CURRENT")
			assert.Zero(t, pushed.Gets)

			restored := filepath.Join(t.TempDir(), "restored.x3")
			_, err = Pull(ctx, store, "", restored)
			require.NoError(t, err)
			pulled := store.Stats()
			assert.Equal(t, int64(len(m.Chunks)+2), pulled.Gets, "each chunk is fetched once")
			assert.GreaterOrEqual(t, pulled.BytesRead, m.StoredBytes())

			want, err := os.ReadFile(image)
			require.NoError(t, err)
			got, err := os.ReadFile(restored)
			require.NoError(t, err)
			assert.Equal(t, want, got)

			r, err := fsck.Check(restored)
			require.NoError(t, err)
			assert.True(t, r.OK(), "%v", r.Problems)
			assert.Equal(t, content, readContent(t, restored))
		})
	}
}

func TestPush_LocalStoreWithLimits(t *testing.T) {
	ctx := context.Background()
	image := buildImage(t, []byte("hello"))
	store := blobstore.NewLocalStore(t.TempDir())
	rc := resource.NewController(resource.Config{
		MemoryLimitBytes: 16 << 10,
		MaxTransfers:     2,
	})

	opts := func(o *Options) {
		o.ChunkSize = 8 << 10
		o.Concurrency = 4
		o.Resource = rc
	}
	_, err := Push(ctx, image, store, "v1", opts)
	require.NoError(t, err)
	assert.Zero(t, rc.MemoryUsage(), "chunk buffers are released")

	restored := filepath.Join(t.TempDir(), "restored.x3")
	_, err = Pull(ctx, store, "v1", restored, opts)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), readContent(t, restored))
}

func TestChunkLargerThanMemoryLimit(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	image := buildImage(t, []byte("hello"))
	store := blobstore.NewMemoryStore()
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 4 << 10})

	_, err := Push(ctx, image, store, "v1", func(o *Options) {
		o.ChunkSize = 8 << 10
		o.Resource = rc
	})
	require.ErrorIs(t, err, ErrInvalidOptions)
	assert.ErrorIs(t, err, resource.ErrMemoryLimit)
	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)

	_, err = Push(ctx, image, store, "v1", func(o *Options) { o.ChunkSize = 8 << 10 })
	require.NoError(t, err)

	restored := filepath.Join(t.TempDir(), "restored.x3")
	_, err = Pull(ctx, store, "v1", restored, func(o *Options) { o.Resource = rc })
	require.ErrorIs(t, err, ErrInvalidOptions)
	assert.NoFileExists(t, restored)
}

func TestPush_Rejections(t *testing.T) {
	ctx := context.Background()
	image := buildImage(t, nil)
	store := blobstore.NewMemoryStore()

	for _, name := range []string{"", CurrentName, "a/b", ".."} {
		_, err := Push(ctx, image, store, name)
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}

	_, err := Push(ctx, image, store, "v1")
	require.NoError(t, err)
	_, err = Push(ctx, image, store, "v1")
	assert.ErrorIs(t, err, ErrExists)
	_, err = Push(ctx, image, store, "v1", func(o *Options) { o.Overwrite = true })
	assert.NoError(t, err)

	notImage := filepath.Join(t.TempDir(), "junk")
	require.NoError(t, os.WriteFile(notImage, make([]byte, 4096), 0o644))
	_, err = Push(ctx, notImage, store, "junk")
	assert.ErrorIs(t, err, format.ErrBadMagic)
}

func TestPull_DetectsCorruption(t *testing.T) {
	ctx := context.Background()
	image := buildImage(t, randomBytes(500))
	store := blobstore.NewMemoryStore()

	_, err := Push(ctx, image, store, "v1", func(o *Options) {
		o.ChunkSize = 16 << 10
		o.Compression = CompressionNone
	})
	require.NoError(t, err)

	frame, err := blobstore.ReadAll(ctx, store, chunkName("v1", 0))
	require.NoError(t, err)
	frame[len(frame)-1] ^= 0xFF
	require.NoError(t, store.Put(ctx, chunkName("v1", 0), frame))

	dst := filepath.Join(t.TempDir(), "restored.x3")
	_, err = Pull(ctx, store, "v1", dst)
	assert.ErrorIs(t, err, ErrCorrupt)

	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr), "nothing is renamed into place")
	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(dst), ".x3fs-pull-*"))
	assert.Empty(t, leftovers)
}

func TestPull_NotFound(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	dst := filepath.Join(t.TempDir(), "x.x3")

	_, err := Pull(ctx, store, "", dst)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = Pull(ctx, store, "missing", dst)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListAndDelete(t *testing.T) {
	ctx := context.Background()
	image := buildImage(t, []byte("x"))
	store := blobstore.NewMemoryStore()

	_, err := Push(ctx, image, store, "a")
	require.NoError(t, err)
	_, err = Push(ctx, image, store, "b")
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "c/manifest.json", []byte("not json")))

	infos, err := List(ctx, store)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "a", infos[0].Name)
	assert.False(t, infos[0].Current)
	assert.Equal(t, "b", infos[1].Name)
	assert.True(t, infos[1].Current)
	assert.Equal(t, CompressionZSTD, infos[1].Compression)

	assert.ErrorIs(t, Delete(ctx, store, "b"), ErrCurrent)
	require.NoError(t, Delete(ctx, store, "a"))
	assert.ErrorIs(t, Delete(ctx, store, "a"), ErrNotFound)

	names, err := store.List(ctx, "a/")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestChunkFraming(t *testing.T) {
	incompressible := randomBytes(1024)
	for _, c := range []Compression{CompressionLZ4, CompressionZSTD} {
		frame := encodeChunk(incompressible, c)
		assert.Len(t, frame, frameHeaderSize+len(incompressible), "%s falls back to raw", c)
		out, err := decodeChunk(frame, c)
		require.NoError(t, err)
		assert.Equal(t, incompressible, out)
	}

	_, err := decodeChunk([]byte{1, 2, 3}, CompressionZSTD)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestParseCompression(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		got, err := ParseCompression(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := ParseCompression("brotli")
	assert.Error(t, err)
}
