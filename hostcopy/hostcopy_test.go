package hostcopy

import (
	"bytes"
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hupe1980/x3fs"
	"github.com/hupe1980/x3fs/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mount(t *testing.T, blockSize, blockCount int) *x3fs.FS {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.x3")
	require.NoError(t, x3fs.Format(path, x3fs.WithBlockSize(blockSize), x3fs.WithBlockCount(blockCount)))
	fsys, err := x3fs.Mount(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fsys.Close() })
	return fsys
}

func TestCopyInCopyOut(t *testing.T) {
	ctx := context.Background()
	fsys := mount(t, 128, 256)

	data := make([]byte, 5000)
	rand.New(rand.NewSource(7)).Read(data)
	host := filepath.Join(t.TempDir(), "in.bin")
	require.NoError(t, os.WriteFile(host, data, 0o644))

	small := func(o *Options) { o.BufferSize = 100 }

	n, err := CopyIn(ctx, fsys, host, "blob", small)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)
	assert.Empty(t, fsys.Lsof(), "descriptor is closed")

	entries := fsys.List()
	require.Len(t, entries, 1)
	assert.Equal(t, uint32(len(data)), entries[0].Size)

	out := filepath.Join(t.TempDir(), "out.bin")
	n, err = CopyOut(ctx, fsys, "blob", out, small)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = CopyIn(ctx, fsys, host, "blob")
	assert.ErrorIs(t, err, x3fs.ErrAlreadyExists)
}

func TestCatAndAppend(t *testing.T) {
	ctx := context.Background()
	fsys := mount(t, 64, 64)
	require.NoError(t, fsys.Create("log"))

	_, err := Append(ctx, fsys, "log", strings.NewReader("hello, "))
	require.NoError(t, err)
	_, err = Append(ctx, fsys, "log", strings.NewReader("world"))
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := Cat(ctx, fsys, "log", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
	assert.Equal(t, "hello, world", buf.String())

	buf.Reset()
	n, err = Cat(ctx, fsys, "missing", &buf)
	assert.ErrorIs(t, err, x3fs.ErrNotFound)
	assert.Zero(t, n)
}

func TestCopyIn_NoFreeSpace(t *testing.T) {
	ctx := context.Background()
	// 64/16 leaves 12 free blocks of 64 bytes.
	fsys := mount(t, 64, 16)

	host := filepath.Join(t.TempDir(), "big")
	require.NoError(t, os.WriteFile(host, make([]byte, 13*64), 0o644))

	n, err := CopyIn(ctx, fsys, host, "big")
	assert.ErrorIs(t, err, x3fs.ErrNoFreeSpace)
	assert.Equal(t, int64(12*64), n)

	entries := fsys.List()
	require.Len(t, entries, 1)
	assert.Equal(t, uint32(12*64), entries[0].Size, "the partial write is kept")
}

func TestCopy_Throttled(t *testing.T) {
	ctx := context.Background()
	fsys := mount(t, 64, 64)
	rc := resource.NewController(resource.Config{IOLimitBytesPerSec: 1 << 20})
	limited := func(o *Options) { o.Resource = rc }

	require.NoError(t, fsys.Create("f"))
	_, err := Append(ctx, fsys, "f", strings.NewReader("abc"), limited)
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = Cat(ctx, fsys, "f", &buf, limited)
	require.NoError(t, err)
	assert.Equal(t, "abc", buf.String())
}

func TestCopy_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fsys := mount(t, 64, 64)
	require.NoError(t, fsys.Create("f"))

	_, err := Append(ctx, fsys, "f", strings.NewReader("abc"))
	assert.ErrorIs(t, err, context.Canceled)
}
