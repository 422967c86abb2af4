package blobstore

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	w, err := store.Create(ctx, "b/2")
	require.NoError(t, err)
	_, err = w.Write([]byte("two"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data := []byte("one")
	require.NoError(t, store.Put(ctx, "b/1", data))
	data[0] = 'X'

	names, err := store.List(ctx, "b/")
	require.NoError(t, err)
	assert.Equal(t, []string{"b/1", "b/2"}, names)

	blob, err := store.Open(ctx, "b/1")
	require.NoError(t, err)
	buf := make([]byte, 3)
	_, err = blob.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "one", string(buf), "Put copies its input")

	r, err := blob.ReadRange(ctx, 1, 10)
	require.NoError(t, err)
	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "ne", string(rest))

	_, err = blob.ReadRange(ctx, 3, 1)
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, store.Delete(ctx, "b/1"))
	_, err = store.Open(ctx, "b/1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_StatsAndSharing(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "snap/chunk-00000000", []byte("abcdef")))
	w, err := store.Create(ctx, "snap/manifest.json")
	require.NoError(t, err)
	_, err = w.Write([]byte("{}"))
	require.NoError(t, err)

	st := store.Stats()
	assert.Equal(t, 1, st.Blobs, "Create is invisible until Close")

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	_, err = w.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)

	data, err := ReadAll(ctx, store, "snap/chunk-00000000")
	require.NoError(t, err)
	data[0] = 'X'
	again, err := ReadAll(ctx, store, "snap/chunk-00000000")
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(again), "ReadAll hands out copies")

	st = store.Stats()
	assert.Equal(t, MemoryStats{
		Blobs:        2,
		StoredBytes:  8,
		Puts:         2,
		Gets:         2,
		BytesWritten: 8,
		BytesRead:    12,
	}, st)

	_, err = store.Open(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int64(2), store.Stats().Gets, "misses are not counted")
}
