package minio

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/hupe1980/x3fs/blobstore"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(minio.ErrorResponse{Code: "NoSuchKey"}))
	assert.True(t, isNotFound(minio.ErrorResponse{Code: "NotFound"}))
	assert.False(t, isNotFound(minio.ErrorResponse{Code: "AccessDenied"}))
	assert.False(t, isNotFound(errors.New("boom")))
}

func TestBlob_OutOfRange(t *testing.T) {
	b := &minioBlob{size: 4}
	ctx := context.Background()

	_, err := b.ReadAt(ctx, make([]byte, 1), 4)
	assert.ErrorIs(t, err, io.EOF)
	_, err = b.ReadRange(ctx, -1, 1)
	assert.ErrorIs(t, err, io.EOF)

	n, err := b.ReadAt(ctx, nil, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWritableBlob_Abort(t *testing.T) {
	pr, pw := io.Pipe()
	w := &minioWritableBlob{pw: pw, done: make(chan error, 1)}

	go func() {
		_, err := io.ReadAll(pr)
		w.done <- err
	}()

	require.NoError(t, w.Abort())
	_, err := w.Write([]byte("x"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
	assert.Error(t, w.Close(), "Close after Abort reports the abort")
	assert.Error(t, <-w.done)
}

// TestStore_Integration requires a running MinIO instance at MINIO_ENDPOINT.
func TestStore_Integration(t *testing.T) {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("Skipping MinIO integration test: MINIO_ENDPOINT not set")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	require.NoError(t, err)

	ctx := context.Background()
	bucket := "test-x3fs"
	exists, err := client.BucketExists(ctx, bucket)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
	}

	store := NewStore(client, bucket, func(o *Options) { o.Prefix = "test-prefix/" })

	data := []byte("hello minio world")
	require.NoError(t, store.Put(ctx, "snap/test.bin", data))

	got, err := blobstore.ReadAll(ctx, store, "snap/test.bin")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	blob, err := store.Open(ctx, "snap/test.bin")
	require.NoError(t, err)
	rc, err := blob.ReadRange(ctx, 6, 5)
	require.NoError(t, err)
	part, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "minio", string(part))
	require.NoError(t, rc.Close())
	require.NoError(t, blob.Close())

	wb, err := store.Create(ctx, "snap/stream.bin")
	require.NoError(t, err)
	_, err = wb.Write([]byte("streamed data"))
	require.NoError(t, err)
	require.NoError(t, wb.Close())

	names, err := store.List(ctx, "snap/")
	require.NoError(t, err)
	assert.Equal(t, []string{"snap/stream.bin", "snap/test.bin"}, names)

	require.NoError(t, store.Delete(ctx, "snap/test.bin"))
	require.NoError(t, store.Delete(ctx, "snap/stream.bin"))
	_, err = store.Open(ctx, "snap/test.bin")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}
