package blobstore

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// MemoryStore keeps blobs in memory. Stored slices are immutable: Put and
// Create copy their input once, and readers share the stored slice.
//
// It counts the traffic that passes through it, so callers can check how
// many bytes a snapshot push or pull actually moved.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte

	puts, gets              atomic.Int64
	bytesWritten, bytesRead atomic.Int64
}

// MemoryStats counts the traffic of a MemoryStore.
type MemoryStats struct {
	Blobs        int
	StoredBytes  int64
	Puts         int64
	Gets         int64
	BytesWritten int64
	BytesRead    int64
}

// NewMemoryStore creates an empty in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Stats returns the current contents and traffic counters.
func (m *MemoryStore) Stats() MemoryStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := MemoryStats{
		Blobs:        len(m.blobs),
		Puts:         m.puts.Load(),
		Gets:         m.gets.Load(),
		BytesWritten: m.bytesWritten.Load(),
		BytesRead:    m.bytesRead.Load(),
	}
	for _, b := range m.blobs {
		st.StoredBytes += int64(len(b))
	}
	return st
}

// Open opens a blob for reading.
func (m *MemoryStore) Open(_ context.Context, name string) (Blob, error) {
	m.mu.RLock()
	data, ok := m.blobs[name]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	m.gets.Add(1)
	return &memoryBlob{store: m, data: data}, nil
}

// Create returns a blob that becomes visible under name when closed.
func (m *MemoryStore) Create(_ context.Context, name string) (WritableBlob, error) {
	return &memoryWritableBlob{store: m, name: name}, nil
}

// Put stores a copy of data under name.
func (m *MemoryStore) Put(_ context.Context, name string, data []byte) error {
	m.store(name, bytes.Clone(data))
	return nil
}

func (m *MemoryStore) store(name string, data []byte) {
	if data == nil {
		data = []byte{}
	}
	m.mu.Lock()
	m.blobs[name] = data
	m.mu.Unlock()
	m.puts.Add(1)
	m.bytesWritten.Add(int64(len(data)))
}

// Delete removes a blob. Missing blobs are ignored.
func (m *MemoryStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, name)
	return nil
}

// List returns the sorted names starting with prefix.
func (m *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var names []string
	for name := range m.blobs {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

type memoryBlob struct {
	store *MemoryStore
	data  []byte
}

func (b *memoryBlob) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[off:])
	b.store.bytesRead.Add(int64(n))
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *memoryBlob) ReadRange(_ context.Context, off, length int64) (io.ReadCloser, error) {
	if off < 0 || off >= int64(len(b.data)) {
		return nil, io.EOF
	}
	end := min(off+length, int64(len(b.data)))
	b.store.bytesRead.Add(end - off)
	return io.NopCloser(bytes.NewReader(b.data[off:end])), nil
}

// Bytes returns the stored slice without copying. Callers must not modify it.
func (b *memoryBlob) Bytes() ([]byte, error) {
	b.store.bytesRead.Add(int64(len(b.data)))
	return b.data, nil
}

func (b *memoryBlob) Close() error { return nil }

func (b *memoryBlob) Size() int64 { return int64(len(b.data)) }

type memoryWritableBlob struct {
	store  *MemoryStore
	name   string
	buf    bytes.Buffer
	closed bool
}

func (w *memoryWritableBlob) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrClosed
	}
	return w.buf.Write(p)
}

func (w *memoryWritableBlob) Sync() error { return nil }

func (w *memoryWritableBlob) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.store.store(w.name, bytes.Clone(w.buf.Bytes()))
	return nil
}
