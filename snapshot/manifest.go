package snapshot

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/hupe1980/x3fs/blobstore"
	"github.com/hupe1980/x3fs/codec"
)

const (
	// CurrentName is the pointer blob holding the name of the latest snapshot.
	CurrentName = "CURRENT"
	// ManifestName is the manifest blob inside a snapshot.
	ManifestName = "manifest.json"
	// ManifestVersion is the version of the manifest format.
	ManifestVersion = 1
)

// Manifest describes one pushed image.
type Manifest struct {
	Version     int         `json:"version"`
	Name        string      `json:"name"`
	CreatedAt   time.Time   `json:"created_at"`
	ImageSize   int64       `json:"image_size"`
	BlockSize   uint32      `json:"block_size"`
	BlockCount  uint32      `json:"block_count"`
	ChunkSize   int         `json:"chunk_size"`
	Compression Compression `json:"compression"`
	Chunks      []ChunkInfo `json:"chunks"`
}

// ChunkInfo describes one chunk of the image.
type ChunkInfo struct {
	Index  int    `json:"index"`
	Offset int64  `json:"offset"`
	Size   int    `json:"size"`
	Stored int    `json:"stored"`
	CRC32C uint32 `json:"crc32c"`
}

// StoredBytes returns the total size of the chunk blobs.
func (m *Manifest) StoredBytes() int64 {
	var n int64
	for _, c := range m.Chunks {
		n += int64(c.Stored)
	}
	return n
}

func chunkName(snapshot string, i int) string {
	return path.Join(snapshot, fmt.Sprintf("chunk-%08d", i))
}

func manifestName(snapshot string) string {
	return path.Join(snapshot, ManifestName)
}

// ValidateName rejects names that cannot be used as a snapshot prefix.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case name == CurrentName || name == "." || name == "..":
		return fmt.Errorf("%w: %q is reserved", ErrInvalidName, name)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: %q contains a separator", ErrInvalidName, name)
	}
	return nil
}

// Current returns the name the CURRENT pointer refers to.
func Current(ctx context.Context, store blobstore.BlobStore) (string, error) {
	b, err := blobstore.ReadAll(ctx, store, CurrentName)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// LoadManifest reads the manifest of the named snapshot.
func LoadManifest(ctx context.Context, store blobstore.BlobStore, name string, c codec.Codec) (*Manifest, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	b, err := blobstore.ReadAll(ctx, store, manifestName(name))
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, err
	}
	m := &Manifest{}
	if err := codec.Decode(c, b, m); err != nil {
		return nil, fmt.Errorf("%w: manifest %s: %w", ErrCorrupt, name, err)
	}
	if m.Version != ManifestVersion {
		return nil, fmt.Errorf("%w: %d", ErrIncompatibleVersion, m.Version)
	}
	return m, nil
}
