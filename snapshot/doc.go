// Package snapshot pushes x3fs images to a blobstore and pulls them back.
//
// An image is split into fixed-size chunks. Each chunk is compressed
// (zstd, lz4 or none) and stored as <name>/chunk-NNNNNNNN; the chunk list,
// sizes and CRC32C checksums go to <name>/manifest.json. The CURRENT blob
// names the latest snapshot:
//
//	store := blobstore.NewLocalStore("/backups")
//	m, err := snapshot.Push(ctx, "disk.x3", store, "nightly")
//	...
//	_, err = snapshot.Pull(ctx, store, "", "restored.x3") // CURRENT
//
// Chunks move in parallel, bounded by Options.Concurrency and the
// resource.Controller, if one is given.
package snapshot
