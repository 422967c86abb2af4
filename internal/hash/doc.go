// Package hash provides the CRC32-Castagnoli (CRC32C) checksum used for
// data leaving the image: snapshot chunks and S3 uploads.
//
// The superblock keeps its CRC32-IEEE checksum; that is part of the on-disk
// format and does not go through this package.
//
// For one-shot checksums:
//
//	sum := hash.CRC32C(data)
//
// For streaming checksums:
//
//	h := hash.NewCRC32C()
//	h.Write(chunk1)
//	h.Write(chunk2)
//	sum := h.Sum32()
package hash
