// Package x3fs is a small FAT-style file system stored inside one flat image
// file.
//
// An image is a sequence of fixed-size blocks: a superblock, a reserved
// sentinel block, the allocation table (one entry per block, chaining the
// blocks of each file), and directory and data blocks. Directories are single
// blocks holding an array of file control blocks (FCBs).
//
// # Quick Start
//
//	if err := x3fs.Format("disk.x3", x3fs.WithBlockSize(512), x3fs.WithBlockCount(2048)); err != nil {
//	    log.Fatal(err)
//	}
//
//	fsys, err := x3fs.Mount("disk.x3")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer fsys.Close()
//
//	_ = fsys.Mkdir("docs")
//	_ = fsys.Chdir("docs")
//	_ = fsys.Create("hello.txt")
//
//	fd, _ := fsys.Open("hello.txt")
//	_, _ = fsys.Write(fd, []byte("hello, world"))
//	_ = fsys.CloseFile(fd)
//
// # Durability Model
//
// There is no write buffering. Every mutating operation writes the affected
// directory block and the dirty allocation table blocks before it returns.
// File sizes reach the directory when the descriptor is closed. A write that
// runs out of space keeps what it wrote; nothing is rolled back.
//
// # Concurrency
//
// An FS is a single-threaded session. Mount one image at most once at a time.
//
// # Related Packages
//
//   - fsck: offline consistency checker
//   - hostcopy: copy files between the host and a mounted image
//   - snapshot: compressed image snapshots in a blobstore (local, S3, MinIO)
package x3fs
