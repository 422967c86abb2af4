// Package fs provides host filesystem abstractions for testability and fault injection.
//
// The package defines two key interfaces:
//
//   - [File]: an open host file with positioned read/write and sync
//   - [FileSystem]: host operations needed to create and mount images
//
// # Implementations
//
//   - [LocalFS]: production implementation using the os package
//   - [FaultyFS]: test utility that injects I/O errors into image files
//
// Production code uses fs.Default:
//
//	file, err := fs.Default.OpenFile(path, os.O_RDWR, 0)
//
// Tests inject a [FaultyFS] to simulate a failing backing image:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.SetLimit(4096) // fail once 4KB have been written
//
// Operations take no context.Context: positioned reads and writes on a local
// image are not interruptible at the syscall level.
package fs
