// Package mmap maps an image file read-only into memory.
//
// The offline checker walks a whole image block by block; mapping it avoids
// one read call per block and lets the kernel prefetch sequential scans.
//
//	m, err := mmap.Open("disk.x3")
//	if err != nil { ... }
//	defer m.Close()
//
//	m.Advise(mmap.AccessSequential)
//	blk, _ := m.Region(id*blockSize, blockSize)
//
// Unix uses mmap(2) and madvise(2). Windows uses CreateFileMapping and
// MapViewOfFile; Advise is a no-op there.
package mmap
