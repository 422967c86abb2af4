// Package cache provides a bounded LRU cache of image blocks.
//
// The block device uses it as a write-through read cache: every write goes
// to the image first and then replaces the cached copy, so the cache never
// holds bytes the image does not. Memory is optionally accounted against a
// resource.Controller.
package cache
