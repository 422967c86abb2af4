package snapshot

import "errors"

var (
	// ErrNotFound is returned when a snapshot or the CURRENT pointer does not exist.
	ErrNotFound = errors.New("snapshot not found")

	// ErrInvalidName is returned for names that cannot be used as a snapshot prefix.
	ErrInvalidName = errors.New("invalid snapshot name")

	// ErrCorrupt is returned when a chunk or manifest fails verification.
	ErrCorrupt = errors.New("snapshot corrupt")

	// ErrIncompatibleVersion is returned when the manifest version is not supported.
	ErrIncompatibleVersion = errors.New("incompatible manifest version")

	// ErrInvalidOptions is returned when the options cannot work together,
	// such as a chunk larger than the resource memory limit.
	ErrInvalidOptions = errors.New("invalid snapshot options")

	// ErrExists is returned when pushing over an existing snapshot without Overwrite.
	ErrExists = errors.New("snapshot exists")
)

// ErrCurrent is returned when deleting the snapshot CURRENT points to.
var ErrCurrent = errors.New("snapshot is current")
