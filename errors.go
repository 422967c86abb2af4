package x3fs

import (
	"strconv"

	"github.com/hupe1980/x3fs/internal/format"
)

// Errors returned by file system operations. Use errors.Is to test for them;
// operations wrap them in *PathError or *FdError.
var (
	ErrNameTooLong      = format.ErrNameTooLong
	ErrReservedName     = format.ErrReservedName
	ErrInvalidName      = format.ErrInvalidName
	ErrAlreadyExists    = format.ErrAlreadyExists
	ErrNotFound         = format.ErrNotFound
	ErrNotADirectory    = format.ErrNotADirectory
	ErrIsADirectory     = format.ErrIsADirectory
	ErrDirectoryFull    = format.ErrDirectoryFull
	ErrNoFreeSpace      = format.ErrNoFreeSpace
	ErrBadDescriptor    = format.ErrBadDescriptor
	ErrTooManyOpenFiles = format.ErrTooManyOpenFiles
	ErrIO               = format.ErrIO
	ErrBusy             = format.ErrBusy
	ErrInvalidOffset    = format.ErrInvalidOffset
	ErrInvalidArgument  = format.ErrInvalidArgument
	ErrCorrupt          = format.ErrCorrupt
	ErrBadMagic         = format.ErrBadMagic
	ErrInvalidGeometry  = format.ErrInvalidGeometry
	ErrClosed           = format.ErrClosed
)

// PathError records a failed name-qualified operation.
//
// The underlying error can be accessed via errors.Unwrap.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string { return e.Op + " " + e.Path + ": " + e.Err.Error() }

func (e *PathError) Unwrap() error { return e.Err }

// FdError records a failed descriptor-qualified operation.
//
// The underlying error can be accessed via errors.Unwrap.
type FdError struct {
	Op  string
	Fd  int
	Err error
}

func (e *FdError) Error() string { return e.Op + " fd " + strconv.Itoa(e.Fd) + ": " + e.Err.Error() }

func (e *FdError) Unwrap() error { return e.Err }

func pathError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &PathError{Op: op, Path: path, Err: err}
}

func fdError(op string, fd int, err error) error {
	if err == nil {
		return nil
	}
	return &FdError{Op: op, Fd: fd, Err: err}
}
