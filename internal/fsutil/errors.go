package fsutil

import (
	"errors"
	"io/fs"
	"net/http"
	"syscall"
)

// Error kinds. Every filesystem failure that leaves this module's
// components is one of these, wrapped in an *OpError.
var (
	// ErrPathViolation means the resolved path escapes the root.
	ErrPathViolation = errors.New("path outside root")

	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrNotADirectory = errors.New("not a directory")
	ErrNotAFile      = errors.New("not a file")

	// ErrInvalidName is a file or folder name that is not a single segment.
	ErrInvalidName = errors.New("invalid name")

	// ErrIO covers low-level read/write/rename failures.
	ErrIO = errors.New("i/o error")

	ErrPayloadTooLarge     = errors.New("payload too large")
	ErrInsufficientStorage = errors.New("insufficient storage")
)

var kinds = []error{
	ErrPathViolation,
	ErrNotFound,
	ErrAlreadyExists,
	ErrNotADirectory,
	ErrNotAFile,
	ErrInvalidName,
	ErrPayloadTooLarge,
	ErrInsufficientStorage,
	ErrIO,
}

// OpError records a failed operation on a relative path. Path is always the
// client-relative form; absolute locations stay in Err for logs only.
type OpError struct {
	Op   string
	Path string
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	s := e.Op
	if e.Path != "" {
		s += " " + e.Path
	}
	s += ": " + e.Kind.Error()
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Classify wraps err into an *OpError with the matching kind. Errors that
// are already classified pass through unchanged.
func Classify(op, rel string, err error) error {
	if err == nil {
		return nil
	}
	var oe *OpError
	if errors.As(err, &oe) {
		return err
	}
	return &OpError{Op: op, Path: rel, Kind: kindOf(err), Err: err}
}

// Kind returns the taxonomy kind of err, or ErrIO when none applies.
func Kind(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrIO
}

func kindOf(err error) error {
	var mbe *http.MaxBytesError
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ErrNotFound
	case errors.Is(err, fs.ErrExist):
		return ErrAlreadyExists
	case errors.Is(err, syscall.ENOTDIR):
		return ErrNotADirectory
	case errors.Is(err, syscall.EISDIR):
		return ErrNotAFile
	case errors.Is(err, syscall.ENOSPC):
		return ErrInsufficientStorage
	case errors.As(err, &mbe):
		return ErrPayloadTooLarge
	}
	return ErrIO
}
