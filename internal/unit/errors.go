package unit

import "errors"

var (
	// ErrAlreadyExists is returned when starting a unit whose identifier
	// is still registered.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotFound is returned for operations on an unknown identifier.
	ErrNotFound = errors.New("not found")

	// ErrSpawnFailed wraps the OS error from a failed process or PTY start.
	ErrSpawnFailed = errors.New("spawn failed")

	// ErrReadFailed is delivered through error callbacks when a worker's
	// read loop ends abnormally.
	ErrReadFailed = errors.New("read failed")

	// ErrFileUnavailable marks a file tail that gave up waiting for its
	// file to appear. It is logged, never delivered to callers.
	ErrFileUnavailable = errors.New("file unavailable")
)
