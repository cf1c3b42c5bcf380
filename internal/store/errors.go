package store

import "errors"

var (
	// ErrNotFound means the requested conversation file does not exist.
	// Callers may fall back to a full fetch or skip the conversation.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists means a save without force would overwrite an
	// existing file, or a processed file is already in place.
	ErrAlreadyExists = errors.New("already exists")

	// ErrLockTimeout means a file lock could not be acquired within the
	// configured timeout. Transient contention: retry next cycle, never
	// treat as data corruption.
	ErrLockTimeout = errors.New("lock timeout")
)
