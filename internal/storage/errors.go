package storage

import "errors"

var (
	// ErrDuplicateKey is wrapped by backends when a write violates a unique or
	// primary key constraint.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrUnknownTable is returned by backends that track table specs in process
	// (badger, memory) when a table was never passed to EnsureTables.
	ErrUnknownTable = errors.New("unknown table")

	// ErrInvalidMaxAttempts is returned by OpenWithRetry for attempts <= 0.
	ErrInvalidMaxAttempts = errors.New("max attempts must be positive")
)

// IsDuplicateKey reports whether err wraps ErrDuplicateKey.
func IsDuplicateKey(err error) bool { return errors.Is(err, ErrDuplicateKey) }
