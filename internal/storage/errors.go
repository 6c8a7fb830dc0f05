// internal/storage/errors.go
package storage

import "errors"

var (
	// ErrNotFound is returned when a token does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateKey is returned when a token id is already taken.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrVersionConflict is returned by CommitTrade when the stored version
	// no longer matches the version the trade was computed on.
	ErrVersionConflict = errors.New("version conflict")
)
