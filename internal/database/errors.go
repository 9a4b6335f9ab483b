package database

import "errors"

var (
	// ErrNotFound is returned by mutations targeting a missing row.
	ErrNotFound = errors.New("not found")
	// ErrStatusConflict is returned when a pending enrollment already left the pending state.
	ErrStatusConflict = errors.New("pending enrollment is no longer pending")
)
