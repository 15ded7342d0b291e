package store

import "errors"

var (
	// ErrKeyNotFound is returned when a key has no version history.
	ErrKeyNotFound = errors.New("key not found")

	// ErrInvalidVersion is returned when a version is outside [1, length].
	ErrInvalidVersion = errors.New("invalid version")

	// ErrEmptyHistory is returned when a present key holds no versions.
	// Deletes remove a key as soon as its history empties, so this is not
	// reachable through the Store API.
	ErrEmptyHistory = errors.New("no values stored")
)
