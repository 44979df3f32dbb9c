package repository

import "errors"

// Sentinel kinds for snapshot store errors.
var (
	ErrEmptyBatch   = errors.New("snapshot batch has no entries")
	ErrInvalidBatch = errors.New("invalid snapshot batch")
	ErrInvalidLimit = errors.New("invalid snapshot limit")
	ErrClosed       = errors.New("snapshot store closed")
	ErrNoCountStore = errors.New("store does not persist play counts")
)
