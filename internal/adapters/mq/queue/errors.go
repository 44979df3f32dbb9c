package queue

import "errors"

// Sentinel errors.
var (
	// ErrFull is returned when the queue is at capacity.
	ErrFull = errors.New("queue full")
	// ErrClosed is returned when enqueuing after Close.
	ErrClosed = errors.New("queue closed")
)
