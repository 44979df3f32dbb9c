package service

import "errors"

// Sentinel errors.
var (
	ErrNotStarted       = errors.New("service not started")
	ErrBackpressure     = errors.New("play queue is full")
	ErrUnknownDriver    = errors.New("unknown store driver")
	ErrStoreUnavailable = errors.New("snapshot store unavailable")
)
