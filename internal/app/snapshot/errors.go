package snapshot

import "errors"

// Sentinel errors.
var (
	// ErrInvalidTopN is returned when the configured chart size is not positive.
	ErrInvalidTopN = errors.New("top-n must be positive")
	// ErrReadMetrics wraps failures of the metric source.
	ErrReadMetrics = errors.New("read metrics")
	// ErrPriorRanks wraps store failures while resolving previous ranks.
	ErrPriorRanks = errors.New("resolve previous ranks")
	// ErrPersist wraps store failures while appending a batch.
	ErrPersist = errors.New("persist snapshot")
)
