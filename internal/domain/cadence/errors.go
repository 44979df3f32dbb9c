package cadence

import (
	"errors"
	"fmt"
)

// ErrInvalidCadence is returned for tokens outside the supported set.
var ErrInvalidCadence = errors.New("invalid cadence")

// ParseError carries the rejected token.
type ParseError struct {
	Token string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %q", ErrInvalidCadence, e.Token)
}

// Unwrap lets errors.Is match ErrInvalidCadence.
func (e *ParseError) Unwrap() error { return ErrInvalidCadence }
