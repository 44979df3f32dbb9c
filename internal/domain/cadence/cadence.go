// Package cadence defines the recurring chart periods and the gates that
// decide when each of them is due.
package cadence

import (
	"strings"
)

// Cadence is a named recurrence period for a chart.
type Cadence string

// Supported cadences. The string values are the wire tokens.
const (
	Realtime Cadence = "realtime"
	Daily    Cadence = "daily"
	Weekly   Cadence = "weekly"
)

// All returns every cadence in scheduling order.
func All() []Cadence {
	return []Cadence{Realtime, Daily, Weekly}
}

// Parse resolves a wire token (case-insensitive) to a Cadence.
func Parse(s string) (Cadence, error) {
	c := Cadence(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", &ParseError{Token: s}
	}
	return c, nil
}

// Valid reports whether c is one of the supported cadences.
func (c Cadence) Valid() bool {
	switch c {
	case Realtime, Daily, Weekly:
		return true
	default:
		return false
	}
}

func (c Cadence) String() string { return string(c) }
