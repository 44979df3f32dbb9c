package cadence

import "time"

// Gate decides whether a cadence is due at a given instant.
//
// Realtime is always due. Daily is due during the reset hour. Weekly is due
// during the reset hour of the reset weekday. All checks are made in Location.
type Gate struct {
	ResetHour int
	ResetDay  time.Weekday
	Location  *time.Location
}

// DefaultGate fires at midnight UTC, weekly on Sundays.
func DefaultGate() Gate {
	return Gate{ResetHour: 0, ResetDay: time.Sunday, Location: time.UTC}
}

func (g Gate) local(now time.Time) time.Time {
	if g.Location == nil {
		return now.UTC()
	}
	return now.In(g.Location)
}

// Due reports whether c should run at now.
func (g Gate) Due(c Cadence, now time.Time) bool {
	t := g.local(now)
	switch c {
	case Realtime:
		return true
	case Daily:
		return t.Hour() == g.ResetHour
	case Weekly:
		return t.Weekday() == g.ResetDay && t.Hour() == g.ResetHour
	default:
		return false
	}
}

// WindowStart returns the beginning of the reset hour containing now. It is
// only meaningful when Due(c, now) is true for a gated cadence.
func (g Gate) WindowStart(now time.Time) time.Time {
	t := g.local(now)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}

// Gated reports whether c has a time window (Daily, Weekly).
func (c Cadence) Gated() bool {
	return c == Daily || c == Weekly
}
