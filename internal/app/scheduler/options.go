package scheduler

import (
	"time"

	"github.com/okian/chartsnap/internal/clock"
	"github.com/okian/chartsnap/internal/domain/cadence"
	"github.com/okian/chartsnap/pkg/logger"
)

// Option applies a configuration option to the Scheduler.
type Option func(*Scheduler)

// WithGate sets the reset hour, day and zone used to decide due cadences.
func WithGate(g cadence.Gate) Option {
	return func(s *Scheduler) {
		s.gate = g
	}
}

// WithInterval sets the sleep between ticks.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock sets the time source driving gates and sleeps.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithFireOncePerWindow toggles suppression of repeated daily and weekly
// runs inside one reset hour.
func WithFireOncePerWindow(on bool) Option {
	return func(s *Scheduler) {
		s.fireOnce = on
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}
