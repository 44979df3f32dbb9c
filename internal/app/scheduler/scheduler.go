// Package scheduler drives periodic snapshot computation for every cadence.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/okian/chartsnap/internal/app/snapshot"
	"github.com/okian/chartsnap/internal/clock"
	"github.com/okian/chartsnap/internal/domain/cadence"
	"github.com/okian/chartsnap/internal/domain/model"
	"github.com/okian/chartsnap/pkg/logger"
	"github.com/okian/chartsnap/pkg/metrics"
)

const defaultInterval = 15 * time.Minute

// Computer computes and persists one snapshot.
type Computer interface {
	Compute(ctx context.Context, c cadence.Cadence, trigger snapshot.Trigger) (model.Batch, error)
}

// LatestReader exposes the latest persisted snapshot time of a cadence.
type LatestReader interface {
	LatestSnapshotTime(ctx context.Context, c cadence.Cadence) (time.Time, bool, error)
}

// Decision is what a tick did with one cadence.
type Decision string

const (
	DecisionNotDue     Decision = "not_due"
	DecisionAlreadyRan Decision = "already_fired"
	DecisionRan        Decision = "ran"
	DecisionFailed     Decision = "failed"
)

// Outcome reports the handling of one cadence during a tick.
type Outcome struct {
	Cadence  cadence.Cadence
	Decision Decision
	Entries  int
	Err      error
}

// Scheduler runs due cadences one at a time, then sleeps.
type Scheduler struct {
	computer Computer
	latest   LatestReader
	gate     cadence.Gate
	interval time.Duration
	clock    clock.Clock
	fireOnce bool
	logger   logger.Logger
}

// New returns a Scheduler. latest is consulted to suppress repeated daily
// and weekly runs within one window.
func New(computer Computer, latest LatestReader, opts ...Option) *Scheduler {
	s := &Scheduler{
		computer: computer,
		latest:   latest,
		gate:     cadence.DefaultGate(),
		interval: defaultInterval,
		clock:    clock.Real{},
		fireOnce: true,
		logger:   logger.Get().Named("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run ticks immediately and then every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info(ctx, "scheduler started",
		logger.Duration("interval", s.interval),
		logger.Int("reset_hour", s.gate.ResetHour),
		logger.String("reset_day", s.gate.ResetDay.String()),
	)
	for {
		s.Tick(ctx, s.clock.Now())

		select {
		case <-ctx.Done():
			s.logger.Info(context.WithoutCancel(ctx), "scheduler stopped")
			return nil
		case <-s.clock.After(s.interval):
		}
	}
}

// Tick evaluates every cadence at now and computes the due ones in order.
// A failing or panicking cadence does not prevent the others from running.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) []Outcome {
	outcomes := make([]Outcome, 0, len(cadence.All()))
	failed := false
	for _, c := range cadence.All() {
		if ctx.Err() != nil {
			break
		}
		o := s.handle(ctx, c, now)
		metrics.RecordGateDecision(c.String(), string(o.Decision))
		if o.Decision == DecisionFailed {
			failed = true
			s.logger.Error(ctx, "scheduled snapshot failed",
				logger.String("cadence", c.String()),
				logger.Error(o.Err))
		}
		outcomes = append(outcomes, o)
	}

	if failed {
		metrics.RecordSchedulerTick("partial_failure")
	} else {
		metrics.RecordSchedulerTick("ok")
	}
	return outcomes
}

func (s *Scheduler) handle(ctx context.Context, c cadence.Cadence, now time.Time) Outcome {
	if !s.gate.Due(c, now) {
		return Outcome{Cadence: c, Decision: DecisionNotDue}
	}

	if s.fireOnce && c.Gated() {
		last, ok, err := s.latest.LatestSnapshotTime(ctx, c)
		if err != nil {
			return Outcome{Cadence: c, Decision: DecisionFailed, Err: fmt.Errorf("read last fired: %w", err)}
		}
		if ok && !last.Before(s.gate.WindowStart(now)) {
			s.logger.Debug(ctx, "cadence already fired in this window",
				logger.String("cadence", c.String()),
				logger.Time("last", last))
			return Outcome{Cadence: c, Decision: DecisionAlreadyRan}
		}
	}

	var (
		batch model.Batch
		err   error
		pc    panics.Catcher
	)
	pc.Try(func() {
		batch, err = s.computer.Compute(ctx, c, snapshot.TriggerScheduled)
	})
	if r := pc.Recovered(); r != nil {
		metrics.RecordErrorByComponent("scheduler", "panic")
		err = r.AsError()
	}
	if err != nil {
		return Outcome{Cadence: c, Decision: DecisionFailed, Err: err}
	}
	return Outcome{Cadence: c, Decision: DecisionRan, Entries: len(batch.Entries)}
}
