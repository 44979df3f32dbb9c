package repository

import (
	"context"
	"time"

	"github.com/okian/chartsnap/internal/domain/cadence"
	"github.com/okian/chartsnap/internal/domain/model"
	"github.com/okian/chartsnap/pkg/logger"
	"github.com/okian/chartsnap/pkg/metrics"
)

// Instrumented decorates a Store with latency metrics and error logging.
type Instrumented struct {
	next    Store
	log     logger.Logger
	backend string
}

var (
	_ Store      = (*Instrumented)(nil)
	_ CountStore = (*Instrumented)(nil)
)

// NewInstrumented wraps next.
func NewInstrumented(next Store, opts ...Option) *Instrumented {
	s := &Instrumented{next: next, log: logger.Nop(), backend: "unknown"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Unwrap returns the decorated store.
func (s *Instrumented) Unwrap() Store { return s.next }

func (s *Instrumented) observe(ctx context.Context, op string, start time.Time, err error) {
	metrics.RecordStoreLatency(op, float64(time.Since(start).Microseconds())/1000)
	if err != nil {
		metrics.RecordStoreError(op)
		s.log.Warn(ctx, "snapshot store operation failed",
			logger.String("backend", s.backend),
			logger.String("operation", op),
			logger.Error(err))
	}
}

func (s *Instrumented) Append(ctx context.Context, b model.Batch) (err error) {
	defer func(start time.Time) { s.observe(ctx, "append", start, err) }(time.Now())
	return s.next.Append(ctx, b)
}

func (s *Instrumented) LatestSnapshotTime(ctx context.Context, c cadence.Cadence) (t time.Time, ok bool, err error) {
	defer func(start time.Time) { s.observe(ctx, "latest_snapshot_time", start, err) }(time.Now())
	return s.next.LatestSnapshotTime(ctx, c)
}

func (s *Instrumented) EntriesAt(ctx context.Context, c cadence.Cadence, t time.Time) (es []model.Entry, err error) {
	defer func(start time.Time) { s.observe(ctx, "entries_at", start, err) }(time.Now())
	return s.next.EntriesAt(ctx, c, t)
}

func (s *Instrumented) MostRecentPriorEntry(ctx context.Context, c cadence.Cadence, itemID string, before time.Time) (e model.Entry, ok bool, err error) {
	defer func(start time.Time) { s.observe(ctx, "most_recent_prior_entry", start, err) }(time.Now())
	return s.next.MostRecentPriorEntry(ctx, c, itemID, before)
}

func (s *Instrumented) SnapshotTimeBefore(ctx context.Context, c cadence.Cadence, before time.Time) (t time.Time, ok bool, err error) {
	defer func(start time.Time) { s.observe(ctx, "snapshot_time_before", start, err) }(time.Now())
	return s.next.SnapshotTimeBefore(ctx, c, before)
}

func (s *Instrumented) SnapshotTimes(ctx context.Context, c cadence.Cadence, limit int) (ts []time.Time, err error) {
	defer func(start time.Time) { s.observe(ctx, "snapshot_times", start, err) }(time.Now())
	return s.next.SnapshotTimes(ctx, c, limit)
}

// LoadPlayCounts delegates to the wrapped store, or fails with
// ErrNoCountStore when it keeps no counts.
func (s *Instrumented) LoadPlayCounts(ctx context.Context) (counts map[string]int64, err error) {
	cs, ok := s.next.(CountStore)
	if !ok {
		return nil, ErrNoCountStore
	}
	defer func(start time.Time) { s.observe(ctx, "load_play_counts", start, err) }(time.Now())
	return cs.LoadPlayCounts(ctx)
}

func (s *Instrumented) SavePlayCounts(ctx context.Context, counts map[string]int64) (err error) {
	cs, ok := s.next.(CountStore)
	if !ok {
		return ErrNoCountStore
	}
	defer func(start time.Time) { s.observe(ctx, "save_play_counts", start, err) }(time.Now())
	return cs.SavePlayCounts(ctx, counts)
}

func (s *Instrumented) Close() error { return s.next.Close() }
