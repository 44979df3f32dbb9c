// Package snapshot turns the current metric values into ranked, immutable
// chart snapshots.
package snapshot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okian/chartsnap/internal/adapters/counter"
	"github.com/okian/chartsnap/internal/adapters/repository"
	"github.com/okian/chartsnap/internal/clock"
	"github.com/okian/chartsnap/internal/domain/cadence"
	"github.com/okian/chartsnap/internal/domain/model"
	"github.com/okian/chartsnap/internal/domain/ranking"
	"github.com/okian/chartsnap/pkg/logger"
	"github.com/okian/chartsnap/pkg/metrics"
)

const defaultTopN = 20

// Trigger names what started a computation.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// PrevRankPolicy selects where an entry's previous rank comes from.
type PrevRankPolicy string

const (
	// PrevRankSnapshot takes the rank from the nearest strictly earlier
	// snapshot of the cadence; items absent there get no previous rank.
	PrevRankSnapshot PrevRankPolicy = "snapshot"
	// PrevRankItem takes the rank from the item's own most recent earlier
	// entry, however old.
	PrevRankItem PrevRankPolicy = "item"
)

// ParsePrevRankPolicy resolves a configured policy name.
func ParsePrevRankPolicy(s string) (PrevRankPolicy, error) {
	switch p := PrevRankPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", PrevRankSnapshot:
		return PrevRankSnapshot, nil
	case PrevRankItem:
		return p, nil
	default:
		return "", fmt.Errorf("unknown prev rank policy %q", s)
	}
}

// Computer builds and persists snapshots.
type Computer struct {
	store  repository.Store
	source counter.Source
	clock  clock.Clock
	topN   int
	tie    ranking.TieBreak
	policy PrevRankPolicy
	logger logger.Logger
}

// New returns a Computer reading from source and writing to store.
func New(store repository.Store, source counter.Source, opts ...Option) (*Computer, error) {
	c := &Computer{
		store:  store,
		source: source,
		clock:  clock.Real{},
		topN:   defaultTopN,
		tie:    ranking.Lexical,
		policy: PrevRankSnapshot,
		logger: logger.Get().Named("snapshot"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.topN <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTopN, c.topN)
	}
	if _, err := ParsePrevRankPolicy(string(c.policy)); err != nil {
		return nil, err
	}
	return c, nil
}

// TopN returns the configured chart size.
func (c *Computer) TopN() int { return c.topN }

// Compute ranks the current metrics for cad and appends the result as one
// batch. All entries share a single snapshot time captured before any store
// lookup; it never precedes the cadence's latest snapshot time.
//
// With no tracked items nothing is persisted and an empty batch is returned.
// On error no entry of the batch is visible.
func (c *Computer) Compute(ctx context.Context, cad cadence.Cadence, trigger Trigger) (model.Batch, error) {
	if !cad.Valid() {
		return model.Batch{}, &cadence.ParseError{Token: string(cad)}
	}

	start := time.Now()
	batch, err := c.compute(ctx, cad)
	metrics.RecordSnapshotDuration(cad.String(), float64(time.Since(start).Microseconds())/1000)

	result := "ok"
	switch {
	case err != nil:
		result = "error"
		metrics.RecordErrorByComponent("snapshot", "compute_failed")
	case len(batch.Entries) == 0:
		result = "empty"
	default:
		metrics.UpdateSnapshotPublished(cad.String(), len(batch.Entries), batch.SnapshotTime.Unix())
	}
	metrics.RecordSnapshotRun(cad.String(), string(trigger), result)

	if err != nil {
		return model.Batch{}, err
	}
	c.logger.Debug(ctx, "snapshot computed",
		logger.String("cadence", cad.String()),
		logger.String("trigger", string(trigger)),
		logger.String("run_id", batch.RunID),
		logger.Int("entries", len(batch.Entries)),
		logger.Time("snapshot_time", batch.SnapshotTime),
	)
	return batch, nil
}

func (c *Computer) compute(ctx context.Context, cad cadence.Cadence) (model.Batch, error) {
	now := repository.UTCMicro(c.clock.Now())
	latest, ok, err := c.store.LatestSnapshotTime(ctx, cad)
	if err != nil {
		return model.Batch{}, fmt.Errorf("%w: %w", ErrPriorRanks, err)
	}
	if ok && now.Before(latest) {
		// wall clock stepped back; keep snapshot times non-decreasing
		c.logger.Warn(ctx, "clock behind latest snapshot, reusing its time",
			logger.String("cadence", cad.String()),
			logger.Time("now", now),
			logger.Time("latest", latest))
		now = latest
	}

	values, err := c.source.ReadAll(ctx)
	if err != nil {
		return model.Batch{}, fmt.Errorf("%w: %w", ErrReadMetrics, err)
	}

	ranked := ranking.TopN(values, c.topN, c.tie)
	batch := model.Batch{Cadence: cad, SnapshotTime: now}
	if len(ranked) == 0 {
		return batch, nil
	}

	prev, err := c.previousRanks(ctx, cad, now, ranked)
	if err != nil {
		return model.Batch{}, fmt.Errorf("%w: %w", ErrPriorRanks, err)
	}

	batch.RunID = uuid.NewString()
	batch.Entries = make([]model.Entry, len(ranked))
	for i, r := range ranked {
		e := model.Entry{
			Cadence:      cad,
			ItemID:       r.ItemID,
			Rank:         r.Rank,
			MetricValue:  r.Value,
			SnapshotTime: now,
			RunID:        batch.RunID,
		}
		if p, ok := prev[r.ItemID]; ok {
			e.PrevRank = &p
		}
		batch.Entries[i] = e
	}

	if err := c.store.Append(ctx, batch); err != nil {
		return model.Batch{}, fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return batch, nil
}

// previousRanks maps item id to its prior rank under the configured policy.
func (c *Computer) previousRanks(ctx context.Context, cad cadence.Cadence, before time.Time, ranked []ranking.Ranked) (map[string]int, error) {
	prev := make(map[string]int, len(ranked))

	if c.policy == PrevRankItem {
		for _, r := range ranked {
			e, ok, err := c.store.MostRecentPriorEntry(ctx, cad, r.ItemID, before)
			if err != nil {
				return nil, err
			}
			if ok {
				prev[r.ItemID] = e.Rank
			}
		}
		return prev, nil
	}

	t, ok, err := c.store.SnapshotTimeBefore(ctx, cad, before)
	if err != nil || !ok {
		return prev, err
	}
	entries, err := c.store.EntriesAt(ctx, cad, t)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		prev[e.ItemID] = e.Rank
	}
	return prev, nil
}
