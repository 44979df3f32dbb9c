// Package storetest holds the behavioural suite every snapshot store backend
// must pass.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/chartsnap/internal/adapters/repository"
	"github.com/okian/chartsnap/internal/domain/cadence"
	"github.com/okian/chartsnap/internal/domain/model"
)

// Factory returns an empty store. It is called once per sub-test.
type Factory func(t *testing.T) repository.Store

// Base is a microsecond-precise UTC instant used by the suite.
var Base = time.Date(2024, 3, 3, 0, 0, 0, 123456000, time.UTC)

// Item describes one entry of a test batch.
type Item struct {
	ID    string
	Value int64
	Prev  *int
}

// Batch builds a valid batch ranking items in the given order.
func Batch(c cadence.Cadence, at time.Time, runID string, items ...Item) model.Batch {
	b := model.Batch{Cadence: c, SnapshotTime: at, RunID: runID}
	for i, it := range items {
		b.Entries = append(b.Entries, model.Entry{
			Cadence:      c,
			ItemID:       it.ID,
			Rank:         i + 1,
			PrevRank:     it.Prev,
			MetricValue:  it.Value,
			SnapshotTime: at,
			RunID:        runID,
		})
	}
	return b
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

func itemIDs(es []model.Entry) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.ItemID
	}
	return out
}

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("empty store", func(t *testing.T) {
		s := newStore(t)
		_, ok, err := s.LatestSnapshotTime(ctx, cadence.Daily)
		require.NoError(t, err)
		assert.False(t, ok)

		es, err := s.EntriesAt(ctx, cadence.Daily, Base)
		require.NoError(t, err)
		assert.Empty(t, es)

		_, ok, err = s.MostRecentPriorEntry(ctx, cadence.Daily, "a", Base)
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = s.SnapshotTimeBefore(ctx, cadence.Daily, Base)
		require.NoError(t, err)
		assert.False(t, ok)

		ts, err := s.SnapshotTimes(ctx, cadence.Daily, 10)
		require.NoError(t, err)
		assert.Empty(t, ts)
	})

	t.Run("append then read back in rank order", func(t *testing.T) {
		s := newStore(t)
		b := Batch(cadence.Realtime, Base, "run-1",
			Item{ID: "a", Value: 100, Prev: Ptr(2)},
			Item{ID: "b", Value: 90},
			Item{ID: "c", Value: 90, Prev: Ptr(1)},
		)
		require.NoError(t, s.Append(ctx, b))

		latest, ok, err := s.LatestSnapshotTime(ctx, cadence.Realtime)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, latest.Equal(Base), "latest %s want %s", latest, Base)

		es, err := s.EntriesAt(ctx, cadence.Realtime, latest)
		require.NoError(t, err)
		require.Len(t, es, 3)
		assert.Equal(t, []string{"a", "b", "c"}, itemIDs(es))
		for i, e := range es {
			assert.Equal(t, i+1, e.Rank)
			assert.Equal(t, cadence.Realtime, e.Cadence)
			assert.Equal(t, "run-1", e.RunID)
			assert.True(t, e.SnapshotTime.Equal(Base))
		}
		require.NotNil(t, es[0].PrevRank)
		assert.Equal(t, 2, *es[0].PrevRank)
		assert.Nil(t, es[1].PrevRank)
		assert.Equal(t, int64(100), es[0].MetricValue)
		assert.Equal(t, int64(90), es[2].MetricValue)
	})

	t.Run("cadences are isolated", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Append(ctx, Batch(cadence.Daily, Base, "d1", Item{ID: "a", Value: 1})))

		_, ok, err := s.LatestSnapshotTime(ctx, cadence.Weekly)
		require.NoError(t, err)
		assert.False(t, ok)

		es, err := s.EntriesAt(ctx, cadence.Weekly, Base)
		require.NoError(t, err)
		assert.Empty(t, es)
	})

	t.Run("invalid batches are rejected without side effects", func(t *testing.T) {
		s := newStore(t)
		bad := Batch(cadence.Daily, Base, "bad", Item{ID: "a", Value: 2}, Item{ID: "b", Value: 1})
		bad.Entries[1].Rank = 3
		err := s.Append(ctx, bad)
		assert.True(t, errors.Is(err, repository.ErrInvalidBatch), "got %v", err)

		err = s.Append(ctx, model.Batch{Cadence: cadence.Daily, SnapshotTime: Base, RunID: "empty"})
		assert.True(t, errors.Is(err, repository.ErrEmptyBatch), "got %v", err)

		_, ok, err := s.LatestSnapshotTime(ctx, cadence.Daily)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("same time batches keep the last appended", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Append(ctx, Batch(cadence.Daily, Base, "first", Item{ID: "a", Value: 5}, Item{ID: "b", Value: 4})))
		require.NoError(t, s.Append(ctx, Batch(cadence.Daily, Base, "second", Item{ID: "b", Value: 9})))

		es, err := s.EntriesAt(ctx, cadence.Daily, Base)
		require.NoError(t, err)
		require.Len(t, es, 1)
		assert.Equal(t, "second", es[0].RunID)
		assert.Equal(t, "b", es[0].ItemID)

		ts, err := s.SnapshotTimes(ctx, cadence.Daily, 10)
		require.NoError(t, err)
		require.Len(t, ts, 1)
		assert.True(t, ts[0].Equal(Base))

		// The superseded batch no longer answers prior-entry lookups.
		_, ok, err := s.MostRecentPriorEntry(ctx, cadence.Daily, "a", Base.Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("prior entry lookups are strictly earlier", func(t *testing.T) {
		s := newStore(t)
		t1, t2, t3 := Base, Base.Add(15*time.Minute), Base.Add(30*time.Minute)
		require.NoError(t, s.Append(ctx, Batch(cadence.Realtime, t1, "r1", Item{ID: "a", Value: 3}, Item{ID: "b", Value: 2})))
		require.NoError(t, s.Append(ctx, Batch(cadence.Realtime, t2, "r2", Item{ID: "b", Value: 5})))
		require.NoError(t, s.Append(ctx, Batch(cadence.Realtime, t3, "r3", Item{ID: "a", Value: 9}, Item{ID: "b", Value: 6})))

		e, ok, err := s.MostRecentPriorEntry(ctx, cadence.Realtime, "b", t3)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, e.SnapshotTime.Equal(t2))
		assert.Equal(t, 1, e.Rank)

		// a is missing from t2, so its history reaches back to t1.
		e, ok, err = s.MostRecentPriorEntry(ctx, cadence.Realtime, "a", t3)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, e.SnapshotTime.Equal(t1))
		assert.Equal(t, 1, e.Rank)

		_, ok, err = s.MostRecentPriorEntry(ctx, cadence.Realtime, "a", t1)
		require.NoError(t, err)
		assert.False(t, ok)

		prev, ok, err := s.SnapshotTimeBefore(ctx, cadence.Realtime, t3)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, prev.Equal(t2))

		_, ok, err = s.SnapshotTimeBefore(ctx, cadence.Realtime, t1)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("snapshot times are listed newest first", func(t *testing.T) {
		s := newStore(t)
		for i := range 5 {
			at := Base.Add(time.Duration(i) * time.Hour)
			require.NoError(t, s.Append(ctx, Batch(cadence.Weekly, at, "w"+string(rune('0'+i)), Item{ID: "a", Value: int64(i)})))
		}
		ts, err := s.SnapshotTimes(ctx, cadence.Weekly, 3)
		require.NoError(t, err)
		require.Len(t, ts, 3)
		assert.True(t, ts[0].Equal(Base.Add(4*time.Hour)))
		assert.True(t, ts[2].Equal(Base.Add(2*time.Hour)))

		latest, ok, err := s.LatestSnapshotTime(ctx, cadence.Weekly)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, latest.Equal(ts[0]))

		_, err = s.SnapshotTimes(ctx, cadence.Weekly, 0)
		assert.True(t, errors.Is(err, repository.ErrInvalidLimit), "got %v", err)
	})

	t.Run("sub-microsecond input is normalised", func(t *testing.T) {
		s := newStore(t)
		at := Base.Add(789 * time.Nanosecond)
		require.NoError(t, s.Append(ctx, Batch(cadence.Daily, at, "n1", Item{ID: "a", Value: 1})))
		latest, ok, err := s.LatestSnapshotTime(ctx, cadence.Daily)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, latest.Equal(Base))
		es, err := s.EntriesAt(ctx, cadence.Daily, latest)
		require.NoError(t, err)
		assert.Len(t, es, 1)
	})

	t.Run("play counts are upserted", func(t *testing.T) {
		s := newStore(t)
		cs, ok := s.(repository.CountStore)
		if !ok {
			t.Skip("store does not persist play counts")
		}

		counts, err := cs.LoadPlayCounts(ctx)
		require.NoError(t, err)
		assert.Empty(t, counts)

		require.NoError(t, cs.SavePlayCounts(ctx, map[string]int64{"a": 3, "b": 1}))
		require.NoError(t, cs.SavePlayCounts(ctx, map[string]int64{"a": 7}))
		require.NoError(t, cs.SavePlayCounts(ctx, nil))

		counts, err = cs.LoadPlayCounts(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]int64{"a": 7, "b": 1}, counts)
	})
}
