package snapshot_test

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/chartsnap/internal/adapters/counter"
	"github.com/okian/chartsnap/internal/adapters/repository"
	"github.com/okian/chartsnap/internal/app/snapshot"
	"github.com/okian/chartsnap/internal/clock"
	"github.com/okian/chartsnap/internal/domain/cadence"
	"github.com/okian/chartsnap/internal/domain/model"
	"github.com/okian/chartsnap/pkg/logger"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

var t0 = time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)

type row struct {
	id   string
	rank int
	prev any // nil or int
}

func rows(b model.Batch) []row {
	out := make([]row, len(b.Entries))
	for i, e := range b.Entries {
		r := row{id: e.ItemID, rank: e.Rank}
		if e.PrevRank != nil {
			r.prev = *e.PrevRank
		}
		out[i] = r
	}
	return out
}

// failingStore refuses every append.
type failingStore struct {
	*repository.MemoryStore
}

func (failingStore) Append(context.Context, model.Batch) error {
	return errors.New("disk on fire")
}

// mutableSource lets a test swap metric values between runs.
type mutableSource struct{ values map[string]int64 }

func (s *mutableSource) ReadAll(context.Context) (map[string]int64, error) {
	out := make(map[string]int64, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out, nil
}

type brokenSource struct{}

func (brokenSource) ReadAll(context.Context) (map[string]int64, error) {
	return nil, errors.New("source down")
}

func newComputer(store repository.Store, src counter.Source, clk clock.Clock, opts ...snapshot.Option) *snapshot.Computer {
	opts = append([]snapshot.Option{
		snapshot.WithTopN(2),
		snapshot.WithClock(clk),
		snapshot.WithLogger(logger.Nop()),
	}, opts...)
	c, err := snapshot.New(store, src, opts...)
	So(err, ShouldBeNil)
	return c
}

func TestComputerScenarios(t *testing.T) {
	Convey("Given an empty store and a top-2 computer", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		clk := clock.NewFake(t0)
		src := &mutableSource{values: map[string]int64{"a": 100, "b": 90, "c": 80}}
		c := newComputer(store, src, clk)

		Convey("The first run ranks the top two with no previous ranks", func() {
			b, err := c.Compute(ctx, cadence.Realtime, snapshot.TriggerManual)
			So(err, ShouldBeNil)
			So(rows(b), ShouldResemble, []row{{"a", 1, nil}, {"b", 2, nil}})
			So(b.RunID, ShouldNotBeEmpty)
			for _, e := range b.Entries {
				So(e.SnapshotTime, ShouldEqual, t0)
				So(e.RunID, ShouldEqual, b.RunID)
			}

			stored, err := store.EntriesAt(ctx, cadence.Realtime, t0)
			So(err, ShouldBeNil)
			So(stored, ShouldHaveLength, 2)

			Convey("A later run carries previous ranks and drops items that fell out", func() {
				src.values = map[string]int64{"a": 100, "b": 95, "c": 200}
				clk.Advance(15 * time.Minute)

				b2, err := c.Compute(ctx, cadence.Realtime, snapshot.TriggerScheduled)
				So(err, ShouldBeNil)
				So(rows(b2), ShouldResemble, []row{{"c", 1, nil}, {"a", 2, 1}})
				So(*b2.Entries[1].RankChange(), ShouldEqual, -1)
				So(b2.Entries[0].RankChange(), ShouldBeNil)
			})

			Convey("Other cadences do not see realtime history", func() {
				clk.Advance(time.Minute)
				b2, err := c.Compute(ctx, cadence.Daily, snapshot.TriggerScheduled)
				So(err, ShouldBeNil)
				So(rows(b2), ShouldResemble, []row{{"a", 1, nil}, {"b", 2, nil}})
			})
		})

		Convey("Ties are broken by ascending item id on every run", func() {
			src.values = map[string]int64{"b": 50, "a": 50}
			for i := range 20 {
				clk.Advance(time.Minute)
				b, err := c.Compute(ctx, cadence.Daily, snapshot.TriggerManual)
				So(err, ShouldBeNil)
				So(b.Entries[0].ItemID, ShouldEqual, "a")
				So(b.Entries[1].ItemID, ShouldEqual, "b")
				if i > 0 {
					So(*b.Entries[0].PrevRank, ShouldEqual, 1)
				}
			}
		})

		Convey("With no tracked items nothing is persisted", func() {
			src.values = map[string]int64{}
			b, err := c.Compute(ctx, cadence.Weekly, snapshot.TriggerManual)
			So(err, ShouldBeNil)
			So(b.Entries, ShouldBeEmpty)
			_, ok, err := store.LatestSnapshotTime(ctx, cadence.Weekly)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})

		Convey("An unknown cadence is rejected before any state change", func() {
			_, err := c.Compute(ctx, cadence.Cadence("hourly"), snapshot.TriggerManual)
			So(errors.Is(err, cadence.ErrInvalidCadence), ShouldBeTrue)
			for _, cad := range cadence.All() {
				_, ok, _ := store.LatestSnapshotTime(ctx, cad)
				So(ok, ShouldBeFalse)
			}
		})
	})
}

func TestComputerTimes(t *testing.T) {
	Convey("Given a computer over fixed metrics", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		clk := clock.NewFake(t0.Add(123456789 * time.Nanosecond))
		c := newComputer(store, counter.Static{"x": 3, "y": 2, "z": 1}, clk)

		Convey("Two runs at the same instant append two distinct batches", func() {
			b1, err := c.Compute(ctx, cadence.Realtime, snapshot.TriggerManual)
			So(err, ShouldBeNil)
			b2, err := c.Compute(ctx, cadence.Realtime, snapshot.TriggerManual)
			So(err, ShouldBeNil)

			So(b1.SnapshotTime, ShouldEqual, b2.SnapshotTime)
			So(b1.RunID, ShouldNotEqual, b2.RunID)

			got, err := store.EntriesAt(ctx, cadence.Realtime, b1.SnapshotTime)
			So(err, ShouldBeNil)
			So(got, ShouldHaveLength, 2)
			So(got[0].RunID, ShouldEqual, b2.RunID)
			So(got[0].Rank, ShouldEqual, 1)
			So(got[1].Rank, ShouldEqual, 2)
		})

		Convey("Snapshot times are truncated to microseconds in UTC", func() {
			b, err := c.Compute(ctx, cadence.Realtime, snapshot.TriggerManual)
			So(err, ShouldBeNil)
			So(b.SnapshotTime, ShouldEqual, t0.Add(123456*time.Microsecond))
			So(b.SnapshotTime.Location(), ShouldEqual, time.UTC)
		})

		Convey("A clock stepping backwards never produces an earlier snapshot", func() {
			b1, err := c.Compute(ctx, cadence.Realtime, snapshot.TriggerManual)
			So(err, ShouldBeNil)
			clk.Set(t0.Add(-time.Hour))
			b2, err := c.Compute(ctx, cadence.Realtime, snapshot.TriggerManual)
			So(err, ShouldBeNil)
			So(b2.SnapshotTime.Before(b1.SnapshotTime), ShouldBeFalse)
		})
	})
}

func TestComputerPrevRankPolicies(t *testing.T) {
	Convey("Given an item that drops out and comes back", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		clk := clock.NewFake(t0)
		src := &mutableSource{values: map[string]int64{"a": 10, "b": 5}}

		run := func(c *snapshot.Computer, values map[string]int64) model.Batch {
			src.values = values
			clk.Advance(time.Minute)
			b, err := c.Compute(ctx, cadence.Realtime, snapshot.TriggerScheduled)
			So(err, ShouldBeNil)
			return b
		}

		Convey("The snapshot policy only looks at the nearest earlier snapshot", func() {
			c := newComputer(store, src, clk)
			run(c, map[string]int64{"a": 10, "b": 5})
			run(c, map[string]int64{"a": 10, "c": 7, "b": 1})
			b := run(c, map[string]int64{"a": 10, "b": 9})
			So(rows(b), ShouldResemble, []row{{"a", 1, 1}, {"b", 2, nil}})
		})

		Convey("The item policy finds the item's own last entry", func() {
			c := newComputer(store, src, clk, snapshot.WithPrevRankPolicy(snapshot.PrevRankItem))
			run(c, map[string]int64{"a": 10, "b": 5})
			run(c, map[string]int64{"a": 10, "c": 7, "b": 1})
			b := run(c, map[string]int64{"a": 10, "b": 9})
			So(rows(b), ShouldResemble, []row{{"a", 1, 1}, {"b", 2, 2}})
		})
	})

	Convey("Policy names parse case-insensitively", t, func() {
		p, err := snapshot.ParsePrevRankPolicy("ITEM")
		So(err, ShouldBeNil)
		So(p, ShouldEqual, snapshot.PrevRankItem)
		p, err = snapshot.ParsePrevRankPolicy("")
		So(err, ShouldBeNil)
		So(p, ShouldEqual, snapshot.PrevRankSnapshot)
		_, err = snapshot.ParsePrevRankPolicy("vibes")
		So(err, ShouldNotBeNil)
	})
}

func TestComputerFailures(t *testing.T) {
	Convey("Given failing collaborators", t, func() {
		ctx := context.Background()
		clk := clock.NewFake(t0)

		Convey("A failed append leaves the store empty", func() {
			mem := repository.NewMemoryStore()
			c := newComputer(failingStore{mem}, counter.Static{"a": 1}, clk)
			_, err := c.Compute(ctx, cadence.Daily, snapshot.TriggerScheduled)
			So(errors.Is(err, snapshot.ErrPersist), ShouldBeTrue)
			_, ok, _ := mem.LatestSnapshotTime(ctx, cadence.Daily)
			So(ok, ShouldBeFalse)
		})

		Convey("A failed metric read is reported", func() {
			c := newComputer(repository.NewMemoryStore(), brokenSource{}, clk)
			_, err := c.Compute(ctx, cadence.Daily, snapshot.TriggerScheduled)
			So(errors.Is(err, snapshot.ErrReadMetrics), ShouldBeTrue)
		})

		Convey("Bad configuration is refused", func() {
			_, err := snapshot.New(repository.NewMemoryStore(), counter.Static{}, snapshot.WithTopN(0))
			So(errors.Is(err, snapshot.ErrInvalidTopN), ShouldBeTrue)
			_, err = snapshot.New(repository.NewMemoryStore(), counter.Static{}, snapshot.WithPrevRankPolicy("vibes"))
			So(err, ShouldNotBeNil)
		})
	})
}
