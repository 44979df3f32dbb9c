package query_test

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/chartsnap/internal/adapters/catalog"
	"github.com/okian/chartsnap/internal/adapters/repository"
	"github.com/okian/chartsnap/internal/adapters/repository/storetest"
	"github.com/okian/chartsnap/internal/app/query"
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

type brokenCatalog struct{}

func (brokenCatalog) Lookup(context.Context, string) (model.ItemMeta, bool, error) {
	return model.ItemMeta{}, false, errors.New("catalog offline")
}

func TestFacade(t *testing.T) {
	Convey("Given a store with two daily snapshots", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		t1 := storetest.Base
		t2 := t1.Add(24 * time.Hour)
		So(store.Append(ctx, storetest.Batch(cadence.Daily, t1, "run-1",
			storetest.Item{ID: "a", Value: 10}, storetest.Item{ID: "b", Value: 5})), ShouldBeNil)
		So(store.Append(ctx, storetest.Batch(cadence.Daily, t2, "run-2",
			storetest.Item{ID: "b", Value: 20, Prev: storetest.Ptr(2)}, storetest.Item{ID: "a", Value: 12, Prev: storetest.Ptr(1)})), ShouldBeNil)

		cat := catalog.NewMemory(model.ItemMeta{ID: "a", Title: "Song A", Artist: "X"})
		f := query.New(store, cat, logger.Nop())

		Convey("The leaderboard is the latest snapshot joined with metadata", func() {
			rows, err := f.Leaderboard(ctx, cadence.Daily)
			So(err, ShouldBeNil)
			So(rows, ShouldHaveLength, 2)
			So(rows[0].ItemID, ShouldEqual, "b")
			So(rows[0].Rank, ShouldEqual, 1)
			So(*rows[0].RankChange(), ShouldEqual, 1)
			So(rows[0].Meta, ShouldResemble, model.ItemMeta{ID: "b"})
			So(rows[1].Meta.Title, ShouldEqual, "Song A")
		})

		Convey("An unseeded cadence yields an empty list", func() {
			rows, err := f.Leaderboard(ctx, cadence.Weekly)
			So(err, ShouldBeNil)
			So(rows, ShouldNotBeNil)
			So(rows, ShouldBeEmpty)
		})

		Convey("An unknown cadence is rejected", func() {
			_, err := f.Leaderboard(ctx, cadence.Cadence("yearly"))
			So(errors.Is(err, cadence.ErrInvalidCadence), ShouldBeTrue)
		})

		Convey("A past snapshot is addressable by time", func() {
			rows, err := f.At(ctx, cadence.Daily, t1)
			So(err, ShouldBeNil)
			So(rows[0].ItemID, ShouldEqual, "a")

			_, err = f.At(ctx, cadence.Daily, t1.Add(time.Second))
			So(errors.Is(err, query.ErrSnapshotNotFound), ShouldBeTrue)
		})

		Convey("History lists times newest first", func() {
			times, err := f.History(ctx, cadence.Daily, 10)
			So(err, ShouldBeNil)
			So(times, ShouldHaveLength, 2)
			So(times[0].Equal(t2), ShouldBeTrue)

			_, err = f.History(ctx, cadence.Daily, 0)
			So(errors.Is(err, repository.ErrInvalidLimit), ShouldBeTrue)
		})

		Convey("A failing catalog never fails the read", func() {
			rows, err := query.New(store, brokenCatalog{}, logger.Nop()).Leaderboard(ctx, cadence.Daily)
			So(err, ShouldBeNil)
			So(rows, ShouldHaveLength, 2)
			So(rows[1].Meta.ID, ShouldEqual, "a")
		})
	})
}
