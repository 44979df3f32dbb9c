package service_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/chartsnap/internal/adapters/repository"
	service "github.com/okian/chartsnap/internal/app"
	"github.com/okian/chartsnap/internal/app/snapshot"
	"github.com/okian/chartsnap/internal/clock"
	"github.com/okian/chartsnap/internal/config"
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

func play(id, item string, count int64) model.PlayEvent {
	return model.PlayEvent{EventID: id, ItemID: item, Count: count, TS: time.Now()}
}

func waitProcessed(svc *service.Service, n int) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if got, _ := svc.GetStats()["processedPlays"].(int64); got >= int64(n) {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func TestService_New(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New()

		Convey("Then it reports itself as not started", func() {
			So(svc, ShouldNotBeNil)
			So(svc.GetStats()["started"], ShouldEqual, false)
			So(svc.Size(), ShouldEqual, 0)
		})
	})

	Convey("Given an unknown store driver", t, func() {
		svc := service.New(service.WithLogger(logger.Nop()), service.WithStoreDriver("mongo", "", time.Second))

		Convey("Then Start fails", func() {
			err := svc.Start(context.Background())
			So(errors.Is(err, service.ErrUnknownDriver), ShouldBeTrue)
		})
	})
}

func TestService_EndToEnd(t *testing.T) {
	Convey("Given a started service without the background scheduler", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		dir := t.TempDir()
		catalogPath := filepath.Join(dir, "catalog.yaml")
		So(os.WriteFile(catalogPath, []byte("items:\n  - id: a\n    title: Alpha\n    artist: Band\n"), 0o600), ShouldBeNil)

		clk := clock.NewFake(time.Date(2024, 3, 3, 12, 0, 0, 0, time.UTC))
		svc := service.New(
			service.WithLogger(logger.Nop()),
			service.WithWorkerCount(2),
			service.WithQueueSize(100),
			service.WithTopN(2),
			service.WithClock(clk),
			service.WithCatalogFile(catalogPath, false),
			service.WithoutScheduler(),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("Charts start empty", func() {
			rows, err := svc.Leaderboard(ctx, cadence.Realtime)
			So(err, ShouldBeNil)
			So(rows, ShouldBeEmpty)
		})

		Convey("Plays flow through the queue into a manual snapshot", func() {
			for _, p := range []model.PlayEvent{play("1", "a", 100), play("2", "b", 90), play("3", "c", 80)} {
				So(svc.SeenAndRecord(ctx, p.EventID), ShouldBeFalse)
				So(svc.Enqueue(ctx, p), ShouldBeNil)
			}
			So(svc.SeenAndRecord(ctx, "1"), ShouldBeTrue)
			So(waitProcessed(svc, 3), ShouldBeTrue)

			b, err := svc.TriggerSnapshot(ctx, cadence.Realtime)
			So(err, ShouldBeNil)
			So(b.Entries, ShouldHaveLength, 2)

			rows, err := svc.Leaderboard(ctx, cadence.Realtime)
			So(err, ShouldBeNil)
			So(rows, ShouldHaveLength, 2)
			So(rows[0].ItemID, ShouldEqual, "a")
			So(rows[0].Meta.Title, ShouldEqual, "Alpha")
			So(rows[1].ItemID, ShouldEqual, "b")
			So(rows[1].PrevRank, ShouldBeNil)

			Convey("And a later snapshot carries rank movement", func() {
				So(svc.Enqueue(ctx, play("4", "c", 500)), ShouldBeNil)
				So(waitProcessed(svc, 4), ShouldBeTrue)
				clk.Advance(time.Minute)

				_, err := svc.TriggerSnapshot(ctx, cadence.Realtime)
				So(err, ShouldBeNil)
				rows, err := svc.Leaderboard(ctx, cadence.Realtime)
				So(err, ShouldBeNil)
				So(rows[0].ItemID, ShouldEqual, "c")
				So(rows[1].ItemID, ShouldEqual, "a")
				So(*rows[1].PrevRank, ShouldEqual, 1)

				times, err := svc.History(ctx, cadence.Realtime, 10)
				So(err, ShouldBeNil)
				So(times, ShouldHaveLength, 2)

				old, err := svc.ChartAt(ctx, cadence.Realtime, times[1])
				So(err, ShouldBeNil)
				So(old[0].ItemID, ShouldEqual, "a")
			})
		})

		Convey("Stats describe the running service", func() {
			stats := svc.GetStats()
			So(stats["started"], ShouldEqual, true)
			So(stats["catalogItems"], ShouldEqual, 1)
			So(stats["topN"], ShouldEqual, 2)
		})
	})
}

func TestService_Backpressure(t *testing.T) {
	Convey("Given a service whose workers cannot keep up", t, func() {
		ctx := context.Background()
		svc := service.New(
			service.WithLogger(logger.Nop()),
			service.WithQueueSize(1),
			service.WithWorkerCount(1),
			service.WithoutScheduler(),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("Eventually a full queue reports backpressure", func() {
			var err error
			for i := 0; i < 100_000 && err == nil; i++ {
				err = svc.Enqueue(ctx, play(fmt.Sprint(i), "x", 1))
			}
			So(errors.Is(err, service.ErrBackpressure), ShouldBeTrue)
		})
	})
}

func TestService_PlayCountsSurviveRestart(t *testing.T) {
	Convey("Given a service on a sqlite file", t, func() {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "charts.db")
		newService := func() *service.Service {
			return service.New(
				service.WithLogger(logger.Nop()),
				service.WithStoreDriver(config.DriverSQLite, path, time.Second),
				service.WithWorkerCount(1),
				service.WithoutScheduler(),
			)
		}

		first := newService()
		So(first.Start(ctx), ShouldBeNil)
		So(first.GetStats()["countsPersisted"], ShouldEqual, true)
		So(first.Enqueue(ctx, play("1", "a", 40)), ShouldBeNil)
		So(first.Enqueue(ctx, play("2", "b", 7)), ShouldBeNil)
		So(waitProcessed(first, 2), ShouldBeTrue)
		first.Stop()

		Convey("When a new process starts on the same file", func() {
			second := newService()
			So(second.Start(ctx), ShouldBeNil)
			defer second.Stop()

			So(second.Enqueue(ctx, play("3", "a", 2)), ShouldBeNil)
			So(waitProcessed(second, 1), ShouldBeTrue)

			Convey("Then counts continue from the previous totals", func() {
				b, err := second.TriggerSnapshot(ctx, cadence.Daily)
				So(err, ShouldBeNil)
				So(b.Entries, ShouldHaveLength, 2)
				So(b.Entries[0].ItemID, ShouldEqual, "a")
				So(b.Entries[0].MetricValue, ShouldEqual, 42)
				So(b.Entries[1].MetricValue, ShouldEqual, 7)
			})
		})
	})

	Convey("Given a service flushing counts on a short interval", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		svc := service.New(
			service.WithLogger(logger.Nop()),
			service.WithStore(store),
			service.WithWorkerCount(1),
			service.WithoutScheduler(),
			service.WithCountsFlushInterval(10*time.Millisecond),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		So(svc.Enqueue(ctx, play("1", "a", 5)), ShouldBeNil)
		So(waitProcessed(svc, 1), ShouldBeTrue)

		Convey("Then counts reach the store while running", func() {
			var counts map[string]int64
			deadline := time.Now().Add(5 * time.Second)
			for time.Now().Before(deadline) {
				counts, _ = store.LoadPlayCounts(ctx)
				if counts["a"] == 5 {
					break
				}
				time.Sleep(10 * time.Millisecond)
			}
			So(counts["a"], ShouldEqual, 5)
		})
	})
}

func TestService_Scheduler(t *testing.T) {
	Convey("Given a service with the scheduler on a fake clock", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		clk := clock.NewFake(time.Date(2024, 3, 3, 0, 5, 0, 0, time.UTC))
		svc := service.New(
			service.WithLogger(logger.Nop()),
			service.WithStore(store),
			service.WithClock(clk),
			service.WithTickInterval(time.Minute),
			service.WithPrevRankPolicy(snapshot.PrevRankItem),
		)
		So(svc.Start(ctx), ShouldBeNil)

		Convey("The first tick runs before the first sleep", func() {
			select {
			case <-clk.Armed():
			case <-time.After(5 * time.Second):
				t.Fatal("scheduler never slept")
			}
			// no plays yet: every cadence ran but nothing was persisted
			_, ok, err := store.LatestSnapshotTime(ctx, cadence.Realtime)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
			svc.Stop()
		})
	})
}
