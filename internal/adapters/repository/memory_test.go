package repository_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/chartsnap/internal/adapters/repository"
	"github.com/okian/chartsnap/internal/adapters/repository/storetest"
	"github.com/okian/chartsnap/internal/domain/cadence"
)

func TestMemoryStoreConformance(t *testing.T) {
	storetest.Run(t, func(*testing.T) repository.Store {
		return repository.NewMemoryStore()
	})
}

func TestInstrumentedStoreConformance(t *testing.T) {
	storetest.Run(t, func(*testing.T) repository.Store {
		return repository.NewInstrumented(repository.NewMemoryStore(), repository.WithBackendName("memory"))
	})
}

func TestMemoryStore(t *testing.T) {
	Convey("Given a memory store", t, func() {
		ctx := context.Background()
		s := repository.NewMemoryStore()

		Convey("Returned entries are copies", func() {
			b := storetest.Batch(cadence.Daily, storetest.Base, "r1", storetest.Item{ID: "a", Value: 1, Prev: storetest.Ptr(4)})
			So(s.Append(ctx, b), ShouldBeNil)
			*b.Entries[0].PrevRank = 99

			es, err := s.EntriesAt(ctx, cadence.Daily, storetest.Base)
			So(err, ShouldBeNil)
			So(*es[0].PrevRank, ShouldEqual, 4)
			es[0].ItemID = "mutated"

			again, _ := s.EntriesAt(ctx, cadence.Daily, storetest.Base)
			So(again[0].ItemID, ShouldEqual, "a")
		})

		Convey("Concurrent appends and reads never expose partial batches", func() {
			var wg sync.WaitGroup
			var partial atomic.Bool
			for w := range 4 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := range 50 {
						at := storetest.Base.Add(time.Duration(w*1000+i) * time.Second)
						_ = s.Append(ctx, storetest.Batch(cadence.Realtime, at, "r",
							storetest.Item{ID: "a", Value: 3}, storetest.Item{ID: "b", Value: 2}, storetest.Item{ID: "c", Value: 1}))
					}
				}()
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 200 {
					if latest, ok, _ := s.LatestSnapshotTime(ctx, cadence.Realtime); ok {
						es, _ := s.EntriesAt(ctx, cadence.Realtime, latest)
						if len(es) != 3 {
							partial.Store(true)
						}
					}
				}
			}()
			wg.Wait()
			So(partial.Load(), ShouldBeFalse)

			ts, err := s.SnapshotTimes(ctx, cadence.Realtime, 1000)
			So(err, ShouldBeNil)
			So(len(ts), ShouldEqual, 200)
		})

		Convey("Append after Close fails", func() {
			So(s.Close(), ShouldBeNil)
			err := s.Append(ctx, storetest.Batch(cadence.Daily, storetest.Base, "r", storetest.Item{ID: "a", Value: 1}))
			So(errors.Is(err, repository.ErrClosed), ShouldBeTrue)
		})
	})
}

func TestValidateBatch(t *testing.T) {
	Convey("ValidateBatch enforces batch invariants", t, func() {
		good := storetest.Batch(cadence.Weekly, storetest.Base, "r", storetest.Item{ID: "a", Value: 2}, storetest.Item{ID: "b", Value: 1})
		So(repository.ValidateBatch(good), ShouldBeNil)

		dup := storetest.Batch(cadence.Weekly, storetest.Base, "r", storetest.Item{ID: "a", Value: 2}, storetest.Item{ID: "a", Value: 1})
		So(errors.Is(repository.ValidateBatch(dup), repository.ErrInvalidBatch), ShouldBeTrue)

		unknown := storetest.Batch(cadence.Cadence("monthly"), storetest.Base, "r", storetest.Item{ID: "a", Value: 2})
		So(errors.Is(repository.ValidateBatch(unknown), cadence.ErrInvalidCadence), ShouldBeTrue)

		mixed := storetest.Batch(cadence.Weekly, storetest.Base, "r", storetest.Item{ID: "a", Value: 2})
		mixed.Entries[0].SnapshotTime = storetest.Base.Add(time.Second)
		So(errors.Is(repository.ValidateBatch(mixed), repository.ErrInvalidBatch), ShouldBeTrue)

		noRun := storetest.Batch(cadence.Weekly, storetest.Base, "", storetest.Item{ID: "a", Value: 2})
		So(errors.Is(repository.ValidateBatch(noRun), repository.ErrInvalidBatch), ShouldBeTrue)

		badPrev := storetest.Batch(cadence.Weekly, storetest.Base, "r", storetest.Item{ID: "a", Value: 2, Prev: storetest.Ptr(0)})
		So(errors.Is(repository.ValidateBatch(badPrev), repository.ErrInvalidBatch), ShouldBeTrue)
	})
}

// snapshotsOnly hides the count methods of the wrapped store.
type snapshotsOnly struct{ repository.Store }

func TestInstrumentedPlayCounts(t *testing.T) {
	Convey("Given instrumented stores", t, func() {
		ctx := context.Background()

		Convey("Counts pass through to a backend that keeps them", func() {
			s := repository.NewInstrumented(repository.NewMemoryStore())
			So(s.SavePlayCounts(ctx, map[string]int64{"a": 2}), ShouldBeNil)
			counts, err := s.LoadPlayCounts(ctx)
			So(err, ShouldBeNil)
			So(counts, ShouldResemble, map[string]int64{"a": 2})
		})

		Convey("A backend without counts reports ErrNoCountStore", func() {
			s := repository.NewInstrumented(snapshotsOnly{repository.NewMemoryStore()})
			_, err := s.LoadPlayCounts(ctx)
			So(errors.Is(err, repository.ErrNoCountStore), ShouldBeTrue)
			So(errors.Is(s.SavePlayCounts(ctx, map[string]int64{"a": 1}), repository.ErrNoCountStore), ShouldBeTrue)
		})

		Convey("A closed memory store refuses saves", func() {
			m := repository.NewMemoryStore()
			So(m.Close(), ShouldBeNil)
			So(errors.Is(m.SavePlayCounts(ctx, map[string]int64{"a": 1}), repository.ErrClosed), ShouldBeTrue)
		})
	})
}
