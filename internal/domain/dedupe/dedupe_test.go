package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	dedupe "github.com/okian/chartsnap/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	Convey("Given a new InMemoryDeduper", t, func() {
		ctx := context.Background()

		Convey("When a play id is recorded twice", func() {
			d := dedupe.NewInMemoryDeduper()
			first := d.SeenAndRecord(ctx, "play-1")
			second := d.SeenAndRecord(ctx, "play-1")

			Convey("Then only the first is new", func() {
				So(first, ShouldBeFalse)
				So(second, ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When an id is unrecorded", func() {
			d := dedupe.NewInMemoryDeduper()
			d.SeenAndRecord(ctx, "play-1")
			d.Unrecord(ctx, "play-1")
			d.Unrecord(ctx, "never-seen")

			Convey("Then it can be recorded again", func() {
				So(d.Size(), ShouldEqual, 0)
				So(d.SeenAndRecord(ctx, "play-1"), ShouldBeFalse)
			})
		})

		Convey("When the bounded set is full", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))
			for _, id := range []string{"p1", "p2", "p3", "p4"} {
				So(d.SeenAndRecord(ctx, id), ShouldBeFalse)
			}

			Convey("Then the oldest id is evicted first", func() {
				So(d.Size(), ShouldEqual, 3)
				So(d.SeenAndRecord(ctx, "p4"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "p3"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "p1"), ShouldBeFalse)
			})
		})

		Convey("When an unrecorded id frees a bounded slot", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(2))
			d.SeenAndRecord(ctx, "p1")
			d.SeenAndRecord(ctx, "p2")
			d.Unrecord(ctx, "p1")
			d.SeenAndRecord(ctx, "p3")

			Convey("Then nothing else is evicted", func() {
				So(d.Size(), ShouldEqual, 2)
				So(d.SeenAndRecord(ctx, "p2"), ShouldBeTrue)
			})
		})

		Convey("When unbounded", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
			for i := range 1000 {
				d.SeenAndRecord(ctx, fmt.Sprintf("play-%d", i))
			}
			So(d.Size(), ShouldEqual, 1000)
			d.Unrecord(ctx, "play-7")
			So(d.Size(), ShouldEqual, 999)
		})
	})
}

func TestDedupeConcurrency(t *testing.T) {
	Convey("Given concurrent submissions of the same ids", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(10_000))
		const goroutines = 8
		const ids = 200

		var mu sync.Mutex
		fresh := 0
		var wg sync.WaitGroup
		for range goroutines {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := range ids {
					if !d.SeenAndRecord(context.Background(), fmt.Sprintf("play-%d", j)) {
						mu.Lock()
						fresh++
						mu.Unlock()
					}
				}
			}()
		}
		wg.Wait()

		Convey("Then each id is new exactly once", func() {
			So(fresh, ShouldEqual, ids)
			So(d.Size(), ShouldEqual, ids)
		})
	})
}
