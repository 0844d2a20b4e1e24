package dedupe

import (
	"context"
	"fmt"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestDeduper(t *testing.T) {
	ctx := context.Background()

	Convey("Given a bounded deduper", t, func() {
		d := NewInMemoryDeduper(WithMaxSize(2))

		Convey("A key is new once and seen afterwards", func() {
			So(d.SeenAndRecord(ctx, Key("ds", "Nimes22")), ShouldBeFalse)
			So(d.SeenAndRecord(ctx, Key("ds", "Nimes22")), ShouldBeTrue)
			So(d.Size(), ShouldEqual, 1)
		})

		Convey("The oldest key is evicted when full", func() {
			d.SeenAndRecord(ctx, "a")
			d.SeenAndRecord(ctx, "b")
			d.SeenAndRecord(ctx, "c")
			So(d.Size(), ShouldEqual, 2)
			So(d.SeenAndRecord(ctx, "c"), ShouldBeTrue)
			So(d.SeenAndRecord(ctx, "a"), ShouldBeFalse)
		})

		Convey("Unrecord allows a retry and frees its slot", func() {
			d.SeenAndRecord(ctx, "a")
			d.Unrecord(ctx, "a")
			So(d.Size(), ShouldEqual, 0)
			So(d.SeenAndRecord(ctx, "a"), ShouldBeFalse)
			d.Unrecord(ctx, "missing")
			So(d.Size(), ShouldEqual, 1)
		})
	})

	Convey("Given an unbounded deduper", t, func() {
		d := NewInMemoryDeduper(WithMaxSize(0))
		for i := 0; i < 100; i++ {
			d.SeenAndRecord(ctx, fmt.Sprint(i))
		}
		So(d.Size(), ShouldEqual, 100)
		d.Unrecord(ctx, "5")
		So(d.SeenAndRecord(ctx, "5"), ShouldBeFalse)
	})

	Convey("Concurrent callers record each key exactly once", t, func() {
		d := NewInMemoryDeduper()
		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			fresh int
		)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					if !d.SeenAndRecord(ctx, fmt.Sprint(j)) {
						mu.Lock()
						fresh++
						mu.Unlock()
					}
				}
			}()
		}
		wg.Wait()
		So(fresh, ShouldEqual, 50)
	})

	Convey("Key trims its parts", t, func() {
		So(Key(" ds ", "E1 "), ShouldEqual, "ds/E1")
	})
}
