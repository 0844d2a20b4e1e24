package service_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	. "github.com/smartystreets/goconvey/convey"

	service "github.com/okian/quiver/internal/app"
	"github.com/okian/quiver/internal/adapters/repository"
	"github.com/okian/quiver/internal/domain/ranking"
	"github.com/okian/quiver/internal/synth"
)

func TestServiceIntegration(t *testing.T) {
	Convey("Given a service backed by SQLite and a synthetic season", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		path := filepath.Join(t.TempDir(), "runs.db")
		store, err := repository.NewSQLiteStore(path)
		So(err, ShouldBeNil)

		svc := service.New(
			service.WithWorkerCount(4),
			service.WithQueueSize(64),
			service.WithStore(store),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		records, err := synth.New(42).Generate(ctx, synth.EventIDs("Season", 8))
		So(err, ShouldBeNil)

		Convey("When the season is analyzed on the worker pool", func() {
			run, err := svc.Analyze(ctx, "synthetic", records)
			So(err, ShouldBeNil)

			Convey("Then parallel ranking matches the single-threaded engine", func() {
				want, err := ranking.Rank(records)
				So(err, ShouldBeNil)
				So(cmp.Diff(want, run.Records), ShouldBeEmpty)
			})

			Convey("Then the stored copy survives the round trip through SQLite", func() {
				got, err := svc.Run(ctx, run.ID)
				So(err, ShouldBeNil)
				So(cmp.Diff(run.Records, got.Records), ShouldBeEmpty)
				So(got.Source, ShouldEqual, "synthetic")
			})

			Convey("Then movers cover every event, division and class", func() {
				movers, err := svc.Movers(ctx, run.ID, 3)
				So(err, ShouldBeNil)
				// 8 events, 4 divisions, 2 classes, 3 podium places.
				So(movers, ShouldHaveLength, 8*4*2*3)
			})
		})

		Convey("When several runs are analyzed concurrently", func() {
			const n = 6
			errs := make(chan error, n)
			for i := 0; i < n; i++ {
				go func() {
					_, err := svc.Analyze(ctx, "concurrent", records)
					errs <- err
				}()
			}
			for i := 0; i < n; i++ {
				So(<-errs, ShouldBeNil)
			}

			Convey("Then every run is stored", func() {
				runs, err := svc.Runs(ctx)
				So(err, ShouldBeNil)
				So(runs, ShouldHaveLength, n)
			})
		})
	})
}
