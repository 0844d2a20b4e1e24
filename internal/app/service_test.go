package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	service "github.com/okian/quiver/internal/app"
	"github.com/okian/quiver/internal/adapters/repository"
	"github.com/okian/quiver/internal/domain/model"
	"github.com/okian/quiver/internal/domain/ranking"
	"github.com/okian/quiver/pkg/logger"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

func records() []model.Record {
	return []model.Record{
		{EventID: "E2", Division: model.Recurve, Class: model.Men, Score: 590, Tens: 40},
		{EventID: "E1", Division: model.Recurve, Class: model.Women, Score: 580, Tens: 35},
		{EventID: "E2", Division: model.Recurve, Class: model.Women, Score: 595, Tens: 45},
		{EventID: "E1", Division: model.Recurve, Class: model.Men, Score: 570, Tens: 30},
		{EventID: "E1", Division: model.Recurve, Class: model.Men, Score: 585, Tens: 38},
		{EventID: "E2", Division: model.Compound, Class: model.Men, Score: 598, Tens: 58},
	}
}

func TestService_New(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New()

		Convey("Then it should have sensible defaults", func() {
			So(svc, ShouldNotBeNil)
			stats := svc.GetStats()
			So(stats["started"], ShouldEqual, false)
			So(stats["workerCount"], ShouldBeGreaterThan, 0)
			So(stats["queueSize"], ShouldEqual, 1024)
		})
	})

	Convey("Given a new service with custom options", t, func() {
		svc := service.New(
			service.WithWorkerCount(3),
			service.WithQueueSize(16),
			service.WithTopN(5),
			service.WithMaxMoversLimit(10),
		)

		Convey("Then the options are applied", func() {
			stats := svc.GetStats()
			So(stats["workerCount"], ShouldEqual, 3)
			So(stats["queueSize"], ShouldEqual, 16)
		})
	})
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := service.New(service.WithWorkerCount(2))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		Convey("Analyze before Start is refused", func() {
			_, err := svc.Analyze(ctx, "test", records())
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
		})

		Convey("When starting the service", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.GetStats()["started"], ShouldEqual, true)
			So(svc.GetStats()["queueLength"], ShouldEqual, 0)

			Convey("And stopping it", func() {
				So(svc.Stop(ctx), ShouldBeNil)
				So(svc.Stop(ctx), ShouldBeNil)
				So(svc.GetStats()["started"], ShouldEqual, false)

				_, err := svc.Analyze(ctx, "test", records())
				So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			})
		})
	})
}

func TestService_Analyze(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc := service.New(service.WithWorkerCount(2), service.WithMaxMoversLimit(10))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		Convey("When analyzing records of several events", func() {
			in := records()
			run, err := svc.Analyze(ctx, "unit", in)
			So(err, ShouldBeNil)

			Convey("Then the result equals ranking the whole table at once", func() {
				want, err := ranking.Rank(in)
				So(err, ShouldBeNil)
				So(run.Records, ShouldResemble, want)
				So(run.Source, ShouldEqual, "unit")
				So(run.ID, ShouldNotBeBlank)
			})

			Convey("Then the run is stored", func() {
				got, err := svc.Run(ctx, run.ID)
				So(err, ShouldBeNil)
				So(got.Records, ShouldResemble, run.Records)

				runs, err := svc.Runs(ctx)
				So(err, ShouldBeNil)
				So(runs, ShouldHaveLength, 1)
				So(runs[0].Records, ShouldEqual, len(in))
				So(svc.GetStats()["runsStored"], ShouldEqual, 1)
			})

			Convey("Then movers can be read back", func() {
				movers, err := svc.Movers(ctx, run.ID, 0)
				So(err, ShouldBeNil)
				So(movers, ShouldResemble, ranking.TopMovers(run.Records, ranking.DefaultTopN))

				_, err = svc.Movers(ctx, run.ID, 11)
				So(errors.Is(err, service.ErrTopNTooLarge), ShouldBeTrue)
			})

			Convey("Then statistics cover every event and division", func() {
				st, err := svc.Stats(ctx, run.ID)
				So(err, ShouldBeNil)
				So(st.TTests, ShouldHaveLength, 3)
				So(st.Summaries, ShouldHaveLength, 5)
				So(st.BandSummaries, ShouldNotBeEmpty)
			})
		})

		Convey("An empty batch is refused", func() {
			_, err := svc.Analyze(ctx, "unit", nil)
			So(errors.Is(err, service.ErrNoRecords), ShouldBeTrue)
		})

		Convey("A zero score rejects the whole batch and stores nothing", func() {
			in := records()
			in[3].Score = 0
			_, err := svc.Analyze(ctx, "unit", in)
			So(errors.Is(err, ranking.ErrZeroScore), ShouldBeTrue)
			So(svc.GetStats()["runsStored"], ShouldEqual, 0)
		})

		Convey("Unknown runs are reported as not found", func() {
			_, err := svc.Run(ctx, "missing")
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			_, err = svc.Movers(ctx, "missing", 3)
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			_, err = svc.Stats(ctx, "missing")
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})

		Convey("A cancelled context aborts the run", func() {
			cctx, ccancel := context.WithCancel(ctx)
			ccancel()
			_, err := svc.Analyze(cctx, "unit", records())
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
		})
	})
}

func TestService_MoreEventsThanQueue(t *testing.T) {
	Convey("Given an idle service with a queue smaller than the batch", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		svc := service.New(service.WithQueueSize(4), service.WithWorkerCount(2))
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		var recs []model.Record
		for i := range 10 {
			recs = append(recs, model.Record{
				EventID:  fmt.Sprintf("E%02d", i),
				Division: model.Recurve,
				Class:    model.Men,
				Score:    500 + i,
				Tens:     i,
			})
		}

		Convey("Every event is ranked in input order", func() {
			run, err := svc.Analyze(ctx, "many", recs)
			So(err, ShouldBeNil)
			want, err := ranking.Rank(recs)
			So(err, ShouldBeNil)
			So(run.Records, ShouldResemble, want)
		})

		Convey("A single-slot queue still drains a long batch", func() {
			one := service.New(service.WithQueueSize(1), service.WithWorkerCount(1))
			So(one.Start(ctx), ShouldBeNil)
			defer func() { _ = one.Stop(ctx) }()

			run, err := one.Analyze(ctx, "many", recs)
			So(err, ShouldBeNil)
			So(run.Records, ShouldHaveLength, len(recs))
			So(one.GetStats()["queueLength"], ShouldEqual, 0)
		})
	})
}
