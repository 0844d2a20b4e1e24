package synth

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/quiver/internal/domain/model"
	"github.com/okian/quiver/internal/domain/ranking"
)

func TestGenerator(t *testing.T) {
	Convey("Given a seeded generator", t, func() {
		ctx := context.Background()
		ids := EventIDs("Synth", 3)

		Convey("Event ids are zero padded", func() {
			So(ids, ShouldResemble, []string{"Synth01", "Synth02", "Synth03"})
		})

		Convey("The same seed gives the same table regardless of worker count", func() {
			a, err := New(7, WithWorkers(1)).Generate(ctx, ids)
			So(err, ShouldBeNil)
			b, err := New(7, WithWorkers(8)).Generate(ctx, ids)
			So(err, ShouldBeNil)
			So(cmp.Diff(a, b), ShouldBeEmpty)

			c, err := New(8).Generate(ctx, ids)
			So(err, ShouldBeNil)
			So(cmp.Diff(a, c), ShouldNotBeEmpty)
		})

		Convey("Each event follows the profile head counts", func() {
			g := New(1, WithProfiles(Profile{Division: model.Recurve, Men: 5, Women: 3, MeanMen: 550, MeanWomen: 540, SD: 20}))
			recs := g.Event(0, "E")
			So(recs, ShouldHaveLength, 8)
			men := 0
			for _, r := range recs {
				So(r.EventID, ShouldEqual, "E")
				So(r.Division, ShouldEqual, model.Recurve)
				So(r.Athlete, ShouldNotBeBlank)
				if r.Class == model.Men {
					men++
				}
			}
			So(men, ShouldEqual, 5)
		})

		Convey("Generated records are accepted by the ranking engine", func() {
			recs, err := New(3).Generate(ctx, ids)
			So(err, ShouldBeNil)
			So(ranking.Validate(recs), ShouldBeNil)
			_, err = ranking.Rank(recs)
			So(err, ShouldBeNil)
		})

		Convey("A cancelled context stops generation", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := New(1, WithWorkers(1)).Generate(cctx, EventIDs("X", 50))
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
		})
	})
}

func TestGolds(t *testing.T) {
	Convey("Ten and nine counts are consistent with the score", t, func() {
		rng := rand.New(rand.NewPCG(1, 2))
		for score := 1; score <= MaxScore; score += 7 {
			tens, nines := golds(rng, score)
			So(tens, ShouldBeGreaterThanOrEqualTo, 0)
			So(nines, ShouldBeGreaterThanOrEqualTo, 0)
			So(tens+nines, ShouldBeLessThanOrEqualTo, Arrows)
			So(10*tens+9*nines, ShouldBeLessThanOrEqualTo, score)
		}
	})
}

func TestClient(t *testing.T) {
	Convey("Given a server accepting runs", t, func() {
		var got analysisRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/healthz":
				w.WriteHeader(http.StatusOK)
			case "/analyses":
				if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				if len(got.Records) == 0 {
					w.WriteHeader(http.StatusBadRequest)
					_, _ = w.Write([]byte(`{"code":"bad_request","message":"no records"}`))
					return
				}
				w.WriteHeader(http.StatusCreated)
				_, _ = w.Write([]byte(`{"id":"run-1","records":2}`))
			}
		}))
		defer srv.Close()
		c := NewClient(srv.URL+"/", time.Second)
		ctx := context.Background()

		So(c.Healthy(ctx), ShouldBeNil)

		Convey("Submit posts the table and reads the run id", func() {
			recs := New(1).Event(0, "E")[:2]
			out, err := c.Submit(ctx, "synthetic", recs)
			So(err, ShouldBeNil)
			So(out, ShouldResemble, Submitted{ID: "run-1", Records: 2})
			So(got.Source, ShouldEqual, "synthetic")
			So(cmp.Diff(recs, got.Records), ShouldBeEmpty)
		})

		Convey("A rejection carries the server's error code", func() {
			_, err := c.Submit(ctx, "synthetic", nil)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "bad_request")
		})
	})
}
