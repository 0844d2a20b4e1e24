package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	service "github.com/okian/quiver/internal/app"
	"github.com/okian/quiver/internal/adapters/http/api"
	"github.com/okian/quiver/internal/adapters/mq/queue"
	"github.com/okian/quiver/internal/adapters/repository"
	"github.com/okian/quiver/internal/domain/dedupe"
	"github.com/okian/quiver/internal/domain/model"
	"github.com/okian/quiver/internal/domain/ranking"
	"github.com/okian/quiver/internal/report"
	"github.com/okian/quiver/pkg/logger"
)

// mockDependencies answers every call with err when set.
type mockDependencies struct {
	err      error
	analyzed int
}

func (m *mockDependencies) Analyze(_ context.Context, source string, records []model.Record) (repository.Run, error) {
	if m.err != nil {
		return repository.Run{}, m.err
	}
	m.analyzed++
	ranked, err := ranking.Rank(records)
	if err != nil {
		return repository.Run{}, err
	}
	return repository.Run{ID: fmt.Sprintf("run-%d", m.analyzed), Source: source, Records: ranked}, nil
}

func (m *mockDependencies) Run(context.Context, string) (repository.Run, error) {
	return repository.Run{}, m.err
}

func (m *mockDependencies) Runs(context.Context) ([]repository.Summary, error) {
	return nil, m.err
}

func (m *mockDependencies) Movers(context.Context, string, int) ([]model.Mover, error) {
	return nil, m.err
}

func (m *mockDependencies) Stats(context.Context, string) (report.RunStats, error) {
	return report.RunStats{}, m.err
}

type mockStatsProvider struct {
	stats map[string]any
}

func (m *mockStatsProvider) GetStats() map[string]any {
	return m.stats
}

const body = `{"source":"test","records":[
	{"event_id":"E","division":"R","gender_class":"M","score":590,"tens":40,"nines":10},
	{"event_id":"E","division":"R","gender_class":"W","score":595,"tens":45,"nines":8},
	{"event_id":"E","division":"R","gender_class":"M","score":570,"tens":30,"nines":12}
]}`

func do(mux http.Handler, method, path, payload string, header ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if payload == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(payload))
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Index   *int   `json:"index"`
}

func decodeError(w *httptest.ResponseRecorder) errorBody {
	var e errorBody
	_ = json.Unmarshal(w.Body.Bytes(), &e)
	return e
}

func TestServer_Register(t *testing.T) {
	Convey("Given a new API server", t, func() {
		deps := &mockDependencies{}
		server := api.NewServer(deps, &mockStatsProvider{stats: map[string]any{"started": true}},
			api.WithMaxMovers(10),
			api.WithDeduper(dedupe.NewInMemoryDeduper()),
		)
		mux := http.NewServeMux()
		server.Register(context.Background(), mux)

		Convey("Health and stats endpoints answer", func() {
			So(do(mux, "GET", "/healthz", "").Code, ShouldEqual, http.StatusOK)

			w := do(mux, "GET", "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"started":true`)
		})

		Convey("Unknown routes and methods are rejected", func() {
			So(do(mux, "GET", "/unknown", "").Code, ShouldEqual, http.StatusNotFound)
			So(do(mux, "DELETE", "/analyses", "").Code, ShouldEqual, http.StatusMethodNotAllowed)
		})

		Convey("A valid batch is ranked and returned", func() {
			w := do(mux, "POST", "/analyses", body)
			So(w.Code, ShouldEqual, http.StatusCreated)
			So(w.Header().Get("Location"), ShouldEqual, "/analyses/run-1")

			var resp struct {
				ID      string      `json:"id"`
				Records int         `json:"records"`
				Results []model.Row `json:"results"`
			}
			So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
			So(resp.ID, ShouldEqual, "run-1")
			So(resp.Records, ShouldEqual, 3)
			So(resp.Results, ShouldHaveLength, 3)
			So(resp.Results[1].MixedRank, ShouldEqual, 1)
			So(resp.Results[1].SepPercentile.Valid, ShouldBeFalse)
			So(w.Body.String(), ShouldContainSubstring, `"sep_percentile":null`)
		})

		Convey("Malformed JSON is a bad request", func() {
			w := do(mux, "POST", "/analyses", `{"records":[`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decodeError(w).Code, ShouldEqual, "bad_request")

			w = do(mux, "POST", "/analyses", `{"records":[],"extra":1}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("An empty batch is a bad request", func() {
			w := do(mux, "POST", "/analyses", `{"records":[]}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("A zero score names the offending record", func() {
			w := do(mux, "POST", "/analyses", strings.Replace(body, `"score":570`, `"score":0`, 1))
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			e := decodeError(w)
			So(e.Code, ShouldEqual, "zero_score")
			So(e.Index, ShouldNotBeNil)
			So(*e.Index, ShouldEqual, 2)
		})

		Convey("A malformed record is reported", func() {
			w := do(mux, "POST", "/analyses", strings.Replace(body, `"gender_class":"W"`, `"gender_class":"X"`, 1))
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decodeError(w).Code, ShouldEqual, "malformed_record")
		})

		Convey("Long class and division names join the coded group", func() {
			mixedSpelling := `{"records":[
				{"event_id":"E","division":"Recurve","gender_class":"Men","score":590,"tens":40,"nines":10},
				{"event_id":"E","division":"R","gender_class":"M","score":570,"tens":30,"nines":12}
			]}`
			w := do(mux, "POST", "/analyses", mixedSpelling)
			So(w.Code, ShouldEqual, http.StatusCreated)

			var resp struct {
				Results []model.Row `json:"results"`
			}
			So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
			So(resp.Results, ShouldHaveLength, 2)
			So(resp.Results[0].Division, ShouldEqual, model.Recurve)
			So(resp.Results[0].Class, ShouldEqual, model.Men)
			So(resp.Results[0].SepRank, ShouldEqual, 1)
			So(resp.Results[1].SepRank, ShouldEqual, 2)
			So(resp.Results[1].SepPercentile, ShouldResemble, model.Pct(100))
		})

		Convey("A repeated idempotency key is a conflict", func() {
			So(do(mux, "POST", "/analyses", body, api.IdempotencyHeader, "k1").Code, ShouldEqual, http.StatusCreated)
			w := do(mux, "POST", "/analyses", body, api.IdempotencyHeader, "k1")
			So(w.Code, ShouldEqual, http.StatusConflict)
			So(decodeError(w).Code, ShouldEqual, "duplicate")
			So(deps.analyzed, ShouldEqual, 1)
		})

		Convey("A failed run releases its idempotency key", func() {
			deps.err = fmt.Errorf("enqueue: %w", queue.ErrFull)
			w := do(mux, "POST", "/analyses", body, api.IdempotencyHeader, "k2")
			So(w.Code, ShouldEqual, http.StatusTooManyRequests)
			So(decodeError(w).Code, ShouldEqual, "backpressure")

			deps.err = nil
			So(do(mux, "POST", "/analyses", body, api.IdempotencyHeader, "k2").Code, ShouldEqual, http.StatusCreated)
		})

		Convey("Movers validates the top parameter", func() {
			So(do(mux, "GET", "/analyses/x/movers?top=abc", "").Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, "GET", "/analyses/x/movers?top=0", "").Code, ShouldEqual, http.StatusBadRequest)
			w := do(mux, "GET", "/analyses/x/movers?top=11", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decodeError(w).Code, ShouldEqual, "limit_exceeded")

			w = do(mux, "GET", "/analyses/x/movers?top=2", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(strings.TrimSpace(w.Body.String()), ShouldEqual, "[]")
		})

		Convey("Missing runs are not found", func() {
			deps.err = fmt.Errorf("get: %w", repository.ErrNotFound)
			for _, path := range []string{"/analyses/x", "/analyses/x/movers", "/analyses/x/stats"} {
				w := do(mux, "GET", path, "")
				So(w.Code, ShouldEqual, http.StatusNotFound)
				So(decodeError(w).Code, ShouldEqual, "not_found")
			}
		})

		Convey("Unexpected failures are internal errors", func() {
			deps.err = fmt.Errorf("disk on fire")
			w := do(mux, "GET", "/analyses", "")
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
			So(decodeError(w).Code, ShouldEqual, "internal_error")
		})

		Convey("An empty run list is an empty array", func() {
			w := do(mux, "GET", "/analyses", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(strings.TrimSpace(w.Body.String()), ShouldEqual, "[]")
		})
	})
}

func TestServer_WithService(t *testing.T) {
	Convey("Given the API over a running service", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		svc := service.New(service.WithWorkerCount(2), service.WithLogger(logger.Nop()))
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		mux := http.NewServeMux()
		api.NewServer(svc, svc).Register(ctx, mux)

		w := do(mux, "POST", "/analyses", body)
		So(w.Code, ShouldEqual, http.StatusCreated)
		var created struct {
			ID string `json:"id"`
		}
		So(json.Unmarshal(w.Body.Bytes(), &created), ShouldBeNil)

		Convey("The run can be listed and read back", func() {
			w := do(mux, "GET", "/analyses", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, created.ID)

			w = do(mux, "GET", "/analyses/"+created.ID, "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"delta_rank"`)
		})

		Convey("Movers are served", func() {
			w := do(mux, "GET", "/analyses/"+created.ID+"/movers?top=1", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			var movers []model.Mover
			So(json.Unmarshal(w.Body.Bytes(), &movers), ShouldBeNil)
			So(movers, ShouldHaveLength, 2)
		})

		Convey("Statistics encode undefined values as null", func() {
			w := do(mux, "GET", "/analyses/"+created.ID+"/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			// A single woman has no standard deviation and the t-test needs two per side.
			So(w.Body.String(), ShouldContainSubstring, `"std":null`)
			So(w.Body.String(), ShouldContainSubstring, `"p":null`)
		})

		Convey("Service counters are exposed", func() {
			w := do(mux, "GET", "/stats", "")
			So(w.Body.String(), ShouldContainSubstring, `"runsStored":1`)
		})
	})
}

// recordingLogger counts error entries.
type recordingLogger struct {
	errors int
}

func (l *recordingLogger) Info(context.Context, string, ...logger.Field)  {}
func (l *recordingLogger) Debug(context.Context, string, ...logger.Field) {}
func (l *recordingLogger) Warn(context.Context, string, ...logger.Field)  {}
func (l *recordingLogger) Error(context.Context, string, ...logger.Field) { l.errors++ }
func (l *recordingLogger) Named(string) logger.Logger                     { return l }

func TestInstrument(t *testing.T) {
	Convey("Instrument keeps the handler's status and logs server errors", t, func() {
		log := &recordingLogger{}
		status := http.StatusOK
		h := api.Instrument(log, "test", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		})

		for _, status = range []int{http.StatusOK, http.StatusNotFound, http.StatusTooManyRequests} {
			w := httptest.NewRecorder()
			h(w, httptest.NewRequest("GET", "/x", http.NoBody))
			So(w.Code, ShouldEqual, status)
		}
		So(log.errors, ShouldEqual, 0)

		status = http.StatusInternalServerError
		w := httptest.NewRecorder()
		h(w, httptest.NewRequest("GET", "/x", http.NoBody))
		So(w.Code, ShouldEqual, http.StatusInternalServerError)
		So(log.errors, ShouldEqual, 1)
	})
}
