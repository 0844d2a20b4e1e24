package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/okian/quiver/internal/adapters/repository"
	"github.com/okian/quiver/internal/domain/dedupe"
	"github.com/okian/quiver/internal/domain/model"
	"github.com/okian/quiver/internal/report"
	"github.com/okian/quiver/pkg/logger"
)

// IdempotencyHeader names the header used to drop repeated submissions.
const IdempotencyHeader = "Idempotency-Key"

// Dependencies required by the analysis handlers.
type Dependencies interface {
	Analyze(ctx context.Context, source string, records []model.Record) (repository.Run, error)
	Run(ctx context.Context, id string) (repository.Run, error)
	Runs(ctx context.Context) ([]repository.Summary, error)
	Movers(ctx context.Context, id string, topN int) ([]model.Mover, error)
	Stats(ctx context.Context, id string) (report.RunStats, error)
}

// AnalysesHandler serves /analyses.
type AnalysesHandler struct {
	deps      Dependencies
	deduper   dedupe.Deduper
	maxMovers int
	logger    logger.Logger
}

// NewAnalysesHandler creates the analyses handler.
func NewAnalysesHandler(deps Dependencies, opts ...Option) *AnalysesHandler {
	h := &AnalysesHandler{deps: deps, maxMovers: defaultMaxMovers, logger: logger.Nop()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// analysisRequest mirrors the OpenAPI schema for POST /analyses.
type analysisRequest struct {
	Source  string         `json:"source"`
	Records []model.Record `json:"records"`
}

// runResponse is a run summary with its ranked rows.
type runResponse struct {
	repository.Summary
	Results []model.Row `json:"results"`
}

func newRunResponse(run repository.Run) runResponse {
	return runResponse{Summary: run.Summary(), Results: model.Rows(run.Records)}
}

// HandlePost handles POST /analyses.
func (h *AnalysesHandler) HandlePost(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_analysis"
	var req analysisRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if len(req.Records) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, errors.New("no records")))
		return
	}

	key := r.Header.Get(IdempotencyHeader)
	if key != "" && h.deduper != nil {
		if h.deduper.SeenAndRecord(r.Context(), key) {
			writeError(w, http.StatusConflict, "duplicate", NewKind(op, ErrDuplicate))
			return
		}
	}

	run, err := h.deps.Analyze(r.Context(), req.Source, req.Records)
	if err != nil {
		if key != "" && h.deduper != nil {
			// Rollback the "seen" status so the client can retry.
			h.deduper.Unrecord(r.Context(), key)
		}
		h.logger.Warn(r.Context(), "analysis failed", logger.String("source", req.Source), logger.Error(err))
		writeFailure(w, op, err)
		return
	}
	w.Header().Set("Location", "/analyses/"+run.ID)
	writeJSON(w, http.StatusCreated, newRunResponse(run))
}

// HandleList handles GET /analyses.
func (h *AnalysesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_analyses"
	runs, err := h.deps.Runs(r.Context())
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	if runs == nil {
		runs = []repository.Summary{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// HandleGet handles GET /analyses/{id}.
func (h *AnalysesHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_analysis"
	run, err := h.deps.Run(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, newRunResponse(run))
}

// HandleMovers handles GET /analyses/{id}/movers?top=N.
func (h *AnalysesHandler) HandleMovers(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_movers"
	top := 0
	if s := r.URL.Query().Get("top"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, fmt.Errorf("invalid top %q", s)))
			return
		}
		top = n
	}
	if top > h.maxMovers {
		writeError(w, http.StatusBadRequest, "limit_exceeded", WrapKind(op, ErrBadRequest, fmt.Errorf("top must be at most %d", h.maxMovers)))
		return
	}
	movers, err := h.deps.Movers(r.Context(), r.PathValue("id"), top)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	if movers == nil {
		movers = []model.Mover{}
	}
	writeJSON(w, http.StatusOK, movers)
}

// HandleStats handles GET /analyses/{id}/stats.
func (h *AnalysesHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_analysis_stats"
	st, err := h.deps.Stats(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, newStatsResponse(st))
}

// number is a float that encodes NaN as null.
type number float64

func (n number) MarshalJSON() ([]byte, error) {
	if math.IsNaN(float64(n)) || math.IsInf(float64(n), 0) {
		return []byte("null"), nil
	}
	return json.Marshal(float64(n))
}

type summaryJSON struct {
	report.GroupKey
	Mean  number `json:"mean"`
	Std   number `json:"std"`
	Max   number `json:"max"`
	Min   number `json:"min"`
	Count int    `json:"count"`
}

type tTestJSON struct {
	report.GroupKey
	T     number `json:"t"`
	DF    number `json:"df"`
	P     number `json:"p"`
	Men   int    `json:"men"`
	Women int    `json:"women"`
}

type statsResponse struct {
	Summaries     []summaryJSON `json:"summaries"`
	BandSummaries []summaryJSON `json:"band_summaries"`
	TTests        []tTestJSON   `json:"t_tests"`
	BandTTests    []tTestJSON   `json:"band_t_tests"`
}

func newStatsResponse(st report.RunStats) statsResponse {
	sums := func(in []report.GroupSummary) []summaryJSON {
		out := make([]summaryJSON, len(in))
		for i, s := range in {
			out[i] = summaryJSON{GroupKey: s.GroupKey, Mean: number(s.Mean), Std: number(s.Std), Max: number(s.Max), Min: number(s.Min), Count: s.Count}
		}
		return out
	}
	tests := func(in []report.TTest) []tTestJSON {
		out := make([]tTestJSON, len(in))
		for i, t := range in {
			out[i] = tTestJSON{GroupKey: t.GroupKey, T: number(t.T), DF: number(t.DF), P: number(t.P), Men: t.Men, Women: t.Women}
		}
		return out
	}
	return statsResponse{
		Summaries:     sums(st.Summaries),
		BandSummaries: sums(st.BandSummaries),
		TTests:        tests(st.TTests),
		BandTTests:    tests(st.BandTTests),
	}
}
