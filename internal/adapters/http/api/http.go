// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/quiver/internal/adapters/mq/queue"
	"github.com/okian/quiver/internal/adapters/repository"
	"github.com/okian/quiver/internal/domain/dedupe"
	"github.com/okian/quiver/internal/domain/ranking"
	"github.com/okian/quiver/pkg/logger"
)

const defaultMaxMovers = 100

// Server wires HTTP routes for the analysis API.
type Server struct {
	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
	analysesHandler *AnalysesHandler
}

// Option configures a Server.
type Option func(*AnalysesHandler)

// WithMaxMovers caps the top query parameter of the movers endpoint.
func WithMaxMovers(n int) Option {
	return func(h *AnalysesHandler) {
		if n > 0 {
			h.maxMovers = n
		}
	}
}

// WithDeduper makes POST /analyses honour an Idempotency-Key header.
func WithDeduper(d dedupe.Deduper) Option {
	return func(h *AnalysesHandler) { h.deduper = d }
}

// WithLogger sets the handler logger.
func WithLogger(l logger.Logger) Option {
	return func(h *AnalysesHandler) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	return &Server{
		healthHandler:   NewHealthHandler(),
		statsHandler:    NewStatsHandler(statsProvider),
		analysesHandler: NewAnalysesHandler(deps, opts...),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	log := s.analysesHandler.logger
	mux.HandleFunc("GET /healthz", Instrument(log, "healthz", s.healthHandler.HandleHealth))
	mux.HandleFunc("GET /stats", Instrument(log, "stats", s.statsHandler.HandleStats))
	mux.HandleFunc("POST /analyses", Instrument(log, "analyses", s.analysesHandler.HandlePost))
	mux.HandleFunc("GET /analyses", Instrument(log, "analyses", s.analysesHandler.HandleList))
	mux.HandleFunc("GET /analyses/{id}", Instrument(log, "analysis", s.analysesHandler.HandleGet))
	mux.HandleFunc("GET /analyses/{id}/movers", Instrument(log, "movers", s.analysesHandler.HandleMovers))
	mux.HandleFunc("GET /analyses/{id}/stats", Instrument(log, "analysis_stats", s.analysesHandler.HandleStats))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Index is the offending record of a rejected batch.
	Index *int `json:"index,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	resp := errorResponse{Code: code, Message: msg}
	var re *ranking.RecordError
	if errors.As(err, &re) {
		resp.Index = &re.Index
	}
	writeJSON(w, status, resp)
}

// writeFailure maps a dependency error onto a status and code.
func writeFailure(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ranking.ErrZeroScore):
		writeError(w, http.StatusBadRequest, "zero_score", WrapKind(op, ErrBadRequest, err))
	case errors.Is(err, ranking.ErrMalformedRecord):
		writeError(w, http.StatusBadRequest, "malformed_record", WrapKind(op, ErrBadRequest, err))
	case errors.Is(err, queue.ErrFull):
		writeError(w, http.StatusTooManyRequests, "backpressure", WrapKind(op, ErrBackpressure, err))
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, repository.ErrInvalidID):
		writeError(w, http.StatusNotFound, "not_found", WrapKind(op, ErrNotFound, err))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "cancelled", Wrap(op, err))
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
	}
}
