package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/okian/quiver/pkg/logger"
	"github.com/okian/quiver/pkg/metrics"
)

// Instrument records request count and latency for endpoint. Failed
// requests are counted by kind; server errors are also logged.
func Instrument(log logger.Logger, endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r)
		elapsed := time.Since(start)

		metrics.RecordHTTPRequest(endpoint, r.Method, strconv.Itoa(sw.status), float64(elapsed.Milliseconds()))
		if sw.status < http.StatusBadRequest {
			return
		}
		metrics.RecordError("http_"+endpoint, failureKind(sw.status))
		if sw.status >= http.StatusInternalServerError {
			log.Error(r.Context(), "request failed",
				logger.String("method", r.Method),
				logger.String("path", r.URL.Path),
				logger.Int("status", sw.status),
				logger.Duration("elapsed", elapsed))
		}
	}
}

func failureKind(status int) string {
	switch status {
	case http.StatusTooManyRequests:
		return "backpressure"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "duplicate"
	case http.StatusServiceUnavailable:
		return "cancelled"
	}
	if status >= http.StatusInternalServerError {
		return "server_error"
	}
	return "client_error"
}

// statusWriter remembers the status written through it.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
