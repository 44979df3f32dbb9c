package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/okian/chartsnap/pkg/logger"
	"github.com/okian/chartsnap/pkg/metrics"
)

// MetricsMiddleware records request count, latency and error class per
// endpoint, and logs slow or failed requests.
func MetricsMiddleware(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	log := logger.Named("http")
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		elapsed := time.Since(start)
		durationMs := float64(elapsed.Microseconds()) / 1000
		status := strconv.Itoa(wrapped.status)

		metrics.RecordHTTPRequest(endpoint, r.Method, status)
		metrics.RecordHTTPRequestDuration(endpoint, r.Method, status, durationMs)

		if wrapped.status < http.StatusBadRequest {
			log.Debug(r.Context(), "request served",
				logger.String("endpoint", endpoint),
				logger.Int("status", wrapped.status),
				logger.Duration("elapsed", elapsed))
			return
		}
		class := errorClass(wrapped.status)
		metrics.RecordErrorByComponent("http_"+endpoint, class)
		log.Warn(r.Context(), "request failed",
			logger.String("endpoint", endpoint),
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", wrapped.status),
			logger.String("class", class),
			logger.Duration("elapsed", elapsed))
	}
}

// errorClass buckets a failing status code for the error metric.
func errorClass(status int) string {
	switch {
	case status >= http.StatusInternalServerError:
		return "server_error"
	case status == http.StatusTooManyRequests:
		return "throttled"
	case status == http.StatusNotFound:
		return "not_found"
	default:
		return "client_error"
	}
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
