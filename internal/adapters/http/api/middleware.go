package api

import (
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/okian/scoreingest/pkg/logger"
	"github.com/okian/scoreingest/pkg/metrics"
)

// MetricsMiddleware wraps a handler to record request metrics and to turn a
// handler panic into a 500 instead of a dropped connection.
func MetricsMiddleware(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		defer func() {
			if p := recover(); p != nil {
				logger.Get().Error(r.Context(), "handler panicked",
					logger.String("endpoint", endpoint),
					logger.Any("panic", p),
					logger.String("stack", string(debug.Stack())),
				)
				if !wrapped.wroteHeader {
					writeError(wrapped, http.StatusInternalServerError, "internal_error", nil)
				}
			}

			durationMs := float64(time.Since(start).Milliseconds())
			status := strconv.Itoa(wrapped.statusCode)
			metrics.RecordHTTPRequest(endpoint, r.Method, status)
			metrics.RecordHTTPRequestDuration(endpoint, r.Method, status, durationMs)
			if wrapped.statusCode >= http.StatusBadRequest {
				errorType := errorTypeOf(wrapped.statusCode)
				metrics.RecordErrorByEndpoint(endpoint, r.Method, errorType)
				metrics.RecordErrorByType(errorType, severityOf(wrapped.statusCode))
			}
		}()

		next.ServeHTTP(wrapped, r)
	}
}

func errorTypeOf(statusCode int) string {
	switch {
	case statusCode >= http.StatusInternalServerError:
		return "server_error"
	case statusCode == http.StatusUnauthorized:
		return "unauthorized"
	case statusCode == http.StatusNotFound:
		return "not_found"
	case statusCode == http.StatusRequestEntityTooLarge:
		return "too_large"
	default:
		return "client_error"
	}
}

func severityOf(statusCode int) string {
	if statusCode >= http.StatusInternalServerError {
		return "high"
	}
	return "medium"
}

// responseWriter captures the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.statusCode = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }
