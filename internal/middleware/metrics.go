// Package middleware provides HTTP middleware for tracing, logging, panic
// recovery and metrics collection.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nadmax/forgeq/internal/metrics"
)

var recordHTTPRequest = metrics.RecordHTTPRequest

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		endpoint := normalizeEndpoint(r.URL.Path)
		status := strconv.Itoa(wrapped.statusCode)

		recordHTTPRequest(r.Method, endpoint, status, duration)
	})
}

// normalizeEndpoint collapses task IDs so the endpoint label stays low-cardinality.
func normalizeEndpoint(path string) string {
	if !strings.HasPrefix(path, "/api/tasks/") {
		return path
	}

	parts := strings.Split(strings.TrimPrefix(path, "/api/tasks/"), "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		return "/api/tasks/:id"
	case len(parts) == 2 && parts[0] != "" && parts[1] == "wait":
		return "/api/tasks/:id/wait"
	default:
		return path
	}
}
