package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/23skdu/attnscope/internal/logger"
	"github.com/23skdu/attnscope/internal/metrics"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// UnknownEndpoint labels requests for paths no API route serves.
const UnknownEndpoint = "unknown"

type LoggingMiddleware struct {
	skipPaths map[string]bool
	endpoints map[string]bool
}

func NewLoggingMiddleware() *LoggingMiddleware {
	return &LoggingMiddleware{
		skipPaths: map[string]bool{
			"/health":      true,
			"/healthz":     true,
			"/readyz":      true,
			"/metrics":     true,
			"/favicon.ico": true,
		},
		endpoints: map[string]bool{
			"/api/models":  true,
			"/api/extract": true,
		},
	}
}

func (m *LoggingMiddleware) endpoint(path string) string {
	if m.endpoints[path] {
		return path
	}
	return UnknownEndpoint
}

// Middleware tags each request with an X-Request-ID, logs it and counts it
// by API route and status code.
func (m *LoggingMiddleware) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}

		metrics.RecordHTTP(m.endpoint(r.URL.Path), strconv.Itoa(rec.status))
		logger.Log.With("http").Info("HTTP Request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"query", r.URL.RawQuery,
			"status", rec.status,
			"bytes", rec.bytes,
			"duration_ms", float64(time.Since(start).Microseconds())/1000,
			"client_ip", r.RemoteAddr,
		)
	}
}
