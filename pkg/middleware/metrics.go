// Package middleware holds the HTTP middleware shared by the index services.
package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/metrics"
)

// Metrics records count, latency and in-flight requests per route.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			done := m.TrackInFlight()
			defer done()

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			m.ObserveHTTP(r.Method, normalizePath(r.URL.Path), rec.Status(), time.Since(start))
		})
	}
}

// statusRecorder remembers the first status written through it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	if rec.status == 0 {
		rec.status = code
	}
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	return rec.ResponseWriter.Write(b)
}

func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}

// Status is 200 when the handler wrote nothing.
func (rec *statusRecorder) Status() int {
	if rec.status == 0 {
		return http.StatusOK
	}
	return rec.status
}

const docsPrefix = "/api/v1/docs/"

// normalizePath collapses document IDs so each route is one label value.
func normalizePath(path string) string {
	if strings.HasPrefix(path, docsPrefix) && len(path) > len(docsPrefix) {
		return docsPrefix + "{id}"
	}
	return path
}
