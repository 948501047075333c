// Package middleware holds the HTTP middleware shared by the ingestion and
// search APIs: request ids, Prometheus metrics and request timeouts.
package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/devstudio-tyler/company-on/pkg/metrics"
)

type routeKey struct{}

// route carries the matched pattern from Routes back to Metrics. Middleware
// between the two serves copies of the request, so r.Pattern set by the mux
// never reaches Metrics.
type route struct {
	mu      sync.Mutex
	pattern string
}

func (rt *route) set(pattern string) {
	rt.mu.Lock()
	rt.pattern = pattern
	rt.mu.Unlock()
}

func (rt *route) get() string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.pattern
}

// Routes serves mux and reports the pattern it matched to an enclosing
// Metrics middleware.
func Routes(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rt, ok := r.Context().Value(routeKey{}).(*route); ok {
			_, pattern := mux.Handler(r)
			rt.set(pattern)
		}
		mux.ServeHTTP(w, r)
	})
}

// Metrics records request count, latency and in-flight requests. Paths are
// labelled by route pattern so upload ids do not explode label cardinality;
// wrap the mux in Routes for the pattern to be seen.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			m.HTTPRequestsInFlight.Inc()
			defer m.HTTPRequestsInFlight.Dec()

			rt := &route{}
			r = r.WithContext(context.WithValue(r.Context(), routeKey{}, rt))
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			duration := time.Since(start).Seconds()
			path := rt.get()
			if path == "" {
				path = r.Pattern
			}
			if path == "" {
				path = "unmatched"
			}

			m.HTTPRequestsTotal.WithLabelValues(
				r.Method,
				path,
				strconv.Itoa(sw.status),
			).Inc()

			m.HTTPRequestDuration.WithLabelValues(
				r.Method,
				path,
			).Observe(duration)
		})
	}
}

// statusWriter wraps http.ResponseWriter to capture the response status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.wroteHeader {
		sw.wroteHeader = true
	}
	return sw.ResponseWriter.Write(b)
}

func (sw *statusWriter) Unwrap() http.ResponseWriter { return sw.ResponseWriter }
