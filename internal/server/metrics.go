package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eugener/mason/internal/telemetry"
)

// unmatchedRoute labels requests that matched no route, so scanners probing
// random paths cannot grow the label set.
const unmatchedRoute = "other"

// Cache outcome label values. Routes outside the response cache are "none".
const (
	outcomeHit  = "hit"
	outcomeMiss = "miss"
	outcomeNone = "none"
)

// statusText holds the label value for every status code we can emit.
var statusText [600]string

func init() {
	for i := range statusText {
		statusText[i] = strconv.Itoa(i)
	}
}

func statusLabel(code int) string {
	if code < 0 || code >= len(statusText) {
		return strconv.Itoa(code)
	}
	return statusText[code]
}

// metricsMiddleware counts requests per route and status and records
// latency per route and cache outcome, so hit and miss latency for the
// same endpoint can be compared directly.
func metricsMiddleware(m *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.ActiveRequests.Inc()
			defer m.ActiveRequests.Dec()
			start := time.Now()

			sw := statusWriterPool.Get().(*statusWriter)
			sw.ResponseWriter = w
			sw.status = http.StatusOK
			sw.wroteHeader = false
			next.ServeHTTP(sw, r)
			status := sw.status
			sw.ResponseWriter = nil
			statusWriterPool.Put(sw)

			route := routePattern(r)
			m.RequestsTotal.WithLabelValues(r.Method, route, statusLabel(status)).Inc()
			m.RequestDuration.WithLabelValues(r.Method, route, cacheOutcome(w.Header())).
				Observe(time.Since(start).Seconds())
		})
	}
}

// cacheOutcome reads the X-Cache header set by the cached adapter.
func cacheOutcome(h http.Header) string {
	switch v := h["X-Cache"]; {
	case len(v) == 0:
		return outcomeNone
	case v[0] == "HIT":
		return outcomeHit
	default:
		return outcomeMiss
	}
}

// routePattern returns the chi route pattern, e.g. /api/projects/{id}.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return unmatchedRoute
}
