package server

import (
	"log/slog"
	"net/http"
)

var (
	okBody       = []byte("ok")
	notReadyBody = []byte("not ready")
	plainCT      = []string{"text/plain"}
)

// handleHealthz reports liveness only; it never touches the store.
func (s *server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header()["Content-Type"] = plainCT
	w.WriteHeader(http.StatusOK)
	w.Write(okBody)
}

// handleReadyz checks the content store and reports the cache backend's
// breaker state in X-Cache-Backend. An open breaker does not fail
// readiness: reads fall through to the store while it is open.
func (s *server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h["Content-Type"] = plainCT
	h.Set("X-Cache-Backend", s.deps.Cache.Stats(r.Context()).Backend)

	if s.deps.ReadyCheck != nil {
		if err := s.deps.ReadyCheck(r.Context()); err != nil {
			slog.LogAttrs(r.Context(), slog.LevelWarn, "readiness check failed",
				slog.String("error", err.Error()),
			)
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write(notReadyBody)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write(okBody)
}
