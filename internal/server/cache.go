package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/eugener/mason/internal/cache"
)

// errNoResponse reports a read handler that returned neither a response
// nor an error.
var errNoResponse = errors.New("read handler returned no response")

var (
	cacheHit  = []string{"HIT"}
	cacheMiss = []string{"MISS"}
)

// cached wraps a read handler with the response cache under namespace and
// adapts it to net/http. Registration errors are collected and reported by New.
func (s *server) cached(namespace string, h cache.Handler) http.HandlerFunc {
	wrapped, err := s.deps.Cache.Wrap(namespace, h)
	if err != nil {
		s.errs = append(s.errs, fmt.Errorf("route %s: %w", namespace, err))
		return func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusInternalServerError, errorResponse(http.StatusInternalServerError, "internal error"))
		}
	}
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := wrapped(r)
		if err == nil && resp == nil {
			err = fmt.Errorf("%s %s: %w", r.Method, r.URL.Path, errNoResponse)
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		serveResponse(w, resp)
	}
}

// serveResponse replays a captured response. The body is shared with the
// store and is never modified.
func serveResponse(w http.ResponseWriter, resp *cache.Response) {
	h := w.Header()
	if resp.Cached {
		h["X-Cache"] = cacheHit
	} else {
		h["X-Cache"] = cacheMiss
	}
	if resp.ContentType != "" {
		h.Set("Content-Type", resp.ContentType)
	}
	h.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

// jsonResponse encodes v as a captured 200 response.
func jsonResponse(v any) (*cache.Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	body = append(body, '\n')
	return &cache.Response{
		Status:      http.StatusOK,
		ContentType: "application/json",
		Body:        body,
	}, nil
}

// invalidate clears namespace after a committed write. A failure does not
// fail the write: it is logged by the cache service and reported to the
// client in a response header.
func (s *server) invalidate(w http.ResponseWriter, r *http.Request, namespace string) {
	if _, err := s.deps.Cache.Invalidate(r.Context(), namespace); err != nil {
		w.Header().Set("X-Cache-Invalidation", "failed")
	}
}
