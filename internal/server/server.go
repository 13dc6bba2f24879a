// Package server implements the HTTP transport layer for the mason content API.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	site "github.com/eugener/mason/internal"
	"github.com/eugener/mason/internal/app"
	"github.com/eugener/mason/internal/cache"
	"github.com/eugener/mason/internal/ratelimit"
	"github.com/eugener/mason/internal/storage"
	"github.com/eugener/mason/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// KeyInvalidator drops cached credentials after a key changes.
type KeyInvalidator interface {
	InvalidateByKeyID(keyID string)
}

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Auth           site.Authenticator
	Content        *app.Content
	Keys           *app.KeyManager
	KeyStore       storage.APIKeyStore
	Cache          *cache.Service
	KeyInvalidator KeyInvalidator      // nil = no auth cache to invalidate
	ContactLimiter *ratelimit.Registry // nil = no contact form rate limiting
	ReadyCheck     ReadyChecker        // nil = always ready (for tests)
	Metrics        *telemetry.Metrics  // nil = no request metrics
	MetricsHandler http.Handler        // nil = no /metrics route
}

// New creates an http.Handler with all routes and middleware wired.
// It fails if a cached route cannot be registered.
func New(deps Deps) (http.Handler, error) {
	if deps.Cache == nil {
		return nil, errors.New("server: cache service is required")
	}
	if deps.Content == nil {
		return nil, errors.New("server: content catalog is required")
	}
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	// System endpoints (no auth)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	c := deps.Content
	r.Route("/api", func(r chi.Router) {
		// Public reads, served through the response cache.
		r.Get("/services", s.cached(site.CollectionServices, listHandler(c.Services, nil)))
		r.Get("/services/{id}", s.cached(site.CollectionServices, getHandler(c.Services)))
		r.Get("/projects", s.cached(site.CollectionProjects, listHandler(c.Projects, projectFilters)))
		r.Get("/projects/{id}", s.cached(site.CollectionProjects, getHandler(c.Projects)))
		r.Get("/stories", s.cached(site.CollectionStories, listHandler(c.Stories, nil)))
		r.Get("/stories/{id}", s.cached(site.CollectionStories, getHandler(c.Stories)))
		r.Get("/about", s.cached(site.CollectionAbout, s.aboutHandler))

		// Contact form (public, rate limited per client).
		r.With(s.contactRateLimit).Post("/messages", s.handleCreateMessage)

		// Content writes. Each invalidates its namespace after commit.
		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Use(requirePerm(site.PermEditContent))
			mountWrites(s, r, "/services", c.Services)
			mountWrites(s, r, "/projects", c.Projects)
			mountWrites(s, r, "/stories", c.Stories)
			r.Put("/about", s.handlePutAbout)
		})
	})

	r.Route("/admin/v1", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Group(func(r chi.Router) {
			r.Use(requirePerm(site.PermReadMessages))
			r.Get("/messages", s.handleListMessages)
			r.Get("/messages/{id}", s.handleGetMessage)
			r.Patch("/messages/{id}", s.handleUpdateMessage)
			r.Delete("/messages/{id}", s.handleDeleteMessage)
		})

		r.Group(func(r chi.Router) {
			r.Use(requirePerm(site.PermManageKeys))
			r.Get("/keys", s.handleListKeys)
			r.Post("/keys", s.handleCreateKey)
			r.Get("/keys/{id}", s.handleGetKey)
			r.Patch("/keys/{id}", s.handleUpdateKey)
			r.Delete("/keys/{id}", s.handleDeleteKey)
		})

		r.Group(func(r chi.Router) {
			r.Use(requirePerm(site.PermManageCache))
			r.Get("/cache/stats", s.handleCacheStats)
			r.Delete("/cache", s.handleCachePurge)
			r.Delete("/cache/{namespace}", s.handleCacheInvalidate)
		})
	})

	if err := errors.Join(s.errs...); err != nil {
		return nil, err
	}
	return r, nil
}

type server struct {
	deps Deps
	errs []error // route registration failures, reported by New
}
