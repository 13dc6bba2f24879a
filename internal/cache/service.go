package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/eugener/mason/internal/circuitbreaker"
	"github.com/eugener/mason/internal/telemetry"
)

// Config holds response cache settings.
type Config struct {
	// TTL applies to every namespace without an override.
	TTL time.Duration
	// NamespaceTTL overrides TTL per namespace.
	NamespaceTTL map[string]time.Duration
	// Breaker controls when a failing backend is taken out of the read
	// path. Zero fields use circuitbreaker.DefaultConfig.
	Breaker circuitbreaker.Config
}

// Service is the process-wide response cache. Construct one at startup,
// share it across routes, and Close it at shutdown.
type Service struct {
	backend Backend
	cfg     Config
	metrics *telemetry.Metrics // nil = no metrics
	tracer  trace.Tracer
	flight  singleflight.Group
	breaker *circuitbreaker.Breaker
	closed  atomic.Bool
}

// NewService validates cfg and returns a Service over backend.
func NewService(backend Backend, cfg Config, m *telemetry.Metrics) (*Service, error) {
	if backend == nil {
		return nil, errors.New("cache: nil backend")
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("%w: default %s", ErrInvalidTTL, cfg.TTL)
	}
	for ns, ttl := range cfg.NamespaceTTL {
		if err := ValidateNamespace(ns); err != nil {
			return nil, fmt.Errorf("%w: %q", err, ns)
		}
		if ttl <= 0 {
			return nil, fmt.Errorf("%w: namespace %q: %s", ErrInvalidTTL, ns, ttl)
		}
	}
	return &Service{
		backend: backend,
		cfg:     cfg,
		metrics: m,
		tracer:  telemetry.Tracer("cache"),
		breaker: circuitbreaker.NewBreaker(cfg.Breaker),
	}, nil
}

// TTL returns the effective TTL for namespace.
func (s *Service) TTL(namespace string) time.Duration {
	if ttl, ok := s.cfg.NamespaceTTL[namespace]; ok {
		return ttl
	}
	return s.cfg.TTL
}

// Wrap decorates a read handler with caching under namespace. Only GET
// requests consult or populate the store; anything else passes through.
// Only 2xx responses are captured. Errors from h are returned untouched.
func (s *Service) Wrap(namespace string, h Handler) (Handler, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return nil, fmt.Errorf("%w: %q", err, namespace)
	}
	if h == nil {
		return nil, errors.New("cache: nil handler")
	}
	ttl := s.TTL(namespace)

	return func(r *http.Request) (*Response, error) {
		if r.Method != http.MethodGet || s.closed.Load() {
			return h(r)
		}
		if !s.breaker.Allow() {
			// Backend is failing; serve uncached until a probe succeeds.
			return h(r)
		}
		return s.serve(r, namespace, ttl, h)
	}, nil
}

func (s *Service) serve(r *http.Request, namespace string, ttl time.Duration, h Handler) (*Response, error) {
	key := Key(namespace, r)
	ctx, span := s.tracer.Start(r.Context(), "cache.lookup",
		trace.WithAttributes(attribute.String("cache.namespace", namespace)),
	)
	defer span.End()

	if resp, ok := s.lookup(ctx, key); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		if s.metrics != nil {
			s.metrics.CacheHits.WithLabelValues(namespace).Inc()
		}
		hit := *resp
		hit.Cached = true
		return &hit, nil
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))
	if s.metrics != nil {
		s.metrics.CacheMisses.WithLabelValues(namespace).Inc()
	}

	// The generation is read before joining a flight so a request that
	// arrives after an invalidation never shares a fetch started before it.
	gen, ok := s.generation(ctx, namespace)
	if !ok {
		return h(r)
	}

	v, err, shared := s.flight.Do(flightKey(key, gen), func() (any, error) {
		return s.fetch(r, namespace, key, ttl, gen, h)
	})
	if err != nil && shared && isContextErr(err) && r.Context().Err() == nil {
		// The leader was cancelled but this caller is still live.
		return s.fetch(r, namespace, key, ttl, gen, h)
	}
	resp, _ := v.(*Response)
	return resp, err
}

func flightKey(key string, gen uint64) string {
	return key + "\x00" + strconv.FormatUint(gen, 10)
}

// fetch runs h and stores a successful result, unless the namespace has
// moved past gen while h was running.
func (s *Service) fetch(r *http.Request, namespace, key string, ttl time.Duration, gen uint64, h Handler) (*Response, error) {
	resp, err := h(r)
	if err != nil || resp == nil {
		return resp, err
	}
	if !isSuccess(resp.Status) || r.Context().Err() != nil {
		return resp, nil
	}
	s.store(r.Context(), namespace, key, resp, ttl, gen)
	return resp, nil
}

// lookup reads from the backend, failing open to a miss.
func (s *Service) lookup(ctx context.Context, key string) (resp *Response, ok bool) {
	err := s.guard(ctx, "get", func() {
		resp, ok = s.backend.Get(key)
	})
	if err != nil {
		return nil, false
	}
	return resp, ok
}

func (s *Service) generation(ctx context.Context, namespace string) (gen uint64, ok bool) {
	err := s.guard(ctx, "generation", func() {
		gen = s.backend.Generation(namespace)
	})
	return gen, err == nil
}

func (s *Service) store(ctx context.Context, namespace, key string, resp *Response, ttl time.Duration, gen uint64) {
	var stored bool
	var setErr error
	if err := s.guard(ctx, "set", func() {
		stored, setErr = s.backend.SetIfGeneration(key, resp, ttl, gen)
	}); err != nil {
		return
	}
	if setErr != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "cache store rejected",
			slog.String("key", key),
			slog.String("error", setErr.Error()),
		)
		s.countError("set")
		return
	}
	if !stored {
		slog.LogAttrs(ctx, slog.LevelDebug, "cache store skipped, namespace invalidated during fetch",
			slog.String("namespace", namespace),
		)
		return
	}
	if s.metrics != nil {
		s.metrics.CacheStores.WithLabelValues(namespace).Inc()
	}
	s.updateEntries(ctx)
}

// Invalidate removes every entry under namespace. Call it only after the
// write that changed the underlying data has committed.
func (s *Service) Invalidate(ctx context.Context, namespace string) (int, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return 0, fmt.Errorf("%w: %q", err, namespace)
	}
	var n int
	if err := s.guard(ctx, "invalidate", func() {
		n = s.backend.DeleteByPrefix(namespace)
	}); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "cache invalidation failed, stale responses may be served",
			slog.String("namespace", namespace),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("%w: namespace %q: %w", ErrInvalidation, namespace, err)
	}
	if s.metrics != nil {
		s.metrics.CacheInvalidations.WithLabelValues(namespace).Inc()
	}
	slog.LogAttrs(ctx, slog.LevelDebug, "cache invalidated",
		slog.String("namespace", namespace),
		slog.Int("removed", n),
	)
	s.updateEntries(ctx)
	return n, nil
}

// Purge removes every entry in every namespace.
func (s *Service) Purge(ctx context.Context) (int, error) {
	var n int
	if err := s.guard(ctx, "purge", func() {
		n = s.backend.Purge()
	}); err != nil {
		return 0, fmt.Errorf("%w: purge: %w", ErrInvalidation, err)
	}
	s.updateEntries(ctx)
	return n, nil
}

// Sweep removes expired entries. Run it periodically to bound memory held
// by entries that are never read again.
func (s *Service) Sweep(ctx context.Context) int {
	var n int
	if err := s.guard(ctx, "sweep", func() {
		n = s.backend.Sweep()
	}); err != nil {
		return 0
	}
	if s.metrics != nil {
		s.metrics.CacheSwept.Add(float64(n))
	}
	s.updateEntries(ctx)
	return n
}

// Len returns the number of stored entries.
func (s *Service) Len(ctx context.Context) int {
	var n int
	_ = s.guard(ctx, "len", func() {
		n = s.backend.Len()
	})
	return n
}

// Stats is a point-in-time view of the cache contents.
type Stats struct {
	Entries    int            `json:"entries"`
	Namespaces map[string]int `json:"namespaces"`
	TTLSeconds float64        `json:"default_ttl_seconds"`
	Backend    string         `json:"backend"` // breaker state: closed, open or half_open
}

// Stats returns entry counts overall and per namespace.
func (s *Service) Stats(ctx context.Context) Stats {
	st := Stats{
		Namespaces: map[string]int{},
		TTLSeconds: s.cfg.TTL.Seconds(),
		Backend:    s.breaker.State().String(),
	}
	_ = s.guard(ctx, "stats", func() {
		st.Namespaces = s.backend.Namespaces()
	})
	for _, n := range st.Namespaces {
		st.Entries += n
	}
	return st
}

// Close purges the store and turns wrapped handlers into pass-throughs.
func (s *Service) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	_, err := s.Purge(context.Background())
	return err
}

// guard runs a backend call, converting a panic into an error so a cache
// malfunction degrades to the uncached path. Outcomes feed the breaker.
func (s *Service) guard(ctx context.Context, op string, fn func()) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("cache %s: %v", op, rec)
			slog.LogAttrs(ctx, slog.LevelError, "cache backend failure",
				slog.String("op", op),
				slog.Any("error", rec),
			)
			s.countError(op)
			s.breaker.RecordError()
			return
		}
		s.breaker.RecordSuccess()
	}()
	fn()
	return nil
}

func (s *Service) countError(op string) {
	if s.metrics != nil {
		s.metrics.CacheErrors.WithLabelValues(op).Inc()
	}
}

func (s *Service) updateEntries(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	s.metrics.CacheEntries.Set(float64(s.Len(ctx)))
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
