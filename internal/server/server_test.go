package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	site "github.com/eugener/mason/internal"
	"github.com/eugener/mason/internal/app"
	"github.com/eugener/mason/internal/cache"
	"github.com/eugener/mason/internal/ratelimit"
	"github.com/eugener/mason/internal/testutil"
)

type testEnv struct {
	h     http.Handler
	store *testutil.FakeStore
	cache *cache.Service
}

func newTestEnv(t *testing.T, mutate ...func(*Deps)) *testEnv {
	t.Helper()
	return newTestEnvWithBackend(t, cache.NewStore[*cache.Response](), mutate...)
}

func newTestEnvWithBackend(t *testing.T, backend cache.Backend, mutate ...func(*Deps)) *testEnv {
	t.Helper()
	store := testutil.NewFakeStore()
	svc, err := cache.NewService(backend, cache.Config{TTL: 5 * time.Minute}, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { svc.Close() })

	deps := Deps{
		Auth:     testutil.FakeAuth{},
		Content:  app.NewContent(store),
		Keys:     app.NewKeyManager(store),
		KeyStore: store,
		Cache:    svc,
	}
	for _, fn := range mutate {
		fn(&deps)
	}
	h, err := New(deps)
	if err != nil {
		t.Fatal(err)
	}
	return &testEnv{h: h, store: store, cache: svc}
}

func (e *testEnv) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.Header.Set("Authorization", "Bearer msn_test")
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func TestNew_RequiresCache(t *testing.T) {
	t.Parallel()
	_, err := New(Deps{Content: app.NewContent(testutil.NewFakeStore())})
	if err == nil {
		t.Fatal("expected error without cache service")
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	rec := e.do(http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "ok")
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	rec := e.do(http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestReadyzFailing(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, func(d *Deps) {
		d.ReadyCheck = func(context.Context) error { return errors.New("db down") }
	})

	rec := e.do(http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestReadyzReportsCacheBackend(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	rec := e.do(http.MethodGet, "/readyz", "")
	if got := rec.Header().Get("X-Cache-Backend"); got != "closed" {
		t.Errorf("X-Cache-Backend = %q, want closed", got)
	}
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	rec := e.do(http.MethodGet, "/healthz", "")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header should be set")
	}
}

// TestCachedRead_HitSkipsStore walks read, read again, write, read: the
// second read must be served without touching the store and the read after
// the write must see the new data.
func TestCachedRead_HitSkipsStore(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	rec := e.do(http.MethodPost, "/api/services", `{"title":"Roofing"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d; body = %s", rec.Code, rec.Body.String())
	}

	rec = e.do(http.MethodGet, "/api/services?limit=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("first read: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-Cache"); got != "MISS" {
		t.Errorf("first read X-Cache = %q, want MISS", got)
	}
	first := rec.Body.String()
	reads := e.store.Reads(site.CollectionServices)

	rec = e.do(http.MethodGet, "/api/services?limit=10", "")
	if got := rec.Header().Get("X-Cache"); got != "HIT" {
		t.Errorf("second read X-Cache = %q, want HIT", got)
	}
	if rec.Body.String() != first {
		t.Errorf("cached body = %s, want %s", rec.Body.String(), first)
	}
	if got := e.store.Reads(site.CollectionServices); got != reads {
		t.Errorf("store reads = %d after hit, want %d", got, reads)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	rec = e.do(http.MethodPost, "/api/services", `{"title":"Siding"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("second create: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Cache-Invalidation") != "" {
		t.Error("invalidation should succeed")
	}

	rec = e.do(http.MethodGet, "/api/services?limit=10", "")
	if got := rec.Header().Get("X-Cache"); got != "MISS" {
		t.Errorf("read after write X-Cache = %q, want MISS", got)
	}
	if !strings.Contains(rec.Body.String(), "Siding") {
		t.Errorf("read after write should include new service, got %s", rec.Body.String())
	}
	if got := e.store.Reads(site.CollectionServices); got <= reads {
		t.Error("read after write should hit the store")
	}
}

func TestCachedRead_QueryStringsAreDistinct(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	e.do(http.MethodPost, "/api/projects", `{"title":"Deck","category":"Outdoor","featured":true}`)
	e.do(http.MethodPost, "/api/projects", `{"title":"Kitchen","category":"interior"}`)

	rec := e.do(http.MethodGet, "/api/projects?category=outdoor", "")
	if !strings.Contains(rec.Body.String(), "Deck") || strings.Contains(rec.Body.String(), "Kitchen") {
		t.Errorf("category filter: %s", rec.Body.String())
	}
	rec = e.do(http.MethodGet, "/api/projects?featured=false", "")
	if rec.Header().Get("X-Cache") != "MISS" {
		t.Error("different query should miss")
	}
	if !strings.Contains(rec.Body.String(), "Kitchen") || strings.Contains(rec.Body.String(), "Deck") {
		t.Errorf("featured filter: %s", rec.Body.String())
	}
}

func TestCachedRead_BadFilterNotCached(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	for range 2 {
		rec := e.do(http.MethodGet, "/api/projects?featured=maybe", "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	}
	if n := e.cache.Len(context.Background()); n != 0 {
		t.Errorf("cache entries = %d, want 0", n)
	}
}

func TestCachedRead_NotFoundNotCached(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	rec := e.do(http.MethodGet, "/api/stories/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	before := e.store.Reads(site.CollectionStories)
	e.do(http.MethodGet, "/api/stories/missing", "")
	if e.store.Reads(site.CollectionStories) == before {
		t.Error("404 should not be cached")
	}
}

func TestContentCRUD(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	rec := e.do(http.MethodPost, "/api/stories", `{"title":"New roof","client":"The Hendersons"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	var created site.Story
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	if created.ID == "" {
		t.Fatal("created story should have an id")
	}
	if loc := rec.Header().Get("Location"); loc != "/api/stories/"+created.ID {
		t.Errorf("Location = %q", loc)
	}

	// Warm the cache for the detail route.
	e.do(http.MethodGet, "/api/stories/"+created.ID, "")

	rec = e.do(http.MethodPut, "/api/stories/"+created.ID, `{"title":"New roof","client":"The Hendersons","quote":"Great work"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status = %d; body = %s", rec.Code, rec.Body.String())
	}

	rec = e.do(http.MethodGet, "/api/stories/"+created.ID, "")
	if rec.Header().Get("X-Cache") != "MISS" || !strings.Contains(rec.Body.String(), "Great work") {
		t.Errorf("detail after update: %s %s", rec.Header().Get("X-Cache"), rec.Body.String())
	}

	rec = e.do(http.MethodDelete, "/api/stories/"+created.ID, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status = %d", rec.Code)
	}
	rec = e.do(http.MethodGet, "/api/stories/"+created.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: status = %d, want 404", rec.Code)
	}

	rec = e.do(http.MethodPut, "/api/stories/missing", `{"title":"x","client":"y"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("update missing: status = %d, want 404", rec.Code)
	}
}

func TestContentWrite_Validation(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	rec := e.do(http.MethodPost, "/api/services", `{"summary":"no title"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	rec = e.do(http.MethodPost, "/api/services", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed: status = %d, want 400", rec.Code)
	}
}

func TestContentWrite_RequiresAuth(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, func(d *Deps) { d.Auth = testutil.RejectAuth{} })

	rec := e.do(http.MethodPost, "/api/services", `{"title":"Roofing"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	// Public reads stay open.
	rec = e.do(http.MethodGet, "/api/services", "")
	if rec.Code != http.StatusOK {
		t.Errorf("read: status = %d, want 200", rec.Code)
	}
}

func TestAbout(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	rec := e.do(http.MethodGet, "/api/about", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	rec = e.do(http.MethodPut, "/api/about", `{"headline":"Built right","body":"Since 1998."}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	e.do(http.MethodGet, "/api/about", "")

	rec = e.do(http.MethodPut, "/api/about", `{"headline":"Built to last","body":"Since 1998."}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("second put: status = %d", rec.Code)
	}
	rec = e.do(http.MethodGet, "/api/about", "")
	if rec.Header().Get("X-Cache") != "MISS" || !strings.Contains(rec.Body.String(), "Built to last") {
		t.Errorf("about after put: %s %s", rec.Header().Get("X-Cache"), rec.Body.String())
	}
}

// failingBackend serves reads normally but panics on invalidation.
type failingBackend struct {
	*cache.Store[*cache.Response]
}

func (failingBackend) DeleteByPrefix(string) int { panic("backend unavailable") }

func TestWrite_InvalidationFailureSurfaced(t *testing.T) {
	t.Parallel()
	e := newTestEnvWithBackend(t, failingBackend{cache.NewStore[*cache.Response]()})

	rec := e.do(http.MethodPost, "/api/services", `{"title":"Roofing"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-Cache-Invalidation"); got != "failed" {
		t.Errorf("X-Cache-Invalidation = %q, want failed", got)
	}
	if n, _ := e.store.CountDocuments(context.Background(), site.CollectionServices); n != 1 {
		t.Errorf("write should be committed, count = %d", n)
	}
}

func TestContactMessage(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	rec := e.do(http.MethodPost, "/api/messages", `{"name":"Ann","email":"ann@example.com","body":"Need a quote","read":true}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d; body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		ID string `json:"id"`
	}
	json.NewDecoder(rec.Body).Decode(&resp)

	msg, err := e.store.GetDocument(context.Background(), site.CollectionMessages, resp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(msg), `"read":true`) {
		t.Error("new messages should be unread")
	}

	rec = e.do(http.MethodPost, "/api/messages", `{"name":"Ann","email":"nope","body":"x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad email: status = %d, want 400", rec.Code)
	}
}

func TestContactMessage_RateLimited(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, func(d *Deps) {
		d.ContactLimiter = ratelimit.NewRegistry(1)
	})

	body := `{"name":"Ann","email":"ann@example.com","body":"Hello"}`
	rec := e.do(http.MethodPost, "/api/messages", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	rec = e.do(http.MethodPost, "/api/messages", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second: status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header should be set")
	}
	if rec.Header().Get("X-Ratelimit-Limit") != "1" {
		t.Errorf("X-Ratelimit-Limit = %q", rec.Header().Get("X-Ratelimit-Limit"))
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.7:51234"
	if got := clientIP(r); got != "203.0.113.7" {
		t.Errorf("clientIP = %q", got)
	}
	r.RemoteAddr = "unix"
	if got := clientIP(r); got != "unix" {
		t.Errorf("clientIP = %q", got)
	}
}

func TestCached_NilResponseIsInternalError(t *testing.T) {
	t.Parallel()
	svc, err := cache.NewService(cache.NewStore[*cache.Response](), cache.Config{TTL: time.Minute}, nil)
	if err != nil {
		t.Fatal(err)
	}
	s := &server{deps: Deps{Cache: svc}}
	h := s.cached("services", func(*http.Request) (*cache.Response, error) { return nil, nil })
	if len(s.errs) != 0 {
		t.Fatalf("registration errors: %v", s.errs)
	}

	for _, method := range []string{http.MethodGet, http.MethodHead} {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(method, "/api/services", nil))
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("%s: status = %d, want %d", method, rec.Code, http.StatusInternalServerError)
		}
		if method == http.MethodGet && !strings.Contains(rec.Body.String(), "internal error") {
			t.Errorf("%s: body = %s", method, rec.Body.String())
		}
	}
	if svc.Len(context.Background()) != 0 {
		t.Error("nil response must not be stored")
	}
}
