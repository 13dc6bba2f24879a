package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"

	site "github.com/eugener/mason/internal"
	"github.com/eugener/mason/internal/testutil"
)

type recordingInvalidator struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingInvalidator) InvalidateByKeyID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

func TestAdminKeyCRUD(t *testing.T) {
	t.Parallel()
	inv := &recordingInvalidator{}
	e := newTestEnv(t, func(d *Deps) { d.KeyInvalidator = inv })

	// Create
	rec := e.do(http.MethodPost, "/admin/v1/keys", `{"name":"site editor","role":"editor"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, want 201; body = %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID   string `json:"id"`
		Key  string `json:"key"`
		Role string `json:"role"`
	}
	json.NewDecoder(rec.Body).Decode(&created)
	if !strings.HasPrefix(created.Key, site.APIKeyPrefix) {
		t.Errorf("key = %q, should have %s prefix", created.Key, site.APIKeyPrefix)
	}
	if created.Role != "editor" {
		t.Errorf("role = %q, want editor", created.Role)
	}

	// Get
	rec = e.do(http.MethodGet, "/admin/v1/keys/"+created.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), `"key":`) {
		t.Error("plaintext key must not be returned after create")
	}

	// Update - block the key
	rec = e.do(http.MethodPatch, "/admin/v1/keys/"+created.ID, `{"blocked":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"blocked":true`) {
		t.Error("key should be blocked after update")
	}

	// List
	rec = e.do(http.MethodGet, "/admin/v1/keys", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	var list struct {
		Data       []site.APIKey `json:"data"`
		Pagination pagination    `json:"pagination"`
	}
	json.NewDecoder(rec.Body).Decode(&list)
	if list.Pagination.Total != 1 || len(list.Data) != 1 {
		t.Errorf("list = %+v", list)
	}

	// Delete
	rec = e.do(http.MethodDelete, "/admin/v1/keys/"+created.ID, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	rec = e.do(http.MethodGet, "/admin/v1/keys/"+created.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: status = %d, want 404", rec.Code)
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()
	if len(inv.ids) != 2 || inv.ids[0] != created.ID || inv.ids[1] != created.ID {
		t.Errorf("invalidated = %v, want update and delete of %s", inv.ids, created.ID)
	}
}

func TestAdminCreateKey_InvalidInput(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	rec := e.do(http.MethodPost, "/admin/v1/keys", `{"name":"x","role":"owner"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("role: status = %d, want 400", rec.Code)
	}
	rec = e.do(http.MethodPost, "/admin/v1/keys", `{"name":"x","expires_at":"tomorrow"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expiry: status = %d, want 400", rec.Code)
	}
}

func TestAdminDeleteOwnKey(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	rec := e.do(http.MethodDelete, "/admin/v1/keys/test-key", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestAdminMessages(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	for _, name := range []string{"Ann", "Bob"} {
		rec := e.do(http.MethodPost, "/api/messages", `{"name":"`+name+`","email":"x@example.com","body":"Hi"}`)
		if rec.Code != http.StatusCreated {
			t.Fatalf("create: status = %d; body = %s", rec.Code, rec.Body.String())
		}
	}

	rec := e.do(http.MethodGet, "/admin/v1/messages", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status = %d", rec.Code)
	}
	var list struct {
		Data       []site.Message `json:"data"`
		Pagination pagination     `json:"pagination"`
	}
	json.NewDecoder(rec.Body).Decode(&list)
	if list.Pagination.Total != 2 {
		t.Fatalf("total = %d, want 2", list.Pagination.Total)
	}
	id := list.Data[0].ID

	rec = e.do(http.MethodPatch, "/admin/v1/messages/"+id, `{"read":true}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"read":true`) {
		t.Fatalf("mark read: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	rec = e.do(http.MethodPatch, "/admin/v1/messages/"+id, `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty patch: status = %d, want 400", rec.Code)
	}

	rec = e.do(http.MethodGet, "/admin/v1/messages?read=false", "")
	json.NewDecoder(rec.Body).Decode(&list)
	if list.Pagination.Total != 1 {
		t.Errorf("unread total = %d, want 1", list.Pagination.Total)
	}

	rec = e.do(http.MethodGet, "/admin/v1/messages/"+id, "")
	if rec.Code != http.StatusOK {
		t.Errorf("get: status = %d", rec.Code)
	}
	rec = e.do(http.MethodDelete, "/admin/v1/messages/"+id, "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete: status = %d", rec.Code)
	}
	rec = e.do(http.MethodGet, "/admin/v1/messages/"+id, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: status = %d, want 404", rec.Code)
	}
}

func TestAdminCache(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	e.do(http.MethodGet, "/api/services", "")
	e.do(http.MethodGet, "/api/projects", "")
	e.do(http.MethodGet, "/api/projects?limit=5", "")

	rec := e.do(http.MethodGet, "/admin/v1/cache/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: status = %d", rec.Code)
	}
	var stats struct {
		Entries    int            `json:"entries"`
		Namespaces map[string]int `json:"namespaces"`
	}
	json.NewDecoder(rec.Body).Decode(&stats)
	if stats.Entries != 3 || stats.Namespaces["projects"] != 2 {
		t.Errorf("stats = %+v", stats)
	}

	rec = e.do(http.MethodDelete, "/admin/v1/cache/projects", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"removed":2`) {
		t.Fatalf("invalidate: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	if n := e.cache.Len(context.Background()); n != 1 {
		t.Errorf("entries after invalidate = %d, want 1", n)
	}

	rec = e.do(http.MethodDelete, "/admin/v1/cache", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("purge: status = %d", rec.Code)
	}
	if n := e.cache.Len(context.Background()); n != 0 {
		t.Errorf("entries after purge = %d, want 0", n)
	}
}

func TestAdminCacheInvalidate_BadNamespace(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	rec := e.do(http.MethodDelete, "/admin/v1/cache/a:b", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAdminRBAC_EditorDenied(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, func(d *Deps) { d.Auth = testutil.EditorAuth{} })

	for _, tc := range []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/admin/v1/keys", http.StatusForbidden},
		{http.MethodPost, "/admin/v1/keys", http.StatusForbidden},
		{http.MethodDelete, "/admin/v1/cache", http.StatusForbidden},
		{http.MethodGet, "/admin/v1/cache/stats", http.StatusForbidden},
		{http.MethodGet, "/admin/v1/messages", http.StatusOK},
	} {
		rec := e.do(tc.method, tc.path, "")
		if rec.Code != tc.want {
			t.Errorf("%s %s: status = %d, want %d", tc.method, tc.path, rec.Code, tc.want)
		}
	}

	rec := e.do(http.MethodPost, "/api/services", `{"title":"Roofing"}`)
	if rec.Code != http.StatusCreated {
		t.Errorf("editor content write: status = %d, want 201", rec.Code)
	}
}

func TestAdminRequiresAuth(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, func(d *Deps) { d.Auth = testutil.RejectAuth{} })

	rec := e.do(http.MethodGet, "/admin/v1/messages", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "authentication_error") {
		t.Errorf("body = %s", rec.Body.String())
	}
}
