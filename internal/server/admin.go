package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	site "github.com/eugener/mason/internal"
	"github.com/eugener/mason/internal/app"
)

// parseExpiresAt parses an optional RFC3339 expires_at string pointer.
// Writes 400 and returns false on invalid format.
func parseExpiresAt(w http.ResponseWriter, raw *string) (*time.Time, bool) {
	if raw == nil {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, *raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(http.StatusBadRequest, "invalid expires_at format"))
		return nil, false
	}
	return &t, true
}

// --- Keys ---

// keyCreateRequest is the payload for creating a new API key.
type keyCreateRequest struct {
	Name      string  `json:"name"`
	Role      string  `json:"role,omitempty"`
	ExpiresAt *string `json:"expires_at,omitempty"` // RFC3339
}

// keyCreateResponse includes the plaintext key (shown only once).
type keyCreateResponse struct {
	*site.APIKey
	PlaintextKey string `json:"key"`
}

func (s *server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	offset, limit := parsePagination(r.URL.Query())

	keys, err := s.deps.KeyStore.ListKeys(r.Context(), offset, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	total, _ := s.deps.KeyStore.CountKeys(r.Context())
	if keys == nil {
		keys = []*site.APIKey{}
	}
	writeJSON(w, http.StatusOK, listResponse{
		Data:       keys,
		Pagination: pagination{Offset: offset, Limit: limit, Total: total},
	})
}

func (s *server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req keyCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	// Reject unknown roles early to prevent storing invalid data in DB.
	if req.Role != "" && !site.ValidRole(req.Role) {
		writeJSON(w, http.StatusBadRequest, errorResponse(http.StatusBadRequest, "invalid role"))
		return
	}
	expiresAt, ok := parseExpiresAt(w, req.ExpiresAt)
	if !ok {
		return
	}

	plaintext, key, err := s.deps.Keys.CreateKey(r.Context(), app.CreateKeyOpts{
		Name:      req.Name,
		Role:      req.Role,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Location", "/admin/v1/keys/"+key.ID)
	writeJSON(w, http.StatusCreated, keyCreateResponse{
		APIKey:       key,
		PlaintextKey: plaintext,
	})
}

func (s *server) handleGetKey(w http.ResponseWriter, r *http.Request) {
	key, err := s.deps.KeyStore.GetKey(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

func (s *server) handleUpdateKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existing, err := s.deps.KeyStore.GetKey(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var update struct {
		Name      *string `json:"name,omitempty"`
		Role      *string `json:"role,omitempty"`
		ExpiresAt *string `json:"expires_at,omitempty"`
		Blocked   *bool   `json:"blocked,omitempty"`
	}
	if !decodeJSON(w, r, &update) {
		return
	}

	if update.Role != nil {
		if !site.ValidRole(*update.Role) {
			writeJSON(w, http.StatusBadRequest, errorResponse(http.StatusBadRequest, "invalid role"))
			return
		}
		existing.Role = *update.Role
	}
	if update.Name != nil {
		existing.Name = *update.Name
	}
	if update.ExpiresAt != nil {
		expiresAt, ok := parseExpiresAt(w, update.ExpiresAt)
		if !ok {
			return
		}
		existing.ExpiresAt = expiresAt
	}
	if update.Blocked != nil {
		existing.Blocked = *update.Blocked
	}

	if err := s.deps.KeyStore.UpdateKey(r.Context(), existing); err != nil {
		writeError(w, r, err)
		return
	}
	if s.deps.KeyInvalidator != nil {
		s.deps.KeyInvalidator.InvalidateByKeyID(id)
	}
	writeJSON(w, http.StatusOK, existing)
}

func (s *server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == site.IdentityFromContext(r.Context()).KeyID {
		writeJSON(w, http.StatusConflict, errorResponse(http.StatusConflict, "cannot delete the key used for this request"))
		return
	}
	if err := s.deps.Keys.DeleteKey(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	if s.deps.KeyInvalidator != nil {
		s.deps.KeyInvalidator.InvalidateByKeyID(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Cache ---

func (s *server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Cache.Stats(r.Context()))
}

func (s *server) handleCachePurge(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Cache.Purge(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (s *server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	ns := chi.URLParam(r, "namespace")
	n, err := s.deps.Cache.Invalidate(r.Context(), ns)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"namespace": ns, "removed": n})
}
