package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	site "github.com/eugener/mason/internal"
)

// handleCreateMessage accepts a public contact-form submission.
func (s *server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	var m site.Message
	if !decodeJSON(w, r, &m) {
		return
	}
	m.Read = false
	created, err := s.deps.Content.Messages.Create(r.Context(), &m)
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.LogAttrs(r.Context(), slog.LevelInfo, "contact message received",
		slog.String("message_id", created.ID),
	)
	writeJSON(w, http.StatusCreated, map[string]string{"id": created.ID, "status": "received"})
}

func (s *server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, limit := parsePagination(q)
	opts := site.ListOptions{Offset: offset, Limit: limit}
	if v := q.Get("read"); v == "true" || v == "false" {
		opts.Filters = map[string]string{"read": v}
	}
	msgs, total, err := s.deps.Content.Messages.List(r.Context(), opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{
		Data:       msgs,
		Pagination: pagination{Offset: offset, Limit: limit, Total: total},
	})
}

func (s *server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	m, err := s.deps.Content.Messages.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *server) handleUpdateMessage(w http.ResponseWriter, r *http.Request) {
	var update struct {
		Read *bool `json:"read"`
	}
	if !decodeJSON(w, r, &update) {
		return
	}
	if update.Read == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(http.StatusBadRequest, "read is required"))
		return
	}
	m, err := s.deps.Content.SetMessageRead(r.Context(), chi.URLParam(r, "id"), *update.Read)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Content.Messages.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
