package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	site "github.com/eugener/mason/internal"
	"github.com/eugener/mason/internal/app"
	"github.com/eugener/mason/internal/cache"
)

// filterFunc maps query parameters to catalog filters.
type filterFunc func(q url.Values) (map[string]string, error)

func projectFilters(q url.Values) (map[string]string, error) {
	f := make(map[string]string, 2)
	if c := strings.TrimSpace(q.Get("category")); c != "" {
		f["category"] = strings.ToLower(c)
	}
	if v := q.Get("featured"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%w: featured must be a boolean", site.ErrBadRequest)
		}
		f["featured"] = strconv.FormatBool(b)
	}
	return f, nil
}

func parsePagination(q url.Values) (offset, limit int) {
	offset, _ = strconv.Atoi(q.Get("offset"))
	limit, _ = strconv.Atoi(q.Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return
}

func listHandler[T any, P app.DocPtr[T]](c *app.Catalog[T, P], filters filterFunc) cache.Handler {
	return func(r *http.Request) (*cache.Response, error) {
		q := r.URL.Query()
		offset, limit := parsePagination(q)
		opts := site.ListOptions{Offset: offset, Limit: limit}
		if filters != nil {
			f, err := filters(q)
			if err != nil {
				return nil, err
			}
			opts.Filters = f
		}
		items, total, err := c.List(r.Context(), opts)
		if err != nil {
			return nil, err
		}
		return jsonResponse(listResponse{
			Data:       items,
			Pagination: pagination{Offset: offset, Limit: limit, Total: total},
		})
	}
}

func getHandler[T any, P app.DocPtr[T]](c *app.Catalog[T, P]) cache.Handler {
	return func(r *http.Request) (*cache.Response, error) {
		v, err := c.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			return nil, err
		}
		return jsonResponse(v)
	}
}

func (s *server) aboutHandler(r *http.Request) (*cache.Response, error) {
	a, err := s.deps.Content.GetAbout(r.Context())
	if err != nil {
		return nil, err
	}
	return jsonResponse(a)
}

// mountWrites registers create, replace and delete routes for a catalog.
// Every successful write invalidates the catalog's cache namespace.
func mountWrites[T any, P app.DocPtr[T]](s *server, r chi.Router, path string, c *app.Catalog[T, P]) {
	ns := c.Collection()

	r.Post(path, func(w http.ResponseWriter, r *http.Request) {
		v := new(T)
		if !decodeJSON(w, r, v) {
			return
		}
		created, err := c.Create(r.Context(), v)
		if err != nil {
			writeError(w, r, err)
			return
		}
		s.invalidate(w, r, ns)
		w.Header().Set("Location", "/api/"+ns+"/"+P(created).DocID())
		writeJSON(w, http.StatusCreated, created)
	})

	r.Put(path+"/{id}", func(w http.ResponseWriter, r *http.Request) {
		v := new(T)
		if !decodeJSON(w, r, v) {
			return
		}
		updated, err := c.Update(r.Context(), chi.URLParam(r, "id"), v)
		if err != nil {
			writeError(w, r, err)
			return
		}
		s.invalidate(w, r, ns)
		writeJSON(w, http.StatusOK, updated)
	})

	r.Delete(path+"/{id}", func(w http.ResponseWriter, r *http.Request) {
		if err := c.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, r, err)
			return
		}
		s.invalidate(w, r, ns)
		w.WriteHeader(http.StatusNoContent)
	})
}

func (s *server) handlePutAbout(w http.ResponseWriter, r *http.Request) {
	var a site.About
	if !decodeJSON(w, r, &a) {
		return
	}
	saved, err := s.deps.Content.PutAbout(r.Context(), &a)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidate(w, r, site.CollectionAbout)
	writeJSON(w, http.StatusOK, saved)
}
