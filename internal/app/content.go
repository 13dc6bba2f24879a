package app

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	site "github.com/eugener/mason/internal"
	"github.com/eugener/mason/internal/storage"
)

// Content groups the catalogs behind the public content API.
type Content struct {
	Services *Catalog[site.Service, *site.Service]
	Projects *Catalog[site.Project, *site.Project]
	Stories  *Catalog[site.Story, *site.Story]
	About    *Catalog[site.About, *site.About]
	Messages *Catalog[site.Message, *site.Message]
}

// NewContent returns catalogs for every collection backed by store.
func NewContent(store storage.DocumentStore, opts ...CatalogOption) *Content {
	return &Content{
		Services: NewCatalog[site.Service](store, site.CollectionServices, prepareService, opts...),
		Projects: NewCatalog[site.Project](store, site.CollectionProjects, prepareProject, opts...),
		Stories:  NewCatalog[site.Story](store, site.CollectionStories, prepareStory, opts...),
		About:    NewCatalog[site.About](store, site.CollectionAbout, prepareAbout, opts...),
		Messages: NewCatalog[site.Message](store, site.CollectionMessages, prepareMessage,
			append(opts, WithNewestFirst())...),
	}
}

// GetAbout returns the about page.
func (c *Content) GetAbout(ctx context.Context) (*site.About, error) {
	return c.About.Get(ctx, site.AboutID)
}

// PutAbout creates or replaces the about page.
func (c *Content) PutAbout(ctx context.Context, a *site.About) (*site.About, error) {
	return c.About.Put(ctx, site.AboutID, a)
}

// SetMessageRead marks a contact message read or unread.
func (c *Content) SetMessageRead(ctx context.Context, id string, read bool) (*site.Message, error) {
	return c.Messages.Patch(ctx, id, func(m *site.Message) error {
		m.Read = read
		return nil
	})
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", site.ErrBadRequest, fmt.Sprintf(format, args...))
}

func prepareService(s *site.Service) error {
	s.Title = strings.TrimSpace(s.Title)
	if s.Title == "" {
		return badRequest("title is required")
	}
	if s.Slug == "" {
		s.Slug = site.Slugify(s.Title)
	}
	return nil
}

func prepareProject(p *site.Project) error {
	p.Title = strings.TrimSpace(p.Title)
	if p.Title == "" {
		return badRequest("title is required")
	}
	if p.Slug == "" {
		p.Slug = site.Slugify(p.Title)
	}
	p.Category = strings.ToLower(strings.TrimSpace(p.Category))
	return nil
}

func prepareStory(s *site.Story) error {
	s.Title = strings.TrimSpace(s.Title)
	s.Client = strings.TrimSpace(s.Client)
	switch {
	case s.Title == "":
		return badRequest("title is required")
	case s.Client == "":
		return badRequest("client is required")
	}
	return nil
}

func prepareAbout(a *site.About) error {
	if strings.TrimSpace(a.Headline) == "" {
		return badRequest("headline is required")
	}
	return nil
}

func prepareMessage(m *site.Message) error {
	m.Name = strings.TrimSpace(m.Name)
	m.Email = strings.TrimSpace(m.Email)
	m.Body = strings.TrimSpace(m.Body)
	switch {
	case m.Name == "":
		return badRequest("name is required")
	case m.Body == "":
		return badRequest("body is required")
	}
	if _, err := mail.ParseAddress(m.Email); err != nil || !strings.Contains(m.Email, "@") {
		return badRequest("a valid email is required")
	}
	return nil
}
