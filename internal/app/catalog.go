// Package app implements application-level services for the mason content API.
package app

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	site "github.com/eugener/mason/internal"
	"github.com/eugener/mason/internal/storage"
)

// DocPtr constrains T so that *T is a site.Document.
type DocPtr[T any] interface {
	*T
	site.Document
}

// Catalog is a typed view over one document collection.
// Documents are stored as JSON; listing filters and ordering read the raw
// bodies with gjson so only the page being returned is decoded.
type Catalog[T any, P DocPtr[T]] struct {
	store       storage.DocumentStore
	collection  string
	prepare     func(*T) error
	newestFirst bool
	now         func() time.Time
}

// CatalogOption configures a Catalog.
type CatalogOption func(*catalogOptions)

type catalogOptions struct {
	newestFirst bool
	now         func() time.Time
}

// WithNewestFirst orders listings by creation time, newest first,
// instead of by sort_order.
func WithNewestFirst() CatalogOption {
	return func(o *catalogOptions) { o.newestFirst = true }
}

// WithCatalogClock overrides the clock used for timestamps.
func WithCatalogClock(now func() time.Time) CatalogOption {
	return func(o *catalogOptions) { o.now = now }
}

// NewCatalog returns a Catalog for collection. prepare validates a document
// and fills derived fields before every write; it may be nil.
func NewCatalog[T any, P DocPtr[T]](store storage.DocumentStore, collection string, prepare func(*T) error, opts ...CatalogOption) *Catalog[T, P] {
	o := catalogOptions{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return &Catalog[T, P]{
		store:       store,
		collection:  collection,
		prepare:     prepare,
		newestFirst: o.newestFirst,
		now:         o.now,
	}
}

// Collection returns the collection name.
func (c *Catalog[T, P]) Collection() string { return c.collection }

// List returns the page of documents matching opts and the total match count.
func (c *Catalog[T, P]) List(ctx context.Context, opts site.ListOptions) ([]*T, int, error) {
	bodies, err := c.store.ListDocuments(ctx, c.collection)
	if err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", c.collection, err)
	}

	matched := make([][]byte, 0, len(bodies))
	for _, b := range bodies {
		if matches(b, opts.Filters) {
			matched = append(matched, b)
		}
	}
	slices.SortStableFunc(matched, c.compare)

	total := len(matched)
	start := min(max(opts.Offset, 0), total)
	end := total
	if opts.Limit > 0 {
		end = min(start+opts.Limit, total)
	}

	out := make([]*T, 0, end-start)
	for _, b := range matched[start:end] {
		v, err := c.decode(b)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, v)
	}
	return out, total, nil
}

// Get returns a document by ID, falling back to a slug match.
func (c *Catalog[T, P]) Get(ctx context.Context, idOrSlug string) (*T, error) {
	b, err := c.store.GetDocument(ctx, c.collection, idOrSlug)
	if err == nil {
		return c.decode(b)
	}
	if !errors.Is(err, site.ErrNotFound) {
		return nil, err
	}

	bodies, err := c.store.ListDocuments(ctx, c.collection)
	if err != nil {
		return nil, err
	}
	for _, b := range bodies {
		if slug := gjson.GetBytes(b, "slug"); slug.Exists() && slug.String() == idOrSlug {
			return c.decode(b)
		}
	}
	return nil, fmt.Errorf("%s %q: %w", c.collection, idOrSlug, site.ErrNotFound)
}

// Create assigns a new ID and timestamps, then stores v.
func (c *Catalog[T, P]) Create(ctx context.Context, v *T) (*T, error) {
	if err := c.runPrepare(v); err != nil {
		return nil, err
	}
	doc := P(v)
	doc.SetID(uuid.Must(uuid.NewV7()).String())
	doc.SetCreatedAt(time.Time{})
	doc.Stamp(c.now().UTC())

	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if err := c.store.InsertDocument(ctx, c.collection, doc.DocID(), body, c.now()); err != nil {
		return nil, err
	}
	return v, nil
}

// Update replaces the document with the given ID, keeping its creation time.
func (c *Catalog[T, P]) Update(ctx context.Context, id string, v *T) (*T, error) {
	created, err := c.createdAt(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.write(ctx, id, v, created, c.store.UpdateDocument)
}

// Put creates or replaces the document with the given ID.
func (c *Catalog[T, P]) Put(ctx context.Context, id string, v *T) (*T, error) {
	created, err := c.createdAt(ctx, id)
	if err != nil && !errors.Is(err, site.ErrNotFound) {
		return nil, err
	}
	return c.write(ctx, id, v, created, c.store.UpsertDocument)
}

// Patch loads a document, applies fn, and stores the result.
func (c *Catalog[T, P]) Patch(ctx context.Context, id string, fn func(*T) error) (*T, error) {
	b, err := c.store.GetDocument(ctx, c.collection, id)
	if err != nil {
		return nil, err
	}
	v, err := c.decode(b)
	if err != nil {
		return nil, err
	}
	createdAt := gjson.GetBytes(b, "created_at").Time()
	if err := fn(v); err != nil {
		return nil, err
	}
	return c.write(ctx, id, v, createdAt, c.store.UpdateDocument)
}

// Delete removes the document with the given ID.
func (c *Catalog[T, P]) Delete(ctx context.Context, id string) error {
	return c.store.DeleteDocument(ctx, c.collection, id)
}

// Count returns the number of documents in the collection.
func (c *Catalog[T, P]) Count(ctx context.Context) (int, error) {
	return c.store.CountDocuments(ctx, c.collection)
}

type writeFunc func(ctx context.Context, collection, id string, body []byte, at time.Time) error

func (c *Catalog[T, P]) write(ctx context.Context, id string, v *T, created time.Time, fn writeFunc) (*T, error) {
	if err := c.runPrepare(v); err != nil {
		return nil, err
	}
	now := c.now()
	doc := P(v)
	doc.SetID(id)
	doc.SetCreatedAt(created)
	doc.Stamp(now.UTC())

	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if err := fn(ctx, c.collection, id, body, now); err != nil {
		return nil, err
	}
	return v, nil
}

func (c *Catalog[T, P]) createdAt(ctx context.Context, id string) (time.Time, error) {
	b, err := c.store.GetDocument(ctx, c.collection, id)
	if err != nil {
		return time.Time{}, err
	}
	return gjson.GetBytes(b, "created_at").Time(), nil
}

func (c *Catalog[T, P]) runPrepare(v *T) error {
	if c.prepare == nil {
		return nil
	}
	return c.prepare(v)
}

func (c *Catalog[T, P]) decode(b []byte) (*T, error) {
	v := new(T)
	if err := json.Unmarshal(b, v); err != nil {
		return nil, fmt.Errorf("decode %s document: %w", c.collection, err)
	}
	return v, nil
}

// compare orders by sort_order then created_at (or created_at descending
// for newest-first catalogs), with the ID as a final tiebreaker.
func (c *Catalog[T, P]) compare(a, b []byte) int {
	ra := gjson.GetManyBytes(a, "sort_order", "created_at", "id")
	rb := gjson.GetManyBytes(b, "sort_order", "created_at", "id")
	if c.newestFirst {
		if n := rb[1].Time().Compare(ra[1].Time()); n != 0 {
			return n
		}
		return cmp.Compare(rb[2].String(), ra[2].String())
	}
	if n := cmp.Compare(ra[0].Int(), rb[0].Int()); n != 0 {
		return n
	}
	if n := ra[1].Time().Compare(rb[1].Time()); n != 0 {
		return n
	}
	return cmp.Compare(ra[2].String(), rb[2].String())
}

// matches reports whether every filter path in body equals its value.
func matches(body []byte, filters map[string]string) bool {
	for path, want := range filters {
		got := gjson.GetBytes(body, path)
		if !got.Exists() || got.String() != want {
			return false
		}
	}
	return true
}
