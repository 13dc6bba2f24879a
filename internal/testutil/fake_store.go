package testutil

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	site "github.com/eugener/mason/internal"
)

type fakeDoc struct {
	body    []byte
	created time.Time
	seq     int
}

// FakeStore is an in-memory implementation of storage.Store for testing.
type FakeStore struct {
	mu    sync.RWMutex
	docs  map[string]map[string]*fakeDoc // collection -> id -> doc
	keys  map[string]*site.APIKey        // id -> key
	seq   int
	reads map[string]int // collection -> ListDocuments/GetDocument calls

	// PingErr is returned by Ping when set.
	PingErr error
}

// NewFakeStore returns a FakeStore with empty collections.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		docs:  make(map[string]map[string]*fakeDoc),
		keys:  make(map[string]*site.APIKey),
		reads: make(map[string]int),
	}
}

// Reads returns how many times documents of collection were read.
func (s *FakeStore) Reads(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reads[collection]
}

// --- DocumentStore ---

// InsertDocument stores a new document.
func (s *FakeStore) InsertDocument(_ context.Context, collection, id string, body []byte, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[collection][id]; ok {
		return fmt.Errorf("%s: %w", collection, site.ErrConflict)
	}
	s.putLocked(collection, id, body, at)
	return nil
}

// GetDocument returns a stored document body.
func (s *FakeStore) GetDocument(_ context.Context, collection, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads[collection]++
	d, ok := s.docs[collection][id]
	if !ok {
		return nil, site.ErrNotFound
	}
	return slices.Clone(d.body), nil
}

// ListDocuments returns all bodies in a collection in insertion order.
func (s *FakeStore) ListDocuments(_ context.Context, collection string) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads[collection]++
	docs := make([]*fakeDoc, 0, len(s.docs[collection]))
	for _, d := range s.docs[collection] {
		docs = append(docs, d)
	}
	slices.SortFunc(docs, func(a, b *fakeDoc) int { return a.seq - b.seq })
	out := make([][]byte, len(docs))
	for i, d := range docs {
		out[i] = slices.Clone(d.body)
	}
	return out, nil
}

// UpdateDocument replaces an existing document.
func (s *FakeStore) UpdateDocument(_ context.Context, collection, id string, body []byte, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[collection][id]
	if !ok {
		return fmt.Errorf("%s: %w", collection, site.ErrNotFound)
	}
	d.body = slices.Clone(body)
	return nil
}

// UpsertDocument inserts or replaces a document.
func (s *FakeStore) UpsertDocument(_ context.Context, collection, id string, body []byte, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.docs[collection][id]; ok {
		d.body = slices.Clone(body)
		return nil
	}
	s.putLocked(collection, id, body, at)
	return nil
}

// DeleteDocument removes a document.
func (s *FakeStore) DeleteDocument(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[collection][id]; !ok {
		return fmt.Errorf("%s: %w", collection, site.ErrNotFound)
	}
	delete(s.docs[collection], id)
	return nil
}

// CountDocuments returns the number of documents in a collection.
func (s *FakeStore) CountDocuments(_ context.Context, collection string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs[collection]), nil
}

func (s *FakeStore) putLocked(collection, id string, body []byte, at time.Time) {
	if s.docs[collection] == nil {
		s.docs[collection] = make(map[string]*fakeDoc)
	}
	s.seq++
	s.docs[collection][id] = &fakeDoc{body: slices.Clone(body), created: at, seq: s.seq}
}

// --- APIKeyStore ---

// CreateKey stores an API key.
func (s *FakeStore) CreateKey(_ context.Context, key *site.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.KeyHash == key.KeyHash {
			return fmt.Errorf("api key: %w", site.ErrConflict)
		}
	}
	s.keys[key.ID] = key
	return nil
}

// GetKey returns an API key by ID.
func (s *FakeStore) GetKey(_ context.Context, id string) (*site.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[id]
	if !ok {
		return nil, site.ErrNotFound
	}
	return k, nil
}

// GetKeyByHash returns an API key by its hash.
func (s *FakeStore) GetKeyByHash(_ context.Context, hash string) (*site.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if k.KeyHash == hash {
			return k, nil
		}
	}
	return nil, site.ErrNotFound
}

// ListKeys returns keys ordered by ID.
func (s *FakeStore) ListKeys(_ context.Context, offset, limit int) ([]*site.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*site.APIKey, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, k)
	}
	slices.SortFunc(out, func(a, b *site.APIKey) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	start := min(offset, len(out))
	end := min(start+limit, len(out))
	return out[start:end], nil
}

// CountKeys returns the number of stored keys.
func (s *FakeStore) CountKeys(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys), nil
}

// UpdateKey replaces a stored key.
func (s *FakeStore) UpdateKey(_ context.Context, key *site.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key.ID]; !ok {
		return fmt.Errorf("api key: %w", site.ErrNotFound)
	}
	s.keys[key.ID] = key
	return nil
}

// DeleteKey removes a key.
func (s *FakeStore) DeleteKey(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[id]; !ok {
		return fmt.Errorf("api key: %w", site.ErrNotFound)
	}
	delete(s.keys, id)
	return nil
}

// TouchKeyUsed records a key use.
func (s *FakeStore) TouchKeyUsed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[id]; ok {
		now := time.Now()
		k.LastUsedAt = &now
	}
	return nil
}

// --- Lifecycle ---

// Ping returns PingErr.
func (s *FakeStore) Ping(context.Context) error { return s.PingErr }

// Close is a no-op.
func (s *FakeStore) Close() error { return nil }
