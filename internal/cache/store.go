package cache

import (
	"strings"
	"sync"
	"time"
)

// entry wraps a cached value with its expiration time.
type entry[V any] struct {
	val       V
	expiresAt time.Time
}

// expired reports whether the entry is dead at now. Get and Sweep both use
// this rule so they never disagree.
func (e *entry[V]) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// Store is a mutex-guarded TTL map with a namespace index. Keys are
// "<namespace>:<rest>"; keys without ':' are stored but never matched by
// DeleteByPrefix.
//
// Every DeleteByPrefix and Purge bumps a generation counter so a writer
// that observed the store before an invalidation can detect it (see
// SetIfGeneration).
type Store[V any] struct {
	mu      sync.Mutex
	entries map[string]*entry[V]
	index   map[string]map[string]struct{} // namespace -> keys
	gens    map[string]uint64
	epoch   uint64 // bumped by Purge
	now     func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*storeOptions)

type storeOptions struct {
	now func() time.Time
}

// WithClock overrides time.Now, for simulated time in tests.
func WithClock(now func() time.Time) StoreOption {
	return func(o *storeOptions) { o.now = now }
}

// NewStore returns an empty Store.
func NewStore[V any](opts ...StoreOption) *Store[V] {
	o := storeOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store[V]{
		entries: make(map[string]*entry[V]),
		index:   make(map[string]map[string]struct{}),
		gens:    make(map[string]uint64),
		now:     o.now,
	}
}

// namespaceOf returns the part of key before the first ':'.
func namespaceOf(key string) (string, bool) {
	i := strings.IndexByte(key, ':')
	if i < 0 {
		return "", false
	}
	return key[:i], true
}

// Get returns the value for key if present and not expired. A stale entry
// is evicted as a side effect.
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if e.expired(s.now()) {
		s.removeLocked(key)
		var zero V
		return zero, false
	}
	return e.val, true
}

// Set inserts or overwrites key with a fresh expiry.
func (s *Store[V]) Set(key string, val V, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	s.mu.Lock()
	s.setLocked(key, val, ttl)
	s.mu.Unlock()
	return nil
}

// Generation returns the invalidation generation for namespace. It changes
// whenever entries of that namespace are invalidated or the store is purged.
func (s *Store[V]) Generation(namespace string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gens[namespace] + s.epoch
}

// SetIfGeneration stores val only if the key's namespace has not been
// invalidated since gen was read. It reports whether the value was stored.
func (s *Store[V]) SetIfGeneration(key string, val V, ttl time.Duration, gen uint64) (bool, error) {
	if ttl <= 0 {
		return false, ErrInvalidTTL
	}
	ns, _ := namespaceOf(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gens[ns]+s.epoch != gen {
		return false, nil
	}
	s.setLocked(key, val, ttl)
	return true, nil
}

// DeleteByPrefix removes every key starting with prefix+":" and returns
// the number removed.
func (s *Store[V]) DeleteByPrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.IndexByte(prefix, ':') < 0 {
		s.gens[prefix]++
		keys := s.index[prefix]
		for k := range keys {
			delete(s.entries, k)
		}
		delete(s.index, prefix)
		return len(keys)
	}

	// Prefix reaches into the key body; only a scan can answer it.
	ns, _ := namespaceOf(prefix)
	s.gens[ns]++
	match := prefix + ":"
	n := 0
	for k := range s.index[ns] {
		if strings.HasPrefix(k, match) {
			s.removeLocked(k)
			n++
		}
	}
	return n
}

// Sweep removes all expired entries in a single pass and returns the count.
func (s *Store[V]) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for k, e := range s.entries {
		if e.expired(now) {
			s.removeLocked(k)
			n++
		}
	}
	return n
}

// Purge removes every entry and returns the count.
func (s *Store[V]) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.entries)
	s.entries = make(map[string]*entry[V])
	s.index = make(map[string]map[string]struct{})
	s.epoch++
	return n
}

// Len returns the number of stored entries, including expired ones not
// yet swept.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Namespaces returns the entry count per namespace.
func (s *Store[V]) Namespaces() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.index))
	for ns, keys := range s.index {
		out[ns] = len(keys)
	}
	return out
}

func (s *Store[V]) setLocked(key string, val V, ttl time.Duration) {
	s.entries[key] = &entry[V]{val: val, expiresAt: s.now().Add(ttl)}
	if ns, ok := namespaceOf(key); ok {
		keys := s.index[ns]
		if keys == nil {
			keys = make(map[string]struct{})
			s.index[ns] = keys
		}
		keys[key] = struct{}{}
	}
}

func (s *Store[V]) removeLocked(key string) {
	delete(s.entries, key)
	ns, ok := namespaceOf(key)
	if !ok {
		return
	}
	if keys := s.index[ns]; keys != nil {
		delete(keys, key)
		if len(keys) == 0 {
			delete(s.index, ns)
		}
	}
}
