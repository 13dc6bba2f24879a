// Package cache provides the in-memory response cache that fronts the
// public read endpoints: a TTL store, a read-handler decorator that replays
// captured responses, and namespace invalidation for write paths.
package cache

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrInvalidTTL is returned when an entry is stored with a non-positive TTL.
	ErrInvalidTTL = errors.New("cache: ttl must be positive")
	// ErrInvalidNamespace is returned for an empty namespace or one containing ':'.
	ErrInvalidNamespace = errors.New("cache: invalid namespace")
	// ErrInvalidation is returned when a namespace could not be cleared.
	// Callers must treat it as "stale data may be served", not as a failed write.
	ErrInvalidation = errors.New("cache: invalidation failed")
)

// Response is a captured read result. It is immutable once handed to the
// cache: handlers give up ownership of Body when they return it.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
	// Cached is true when the response was replayed from the store.
	Cached bool
}

// Handler is a read handler that produces a structured result instead of
// writing to an http.ResponseWriter, so the decorator can inspect and
// store it without patching the transport.
type Handler func(r *http.Request) (*Response, error)

// Backend is the storage contract the Service depends on. *Store[*Response]
// implements it.
type Backend interface {
	Get(key string) (*Response, bool)
	Generation(namespace string) uint64
	SetIfGeneration(key string, val *Response, ttl time.Duration, gen uint64) (bool, error)
	DeleteByPrefix(prefix string) int
	Sweep() int
	Purge() int
	Len() int
	Namespaces() map[string]int
}

// Key builds the cache key for a request target under namespace.
// The target keeps the raw query so distinct parameters never collide.
func Key(namespace string, r *http.Request) string {
	return namespace + ":" + r.URL.RequestURI()
}

// ValidateNamespace rejects namespaces that cannot act as a key prefix.
func ValidateNamespace(ns string) error {
	if ns == "" || strings.IndexByte(ns, ':') >= 0 {
		return ErrInvalidNamespace
	}
	return nil
}

func isSuccess(status int) bool {
	return status >= 200 && status <= 299
}
