// Package auth implements API key authentication for the mason admin surface.
// Keys are validated against the store and cached in a W-TinyLFU cache.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"

	site "github.com/eugener/mason/internal"
	"github.com/eugener/mason/internal/storage"
)

const (
	cacheTTL    = 30 * time.Second // revocations take effect within this window
	cacheMaxLen = 1_000
)

// APIKeyAuth authenticates requests using "msn_" bearer keys.
type APIKeyAuth struct {
	store       storage.APIKeyStore
	cache       *otter.Cache[string, *site.APIKey]
	keyIDToHash sync.Map // keyID -> hash for invalidation by key ID
	now         func() time.Time
}

// NewAPIKeyAuth returns a new APIKeyAuth backed by store.
func NewAPIKeyAuth(store storage.APIKeyStore) (*APIKeyAuth, error) {
	c, err := otter.New(&otter.Options[string, *site.APIKey]{
		MaximumSize:      cacheMaxLen,
		ExpiryCalculator: otter.ExpiryWriting[string, *site.APIKey](cacheTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create auth cache: %w", err)
	}
	return &APIKeyAuth{store: store, cache: c, now: time.Now}, nil
}

// Authenticate extracts a Bearer token from the Authorization header,
// validates it against the store, and returns the caller's Identity.
func (a *APIKeyAuth) Authenticate(ctx context.Context, r *http.Request) (*site.Identity, error) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" || !strings.HasPrefix(raw, site.APIKeyPrefix) {
		return nil, site.ErrUnauthorized
	}

	hash := site.HashKey(raw)

	if key, ok := a.cache.GetIfPresent(hash); ok {
		if err := a.usable(key); err != nil {
			a.cache.Invalidate(hash)
			return nil, err
		}
		return buildIdentity(key), nil
	}

	key, err := a.store.GetKeyByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, site.ErrNotFound) {
			return nil, site.ErrUnauthorized
		}
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(key.KeyHash), []byte(hash)) != 1 {
		return nil, site.ErrUnauthorized
	}
	if err := a.usable(key); err != nil {
		return nil, err
	}

	a.cache.Set(hash, key)
	a.keyIDToHash.Store(key.ID, hash)

	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		a.store.TouchKeyUsed(ctx, key.ID) //nolint:errcheck
	}()

	return buildIdentity(key), nil
}

func (a *APIKeyAuth) usable(key *site.APIKey) error {
	if key.Blocked {
		return site.ErrKeyBlocked
	}
	if key.ExpiresAt != nil && !a.now().Before(*key.ExpiresAt) {
		return site.ErrKeyExpired
	}
	return nil
}

// InvalidateByKeyID removes a cached API key by its key ID.
// Called after admin operations modify or delete a key.
func (a *APIKeyAuth) InvalidateByKeyID(keyID string) {
	if hash, ok := a.keyIDToHash.LoadAndDelete(keyID); ok {
		a.cache.Invalidate(hash.(string))
	}
}

func buildIdentity(key *site.APIKey) *site.Identity {
	role := key.Role
	if role == "" {
		role = "editor"
	}
	return &site.Identity{
		Subject: key.KeyPrefix,
		KeyID:   key.ID,
		Role:    role,
		Perms:   site.RolePermissions[role],
	}
}
