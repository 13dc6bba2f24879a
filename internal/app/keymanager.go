package app

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"

	site "github.com/eugener/mason/internal"
	"github.com/eugener/mason/internal/storage"
)

// KeyManager handles API key lifecycle (create, delete).
type KeyManager struct {
	store storage.APIKeyStore
}

// NewKeyManager returns a KeyManager backed by store.
func NewKeyManager(store storage.APIKeyStore) *KeyManager {
	return &KeyManager{store: store}
}

// CreateKeyOpts holds all fields for API key creation.
type CreateKeyOpts struct {
	Name      string
	Role      string
	ExpiresAt *time.Time
}

// CreateKey generates a new API key, stores its hash, and returns the
// plaintext (shown once) along with the persisted record.
func (km *KeyManager) CreateKey(ctx context.Context, opts CreateKeyOpts) (string, *site.APIKey, error) {
	role := opts.Role
	if role == "" {
		role = "editor"
	}
	if !site.ValidRole(role) {
		return "", nil, fmt.Errorf("%w: unknown role %q", site.ErrBadRequest, role)
	}

	plaintext, err := GenerateKey()
	if err != nil {
		return "", nil, err
	}

	key := &site.APIKey{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Name:      opts.Name,
		KeyHash:   site.HashKey(plaintext),
		KeyPrefix: DisplayPrefix(plaintext),
		Role:      role,
		ExpiresAt: opts.ExpiresAt,
		CreatedAt: time.Now().UTC(),
	}
	if err := km.store.CreateKey(ctx, key); err != nil {
		return "", nil, err
	}
	return plaintext, key, nil
}

// DeleteKey removes the API key with the given ID.
func (km *KeyManager) DeleteKey(ctx context.Context, id string) error {
	return km.store.DeleteKey(ctx, id)
}

// GenerateKey returns a random plaintext key with the mason prefix.
func GenerateKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return site.APIKeyPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// DisplayPrefix returns the leading characters of a key shown in listings.
func DisplayPrefix(raw string) string {
	if len(raw) > 12 {
		return raw[:12]
	}
	return raw
}
