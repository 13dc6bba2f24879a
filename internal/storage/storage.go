// Package storage defines persistence interfaces for the content API.
package storage

import (
	"context"
	"time"

	site "github.com/eugener/mason/internal"
)

// DocumentStore persists JSON documents grouped by collection.
// Bodies are opaque to the store; callers own their shape.
type DocumentStore interface {
	InsertDocument(ctx context.Context, collection, id string, body []byte, at time.Time) error
	GetDocument(ctx context.Context, collection, id string) ([]byte, error)
	ListDocuments(ctx context.Context, collection string) ([][]byte, error)
	UpdateDocument(ctx context.Context, collection, id string, body []byte, at time.Time) error
	UpsertDocument(ctx context.Context, collection, id string, body []byte, at time.Time) error
	DeleteDocument(ctx context.Context, collection, id string) error
	CountDocuments(ctx context.Context, collection string) (int, error)
}

// APIKeyStore manages API key persistence.
type APIKeyStore interface {
	CreateKey(ctx context.Context, key *site.APIKey) error
	GetKey(ctx context.Context, id string) (*site.APIKey, error)
	GetKeyByHash(ctx context.Context, hash string) (*site.APIKey, error)
	ListKeys(ctx context.Context, offset, limit int) ([]*site.APIKey, error)
	CountKeys(ctx context.Context) (int, error)
	UpdateKey(ctx context.Context, key *site.APIKey) error
	DeleteKey(ctx context.Context, id string) error
	TouchKeyUsed(ctx context.Context, id string) error
}

// Store combines all storage interfaces.
type Store interface {
	DocumentStore
	APIKeyStore
	Ping(ctx context.Context) error
	Close() error
}
