package testutil

import (
	"context"
	"net/http"

	site "github.com/eugener/mason/internal"
)

// FakeAuth always authenticates successfully with admin permissions.
type FakeAuth struct{}

// Authenticate returns a test identity with admin permissions.
func (FakeAuth) Authenticate(_ context.Context, _ *http.Request) (*site.Identity, error) {
	return &site.Identity{
		Subject: "test",
		KeyID:   "test-key",
		Role:    "admin",
		Perms:   site.RolePermissions["admin"],
	}, nil
}

// EditorAuth authenticates every request as an editor.
type EditorAuth struct{}

// Authenticate returns a test identity with editor permissions.
func (EditorAuth) Authenticate(_ context.Context, _ *http.Request) (*site.Identity, error) {
	return &site.Identity{
		Subject: "editor",
		KeyID:   "editor-key",
		Role:    "editor",
		Perms:   site.RolePermissions["editor"],
	}, nil
}

// RejectAuth always rejects authentication.
type RejectAuth struct{}

// Authenticate always returns ErrUnauthorized.
func (RejectAuth) Authenticate(context.Context, *http.Request) (*site.Identity, error) {
	return nil, site.ErrUnauthorized
}
