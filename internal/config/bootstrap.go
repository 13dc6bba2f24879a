// Package config provides configuration loading and database bootstrapping.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	site "github.com/eugener/mason/internal"
	"github.com/eugener/mason/internal/app"
	"github.com/eugener/mason/internal/storage"
)

// Bootstrap seeds the database from the config file. It is idempotent:
// keys and content that already exist are left alone.
func Bootstrap(ctx context.Context, cfg *Config, store storage.Store) error {
	seeds := cfg.Keys
	if cfg.Auth.AdminKey != "" {
		seeds = append([]KeyEntry{{Name: "admin", Key: cfg.Auth.AdminKey, Role: "admin"}}, seeds...)
	}
	for _, k := range seeds {
		if err := seedKey(ctx, store, k); err != nil {
			return err
		}
	}

	if a := cfg.Seed.About; a != nil {
		content := app.NewContent(store)
		_, err := content.GetAbout(ctx)
		switch {
		case err == nil:
		case errors.Is(err, site.ErrNotFound):
			if _, err := content.PutAbout(ctx, &site.About{
				Headline:          a.Headline,
				Body:              a.Body,
				YearsInBusiness:   a.YearsInBusiness,
				ProjectsCompleted: a.ProjectsCompleted,
				Values:            a.Values,
			}); err != nil {
				return fmt.Errorf("seed about: %w", err)
			}
			slog.Info("bootstrapped about page")
		default:
			return fmt.Errorf("seed about: %w", err)
		}
	}
	return nil
}

func seedKey(ctx context.Context, store storage.APIKeyStore, k KeyEntry) error {
	if k.Key == "" {
		return nil
	}
	hash := site.HashKey(k.Key)
	if existing, _ := store.GetKeyByHash(ctx, hash); existing != nil {
		return nil
	}

	role := k.Role
	if role == "" {
		role = "editor"
	}
	key := &site.APIKey{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Name:      k.Name,
		KeyHash:   hash,
		KeyPrefix: app.DisplayPrefix(k.Key),
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.CreateKey(ctx, key); err != nil {
		return fmt.Errorf("seed key %q: %w", k.Name, err)
	}
	slog.Info("bootstrapped api key", "name", k.Name, "prefix", key.KeyPrefix, "role", role)
	return nil
}
