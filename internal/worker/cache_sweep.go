package worker

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is used when no interval is configured.
const DefaultSweepInterval = 60 * time.Second

// Sweeper removes expired entries and reports how many were dropped.
type Sweeper interface {
	Sweep(ctx context.Context) int
}

// CacheSweeper periodically drops expired response-cache entries so that
// keys which are never read again do not hold memory until restart.
type CacheSweeper struct {
	cache    Sweeper
	interval time.Duration
}

// NewCacheSweeper creates a CacheSweeper. A non-positive interval selects
// DefaultSweepInterval.
func NewCacheSweeper(cache Sweeper, interval time.Duration) *CacheSweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &CacheSweeper{cache: cache, interval: interval}
}

// Name returns the worker identifier.
func (w *CacheSweeper) Name() string { return "cache_sweeper" }

// Run sweeps on every tick until ctx is cancelled.
func (w *CacheSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := w.cache.Sweep(ctx); n > 0 {
				slog.LogAttrs(ctx, slog.LevelDebug, "cache sweep",
					slog.Int("removed", n),
				)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
