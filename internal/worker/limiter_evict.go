package worker

import (
	"context"
	"log/slog"
	"time"
)

const (
	limiterEvictInterval = 5 * time.Minute
	limiterIdleTTL       = 10 * time.Minute
)

// StaleEvicter drops per-client state not used since a cutoff.
type StaleEvicter interface {
	EvictStale(cutoff time.Time) int
}

// LimiterEvicter periodically forgets rate-limit buckets for idle clients.
type LimiterEvicter struct {
	registry StaleEvicter
	interval time.Duration
	idle     time.Duration
}

// NewLimiterEvicter creates a LimiterEvicter for registry.
func NewLimiterEvicter(registry StaleEvicter) *LimiterEvicter {
	return &LimiterEvicter{registry: registry, interval: limiterEvictInterval, idle: limiterIdleTTL}
}

// Name returns the worker identifier.
func (w *LimiterEvicter) Name() string { return "limiter_evicter" }

// Run evicts idle limiters on every tick until ctx is cancelled.
func (w *LimiterEvicter) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			if n := w.registry.EvictStale(now.Add(-w.idle)); n > 0 {
				slog.LogAttrs(ctx, slog.LevelDebug, "evicted idle rate limiters",
					slog.Int("count", n),
				)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
