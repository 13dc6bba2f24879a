package worker

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Runner manages a set of workers, cancelling all on first error.
type Runner struct {
	workers []Worker
}

// NewRunner creates a Runner with the given workers.
func NewRunner(workers ...Worker) *Runner {
	return &Runner{workers: workers}
}

// Run starts all workers in parallel and blocks until all of them finish.
// The first non-nil error cancels the rest and is returned.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range r.workers {
		name := workerName(w)
		slog.LogAttrs(ctx, slog.LevelInfo, "worker started", slog.String("worker", name))
		g.Go(func() error {
			err := w.Run(ctx)
			switch {
			case err == nil, errors.Is(err, context.Canceled):
				slog.LogAttrs(ctx, slog.LevelDebug, "worker stopped", slog.String("worker", name))
				return nil
			default:
				slog.LogAttrs(ctx, slog.LevelError, "worker failed",
					slog.String("worker", name),
					slog.String("error", err.Error()),
				)
				return err
			}
		})
	}
	return g.Wait()
}

func workerName(w Worker) string {
	if n, ok := w.(named); ok {
		return n.Name()
	}
	return "unknown"
}
