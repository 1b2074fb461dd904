package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/zoobzio/clockz"

	"github.com/coldtrack/coldtrack/internal/domain"
)

// WorkspaceLister returns every tenant the background jobs visit
type WorkspaceLister interface {
	List(ctx context.Context) ([]*domain.Workspace, error)
}

// runEvery calls fn with the tick time every interval until ctx is cancelled. Ticks keep
// their cadence however long fn takes.
func runEvery(ctx context.Context, clock clockz.Clock, interval time.Duration, logger *slog.Logger, name string, fn func(context.Context, time.Time)) {
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	logger.Info(name+" worker started", slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			logger.Info(name + " worker stopped")
			return
		case at := <-ticker.C():
			fn(ctx, at)
		}
	}
}

// activeWorkspaces lists tenants and drops suspended ones
func activeWorkspaces(ctx context.Context, lister WorkspaceLister) ([]*domain.Workspace, error) {
	all, err := lister.List(ctx)
	if err != nil {
		return nil, err
	}
	active := make([]*domain.Workspace, 0, len(all))
	for _, ws := range all {
		if ws.Active() {
			active = append(active, ws)
		}
	}
	return active, nil
}

func orDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
