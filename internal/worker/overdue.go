package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zoobzio/clockz"

	"github.com/coldtrack/coldtrack/internal/compliance"
	"github.com/coldtrack/coldtrack/internal/domain"
	"github.com/coldtrack/coldtrack/internal/observability/metrics"
)

// BoardSource computes the live board of a workspace
type BoardSource interface {
	Board(ctx context.Context, workspaceID string) (*compliance.Board, error)
}

// Notifier stores a notification unless key fired within window
type Notifier interface {
	NotifyOnce(ctx context.Context, key string, window time.Duration, n *domain.Notification) (bool, error)
}

const overdueNotifyWindow = 6 * time.Hour

// OverdueWorker raises an overdue_vehicle notification for every vehicle on a live board
// that has gone quiet past the workspace threshold
type OverdueWorker struct {
	workspaces WorkspaceLister
	boards     BoardSource
	notifier   Notifier
	logger     *slog.Logger
	clock      clockz.Clock
	interval   time.Duration
}

func NewOverdueWorker(workspaces WorkspaceLister, boards BoardSource, notifier Notifier, logger *slog.Logger, clock clockz.Clock, interval time.Duration) *OverdueWorker {
	if clock == nil {
		clock = clockz.RealClock
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &OverdueWorker{
		workspaces: workspaces,
		boards:     boards,
		notifier:   notifier,
		logger:     orDefault(logger).With(slog.String("worker", "overdue")),
		clock:      clock,
		interval:   interval,
	}
}

// Start runs the overdue sweep until ctx is cancelled
func (w *OverdueWorker) Start(ctx context.Context) {
	runEvery(ctx, w.clock, w.interval, w.logger, "overdue", w.RunOnce)
}

// RunOnce checks every active workspace
func (w *OverdueWorker) RunOnce(ctx context.Context, _ time.Time) {
	w.sweep(ctx)
}

// sweep returns the number of notifications created
func (w *OverdueWorker) sweep(ctx context.Context) int {
	workspaces, err := activeWorkspaces(ctx, w.workspaces)
	if err != nil {
		w.logger.Error("failed to list workspaces", slog.String("error", err.Error()))
		return 0
	}

	var created, active, idle, overdue int
	for _, ws := range workspaces {
		board, err := w.boards.Board(ctx, ws.ID)
		if err != nil {
			w.logger.Error("failed to compute live board",
				slog.String("workspace_id", ws.ID),
				slog.String("error", err.Error()),
			)
			metrics.ObserveSchedulerRun("overdue", "error")
			continue
		}
		active += board.Active
		idle += board.Idle
		overdue += board.Overdue
		created += w.notifyOverdue(ctx, ws, board)
		metrics.ObserveSchedulerRun("overdue", "ok")
	}
	metrics.SetLiveBoard(active, idle, overdue)
	if created > 0 {
		w.logger.Info("overdue notifications created", slog.Int("count", created))
	}
	return created
}

func (w *OverdueWorker) notifyOverdue(ctx context.Context, ws *domain.Workspace, board *compliance.Board) int {
	created := 0
	for _, e := range board.Vehicles {
		if e.Status != compliance.EntryOverdue {
			continue
		}
		key := fmt.Sprintf("notify:overdue:%s:%s", ws.ID, e.VehicleID)
		n := &domain.Notification{
			WorkspaceID: ws.ID,
			Type:        domain.NotifyOverdueVehicle,
			Title:       fmt.Sprintf("%s is overdue", e.Rego),
			Body:        fmt.Sprintf("No temperature recorded for %s (%s) in %d minutes", e.Rego, e.DriverName, e.MinutesAgo),
			VehicleID:   e.VehicleID,
			DriverID:    e.DriverID,
		}
		ok, err := w.notifier.NotifyOnce(ctx, key, overdueNotifyWindow, n)
		if err != nil {
			w.logger.Error("failed to notify overdue vehicle",
				slog.String("workspace_id", ws.ID),
				slog.String("vehicle_id", e.VehicleID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if ok {
			created++
		}
	}
	return created
}
