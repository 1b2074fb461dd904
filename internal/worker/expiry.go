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
	"github.com/coldtrack/coldtrack/internal/security/audit"
)

// ExpiringUsers finds and deactivates temporary users
type ExpiringUsers interface {
	ListExpiredTemporary(ctx context.Context, now time.Time) ([]*domain.User, error)
	SetDeactivated(ctx context.Context, id string, deactivated bool) error
}

// ExpiringVehicles finds and deactivates temporary vehicles
type ExpiringVehicles interface {
	ListExpiredTemporary(ctx context.Context, now time.Time) ([]*domain.Vehicle, error)
	SetDeactivated(ctx context.Context, workspaceID, id string, deactivated bool) error
}

// ExpiryWorker deactivates temporary users and vehicles once their expiry passes
type ExpiryWorker struct {
	users    ExpiringUsers
	vehicles ExpiringVehicles
	audit    *audit.Logger
	logger   *slog.Logger
	clock    clockz.Clock
	interval time.Duration
}

func NewExpiryWorker(users ExpiringUsers, vehicles ExpiringVehicles, auditLog *audit.Logger, logger *slog.Logger, clock clockz.Clock, interval time.Duration) *ExpiryWorker {
	if clock == nil {
		clock = clockz.RealClock
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &ExpiryWorker{
		users:    users,
		vehicles: vehicles,
		audit:    auditLog,
		logger:   orDefault(logger).With(slog.String("worker", "expiry")),
		clock:    clock,
		interval: interval,
	}
}

// Start runs the expiry sweep until ctx is cancelled
func (w *ExpiryWorker) Start(ctx context.Context) {
	runEvery(ctx, w.clock, w.interval, w.logger, "expiry", w.RunOnce)
}

// RunOnce deactivates everything expired at now
func (w *ExpiryWorker) RunOnce(ctx context.Context, now time.Time) {
	w.expireUsers(ctx, now)
	w.expireVehicles(ctx, now)
}

func (w *ExpiryWorker) expireUsers(ctx context.Context, now time.Time) {
	users, err := w.users.ListExpiredTemporary(ctx, now)
	if err != nil {
		w.logger.Error("failed to list expired users", slog.String("error", err.Error()))
		metrics.ObserveSchedulerRun("expiry", "error")
		return
	}
	for _, u := range users {
		if u.Deactivated || !compliance.ExpiryDue(u.ExpiryDate, now) {
			continue
		}
		if err := w.users.SetDeactivated(ctx, u.ID, true); err != nil {
			w.logger.Error("failed to deactivate expired user",
				slog.String("user_id", u.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		w.logger.Info("temporary user expired", slog.String("user_id", u.ID), slog.String("workspace_id", u.WorkspaceID))
		metrics.ObserveExpired("user")
		w.record(ctx, u.WorkspaceID, domain.ActionUserSuspended,
			fmt.Sprintf("Temporary user %s expired", u.Username),
			map[string]any{"userId": u.ID, "reason": "temporary_expiry"})
	}
}

func (w *ExpiryWorker) expireVehicles(ctx context.Context, now time.Time) {
	vehicles, err := w.vehicles.ListExpiredTemporary(ctx, now)
	if err != nil {
		w.logger.Error("failed to list expired vehicles", slog.String("error", err.Error()))
		metrics.ObserveSchedulerRun("expiry", "error")
		return
	}
	for _, v := range vehicles {
		if v.Deactivated || !compliance.ExpiryDue(v.ExpiryDate, now) {
			continue
		}
		if err := w.vehicles.SetDeactivated(ctx, v.WorkspaceID, v.ID, true); err != nil {
			w.logger.Error("failed to deactivate expired vehicle",
				slog.String("vehicle_id", v.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		w.logger.Info("temporary vehicle expired", slog.String("vehicle_id", v.ID), slog.String("workspace_id", v.WorkspaceID))
		metrics.ObserveExpired("vehicle")
		w.record(ctx, v.WorkspaceID, domain.ActionAssetSuspended,
			fmt.Sprintf("Temporary vehicle %s expired", v.Rego),
			map[string]any{"vehicleId": v.ID, "reason": "temporary_expiry"})
	}
}

func (w *ExpiryWorker) record(ctx context.Context, workspaceID string, action domain.AuditAction, description string, metadata map[string]any) {
	if w.audit == nil {
		return
	}
	w.audit.Record(ctx, workspaceID, "", action, description, metadata)
}
