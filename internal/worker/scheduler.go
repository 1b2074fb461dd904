package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zoobzio/clockz"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/coldtrack/coldtrack/internal/compliance"
	"github.com/coldtrack/coldtrack/internal/domain"
	"github.com/coldtrack/coldtrack/internal/observability/metrics"
	"github.com/coldtrack/coldtrack/internal/observability/tracing"
	"github.com/coldtrack/coldtrack/internal/security/audit"
)

// ScheduledExporter generates an export pack for a due plan
type ScheduledExporter interface {
	Scheduled(ctx context.Context, ws *domain.Workspace, plan compliance.ExportPlan) (*domain.Export, error)
}

// LogPurger deletes logs dated before a cutoff
type LogPurger interface {
	DeleteOlderThan(ctx context.Context, workspaceID, cutoff string) (int64, error)
}

const (
	exportLeaseTTL    = 2 * time.Hour
	retentionLeaseTTL = 2 * time.Hour
	tenantParallelism = 4
)

// SchedulerWorker runs the hourly per-tenant jobs: scheduled exports and retention.
// Each job is keyed by tenant, local date and local hour so replicas and restarts within
// the same hour do not repeat it.
type SchedulerWorker struct {
	workspaces WorkspaceLister
	exports    ScheduledExporter
	logs       LogPurger
	leases     domain.LeaseRepository
	audit      *audit.Logger
	logger     *slog.Logger
	clock      clockz.Clock
	interval   time.Duration
	tracer     trace.Tracer
}

// NewSchedulerWorker creates a scheduler. A nil clock uses the real clock.
func NewSchedulerWorker(
	workspaces WorkspaceLister,
	exports ScheduledExporter,
	logs LogPurger,
	leases domain.LeaseRepository,
	auditLog *audit.Logger,
	logger *slog.Logger,
	clock clockz.Clock,
	interval time.Duration,
) *SchedulerWorker {
	if clock == nil {
		clock = clockz.RealClock
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &SchedulerWorker{
		workspaces: workspaces,
		exports:    exports,
		logs:       logs,
		leases:     leases,
		audit:      auditLog,
		logger:     orDefault(logger).With(slog.String("worker", "scheduler")),
		clock:      clock,
		interval:   interval,
		tracer:     tracing.Tracer("scheduler"),
	}
}

// Start runs the scheduler until ctx is cancelled
func (w *SchedulerWorker) Start(ctx context.Context) {
	runEvery(ctx, w.clock, w.interval, w.logger, "scheduler", w.RunOnce)
}

// RunOnce evaluates every active workspace for the hour containing now. A failing tenant
// never stops the others.
func (w *SchedulerWorker) RunOnce(ctx context.Context, now time.Time) {
	workspaces, err := activeWorkspaces(ctx, w.workspaces)
	if err != nil {
		w.logger.Error("failed to list workspaces", slog.String("error", err.Error()))
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(tenantParallelism)
	for _, ws := range workspaces {
		g.Go(func() error {
			ctx, span := w.tracer.Start(gctx, "scheduler.workspace", trace.WithAttributes(
				attribute.String("workspace.id", ws.ID),
			))
			defer span.End()
			settings := compliance.Resolve(ws, w.logger)
			w.runExport(ctx, ws, settings, now)
			w.runRetention(ctx, ws, settings, now)
			return nil
		})
	}
	_ = g.Wait()
}

func (w *SchedulerWorker) runExport(ctx context.Context, ws *domain.Workspace, settings compliance.Settings, now time.Time) {
	plan, due := compliance.ExportDecision(now, settings)
	if !due {
		return
	}
	logger := w.logger.With(slog.String("workspace_id", ws.ID), slog.String("job", "export"))

	key := fmt.Sprintf("export:%s:%s:%d", ws.ID, plan.LocalDate, plan.LocalHour)
	held, err := w.leases.Acquire(ctx, key, exportLeaseTTL)
	if err != nil {
		logger.Error("failed to acquire export lease", slog.String("error", err.Error()))
		metrics.ObserveSchedulerRun("export", "error")
		return
	}
	if !held {
		logger.Debug("export already handled this hour", slog.String("key", key))
		metrics.ObserveSchedulerRun("export", "skipped")
		return
	}

	exp, err := w.exports.Scheduled(ctx, ws, plan)
	if err != nil {
		// let the next tick in the same hour retry
		if rerr := w.leases.Release(ctx, key); rerr != nil {
			logger.Warn("failed to release export lease", slog.String("error", rerr.Error()))
		}
		logger.Error("scheduled export failed", slog.String("error", err.Error()))
		metrics.ObserveSchedulerRun("export", "error")
		return
	}
	logger.Info("scheduled export generated",
		slog.String("export_id", exp.ID),
		slog.String("frequency", string(plan.Frequency)),
		slog.String("period_start", plan.PeriodStart),
		slog.String("period_end", plan.PeriodEnd),
		slog.String("status", string(exp.Status)),
	)
	metrics.ObserveSchedulerRun("export", string(exp.Status))
}

func (w *SchedulerWorker) runRetention(ctx context.Context, ws *domain.Workspace, settings compliance.Settings, now time.Time) {
	plan, due := compliance.RetentionDecision(now, settings)
	if !due {
		return
	}
	logger := w.logger.With(slog.String("workspace_id", ws.ID), slog.String("job", "retention"))

	key := fmt.Sprintf("retention:%s:%s:%d", ws.ID, plan.LocalDate, plan.LocalHour)
	held, err := w.leases.Acquire(ctx, key, retentionLeaseTTL)
	if err != nil {
		logger.Error("failed to acquire retention lease", slog.String("error", err.Error()))
		metrics.ObserveSchedulerRun("retention", "error")
		return
	}
	if !held {
		metrics.ObserveSchedulerRun("retention", "skipped")
		return
	}

	deleted, err := w.logs.DeleteOlderThan(ctx, ws.ID, plan.Cutoff)
	if err != nil {
		if rerr := w.leases.Release(ctx, key); rerr != nil {
			logger.Warn("failed to release retention lease", slog.String("error", rerr.Error()))
		}
		logger.Error("retention purge failed", slog.String("error", err.Error()))
		metrics.ObserveSchedulerRun("retention", "error")
		return
	}
	metrics.ObserveRetention(deleted)
	metrics.ObserveSchedulerRun("retention", "ok")
	logger.Info("retention purge complete", slog.String("cutoff", plan.Cutoff), slog.Int64("deleted", deleted))
	if deleted > 0 && w.audit != nil {
		w.audit.Record(ctx, ws.ID, "", domain.ActionRetentionPurged,
			fmt.Sprintf("Retention removed %d logs dated before %s", deleted, plan.Cutoff),
			map[string]any{"cutoff": plan.Cutoff, "deleted": deleted, "retentionDays": settings.RetentionDays})
	}
}
