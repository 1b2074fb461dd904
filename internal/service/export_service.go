package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/coldtrack/coldtrack/internal/compliance"
	"github.com/coldtrack/coldtrack/internal/domain"
	"github.com/coldtrack/coldtrack/internal/observability/tracing"
	"github.com/coldtrack/coldtrack/internal/reliability/circuitbreaker"
	"github.com/coldtrack/coldtrack/internal/reliability/retry"
	"github.com/coldtrack/coldtrack/internal/security/audit"
)

// SignOffStatus is the sign-off state of one sign-off day log in an export
type SignOffStatus struct {
	Date     string     `json:"date"`
	Signed   bool       `json:"signed"`
	SignedBy string     `json:"signedBy,omitempty"`
	SignedAt *time.Time `json:"signedAt,omitempty"`
	Pending  bool       `json:"pending"`
}

// VehiclePack is the per-vehicle section of a compliance pack
type VehiclePack struct {
	Vehicle  *domain.Vehicle  `json:"vehicle"`
	Logs     []*domain.Log    `json:"logs"`
	SignOffs []SignOffStatus  `json:"signOffs"`
	Stats    compliance.Stats `json:"stats"`
}

// ExportPack is everything a rendered compliance export contains
type ExportPack struct {
	Export      *domain.Export              `json:"export"`
	Workspace   string                      `json:"workspace"`
	Slug        string                      `json:"slug"`
	Timezone    string                      `json:"timezone"`
	GeneratedAt time.Time                   `json:"generatedAt"`
	Vehicles    []VehiclePack               `json:"vehicles"`
	Exceptions  []compliance.Exception      `json:"exceptions"`
	Counts      map[compliance.Severity]int `json:"counts"`
}

// ExportRenderer turns a pack into stored artifacts and returns their locations
type ExportRenderer interface {
	Render(ctx context.Context, pack *ExportPack) ([]string, error)
}

// JSONRenderer writes each pack to <dir>/<slug>/<export id>.json
type JSONRenderer struct {
	dir string
}

// NewJSONRenderer creates a renderer rooted at dir
func NewJSONRenderer(dir string) *JSONRenderer {
	return &JSONRenderer{dir: dir}
}

// Render writes the pack atomically through a temp file in the target directory
func (r *JSONRenderer) Render(ctx context.Context, pack *ExportPack) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := filepath.Join(r.dir, pack.Slug)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, pack.Export.ID+"-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create export file: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(pack); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("encode export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close export file: %w", err)
	}
	path := filepath.Join(dir, pack.Export.ID+".json")
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, fmt.Errorf("store export file: %w", err)
	}
	return []string{path}, nil
}

// ExportService generates compliance packs on demand and on schedule
type ExportService struct {
	exports    domain.ExportRepository
	logs       domain.LogRepository
	vehicles   domain.VehicleRepository
	users      domain.UserRepository
	workspaces *WorkspaceService
	renderer   ExportRenderer
	breaker    *circuitbreaker.CircuitBreaker
	retry      *retry.Config
	audit      *audit.Logger
	tracer     trace.Tracer
	logger     *slog.Logger
	now        func() time.Time
}

// NewExportService creates a new export service
func NewExportService(
	exports domain.ExportRepository,
	logs domain.LogRepository,
	vehicles domain.VehicleRepository,
	users domain.UserRepository,
	workspaces *WorkspaceService,
	renderer ExportRenderer,
	auditLog *audit.Logger,
	logger *slog.Logger,
) *ExportService {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := retry.DefaultConfig()
	cfg.MaxBackoff = 5 * time.Second
	cfg.RetryIf = func(err error) bool {
		return !errors.Is(err, circuitbreaker.ErrOpen) && !errors.Is(err, context.Canceled)
	}

	breaker := circuitbreaker.NewCircuitBreaker(5, 2, time.Minute)
	breaker.SetStateChangeCallback(func(from, to circuitbreaker.State) {
		logger.Warn("export renderer circuit changed",
			slog.String("from", from.String()),
			slog.String("to", to.String()),
		)
	})

	return &ExportService{
		exports:    exports,
		logs:       logs,
		vehicles:   vehicles,
		users:      users,
		workspaces: workspaces,
		renderer:   renderer,
		breaker:    breaker,
		retry:      cfg,
		audit:      auditLog,
		tracer:     tracing.Tracer("exports"),
		logger:     logger,
		now:        time.Now,
	}
}

// List returns the export history of the caller's workspace
func (s *ExportService) List(ctx context.Context, caller Caller) ([]*domain.Export, error) {
	return s.exports.ListByWorkspace(ctx, caller.WorkspaceID)
}

// ManualExportInput is the office's on-demand export request
type ManualExportInput struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Manual generates a pack for an arbitrary inclusive date range
func (s *ExportService) Manual(ctx context.Context, caller Caller, in ManualExportInput) (*domain.Export, error) {
	if _, err := compliance.ParseDate(in.From); err != nil {
		return nil, invalidInput("from must be a YYYY-MM-DD date")
	}
	if _, err := compliance.ParseDate(in.To); err != nil {
		return nil, invalidInput("to must be a YYYY-MM-DD date")
	}
	if in.From > in.To {
		return nil, invalidInput("from must not be after to")
	}
	settings, ws, err := s.workspaces.Settings(ctx, caller.WorkspaceID)
	if err != nil {
		return nil, err
	}
	exp := &domain.Export{
		ID:          newID(),
		WorkspaceID: ws.ID,
		Type:        domain.ExportManual,
		PeriodStart: in.From,
		PeriodEnd:   in.To,
		CreatedBy:   caller.UserID,
		Status:      domain.ExportPending,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.generate(ctx, ws, settings, exp); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, ws.ID, caller.UserID, domain.ActionExportGenerated,
		fmt.Sprintf("Manual export %s to %s: %s", in.From, in.To, exp.Status),
		map[string]any{"exportId": exp.ID, "status": exp.Status})
	return exp, nil
}

// Scheduled generates the pack a schedule decision asked for
func (s *ExportService) Scheduled(ctx context.Context, ws *domain.Workspace, plan compliance.ExportPlan) (*domain.Export, error) {
	settings := compliance.Resolve(ws, s.logger)
	exp := &domain.Export{
		ID:          newID(),
		WorkspaceID: ws.ID,
		Type:        plan.Frequency,
		PeriodStart: plan.PeriodStart,
		PeriodEnd:   plan.PeriodEnd,
		Status:      domain.ExportPending,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.generate(ctx, ws, settings, exp); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, ws.ID, "", domain.ActionExportGenerated,
		fmt.Sprintf("Scheduled %s export %s to %s: %s", plan.Frequency, plan.PeriodStart, plan.PeriodEnd, exp.Status),
		map[string]any{"exportId": exp.ID, "status": exp.Status})
	return exp, nil
}

// generate stores the pending record, then renders and settles it. A render failure settles
// the record as failed and is not returned.
func (s *ExportService) generate(ctx context.Context, ws *domain.Workspace, settings compliance.Settings, exp *domain.Export) error {
	ctx, span := s.tracer.Start(ctx, "export.generate", trace.WithAttributes(
		attribute.String("workspace.id", ws.ID),
		attribute.String("export.type", string(exp.Type)),
	))
	defer span.End()

	if err := s.exports.Create(ctx, exp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("create export record: %w", err)
	}

	pack, err := s.buildPack(ctx, ws, settings, exp)
	var artifacts []string
	if err == nil {
		artifacts, err = retry.Do(ctx, s.retry, s.logger, "render export", func(ctx context.Context) ([]string, error) {
			var out []string
			rerr := s.breaker.Execute(ctx, func(ctx context.Context) error {
				var err error
				out, err = s.renderer.Render(ctx, pack)
				return err
			})
			return out, rerr
		})
	}

	if err != nil {
		s.logger.Error("export failed",
			slog.String("workspace_id", ws.ID),
			slog.String("export_id", exp.ID),
			slog.String("error", err.Error()),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		exp.Status = domain.ExportFailed
		exp.Error = err.Error()
		if ferr := s.exports.Fail(ctx, ws.ID, exp.ID, exp.Error); ferr != nil {
			return fmt.Errorf("mark export failed: %w", ferr)
		}
		return nil
	}

	at := s.now().UTC()
	if err := s.exports.Complete(ctx, ws.ID, exp.ID, artifacts, at); err != nil {
		return fmt.Errorf("complete export: %w", err)
	}
	exp.Status = domain.ExportComplete
	exp.Artifacts = artifacts
	exp.CompletedAt = &at
	s.logger.Info("export complete",
		slog.String("workspace_id", ws.ID),
		slog.String("export_id", exp.ID),
		slog.Int("artifacts", len(artifacts)),
	)
	return nil
}

// buildPack gathers the period's logs per vehicle with sign-off status, stats and exceptions
func (s *ExportService) buildPack(ctx context.Context, ws *domain.Workspace, settings compliance.Settings, exp *domain.Export) (*ExportPack, error) {
	var (
		logs     []*domain.Log
		vehicles []*domain.Vehicle
		users    []*domain.User
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		logs, err = s.logs.ListByDateRange(gctx, ws.ID, exp.PeriodStart, exp.PeriodEnd)
		return err
	})
	g.Go(func() (err error) {
		vehicles, err = s.vehicles.ListByWorkspace(gctx, ws.ID)
		return err
	})
	g.Go(func() (err error) {
		users, err = s.users.ListByWorkspace(gctx, ws.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("gather export data: %w", err)
	}

	byVehicle := make(map[string][]*domain.Log)
	for _, l := range logs {
		byVehicle[l.VehicleID] = append(byVehicle[l.VehicleID], l)
	}

	now := s.now()
	pack := &ExportPack{
		Export:      exp,
		Workspace:   ws.Name,
		Slug:        ws.Slug,
		Timezone:    settings.Timezone,
		GeneratedAt: now.UTC(),
		Vehicles:    []VehiclePack{},
	}
	for _, v := range vehicles {
		vlogs := byVehicle[v.ID]
		if len(vlogs) == 0 {
			continue
		}
		sort.Slice(vlogs, func(i, j int) bool { return vlogs[i].Date < vlogs[j].Date })

		vp := VehiclePack{Vehicle: v, Logs: vlogs, SignOffs: []SignOffStatus{}}
		var readings []domain.Reading
		for _, l := range vlogs {
			readings = append(readings, l.Temps...)
			if !compliance.IsSignOffDay(l.Date, settings, false) {
				continue
			}
			vp.SignOffs = append(vp.SignOffs, SignOffStatus{
				Date:     l.Date,
				Signed:   l.Signed(),
				SignedBy: l.AdminSignedBy,
				SignedAt: l.AdminSignedAt,
				Pending:  compliance.RequiresAdminSignOff(l, settings, false),
			})
		}
		vp.Stats = compliance.Aggregate(readings)
		pack.Vehicles = append(pack.Vehicles, vp)
	}

	pack.Exceptions = compliance.Detect(logs, vehicles, users, settings, compliance.Today(now, settings.Location), now)
	if pack.Exceptions == nil {
		pack.Exceptions = []compliance.Exception{}
	}
	pack.Counts = compliance.CountBySeverity(pack.Exceptions)
	return pack, nil
}
