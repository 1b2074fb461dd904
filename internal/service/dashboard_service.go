package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coldtrack/coldtrack/internal/compliance"
	"github.com/coldtrack/coldtrack/internal/domain"
	"github.com/coldtrack/coldtrack/internal/featureflags"
	"github.com/coldtrack/coldtrack/internal/observability/metrics"
)

const (
	defaultExceptionDays = 7
	defaultActivityLimit = 50
	maxActivityLimit     = 200
)

// DashboardService serves the office views: live board, exceptions, weekly sheets and activity
type DashboardService struct {
	logs       domain.LogRepository
	vehicles   domain.VehicleRepository
	users      domain.UserRepository
	workspaces *WorkspaceService
	auditRepo  domain.AuditRepository
	board      BoardCache
	boardTTL   time.Duration
	flags      featureflags.Lookup
	logger     *slog.Logger
	now        func() time.Time
}

// NewDashboardService creates a dashboard service. board may be nil to always recompute.
func NewDashboardService(
	logs domain.LogRepository,
	vehicles domain.VehicleRepository,
	users domain.UserRepository,
	workspaces *WorkspaceService,
	auditRepo domain.AuditRepository,
	board BoardCache,
	boardTTL time.Duration,
	flags featureflags.Lookup,
	logger *slog.Logger,
) *DashboardService {
	if logger == nil {
		logger = slog.Default()
	}
	if flags == nil {
		flags = featureflags.Enabled
	}
	if boardTTL <= 0 {
		boardTTL = 10 * time.Second
	}
	return &DashboardService{
		logs:       logs,
		vehicles:   vehicles,
		users:      users,
		workspaces: workspaces,
		auditRepo:  auditRepo,
		board:      board,
		boardTTL:   boardTTL,
		flags:      flags,
		logger:     logger,
		now:        time.Now,
	}
}

// snapshot is one consistent-enough read of a workspace for a single request
type snapshot struct {
	logs     []*domain.Log
	vehicles []*domain.Vehicle
	users    []*domain.User
}

func (s *DashboardService) snapshot(ctx context.Context, workspaceID string, fetchLogs func(context.Context) ([]*domain.Log, error)) (*snapshot, error) {
	var snap snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logs, err := fetchLogs(gctx)
		snap.logs = logs
		return err
	})
	g.Go(func() error {
		vehicles, err := s.vehicles.ListByWorkspace(gctx, workspaceID)
		snap.vehicles = vehicles
		return err
	})
	g.Go(func() error {
		users, err := s.users.ListByWorkspace(gctx, workspaceID)
		snap.users = users
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("dashboard snapshot: %w", err)
	}
	return &snap, nil
}

// Board returns the live board of a workspace, shared through the cache for a few seconds
func (s *DashboardService) Board(ctx context.Context, workspaceID string) (*compliance.Board, error) {
	if s.board != nil {
		cached, ok, err := s.board.Get(ctx, workspaceID)
		if err != nil {
			s.logger.Warn("live board cache unavailable",
				slog.String("workspace_id", workspaceID),
				slog.String("error", err.Error()),
			)
		} else if ok {
			return cached, nil
		}
	}

	settings, _, err := s.workspaces.Settings(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	since := now.Add(-time.Duration(compliance.WindowMinutes(settings)) * time.Minute)
	snap, err := s.snapshot(ctx, workspaceID, func(ctx context.Context) ([]*domain.Log, error) {
		return s.logs.ListRecent(ctx, workspaceID, since)
	})
	if err != nil {
		return nil, err
	}

	board := compliance.BuildBoard(snap.logs, snap.vehicles, snap.users, settings, now)
	metrics.SetLiveBoard(board.Active, board.Idle, board.Overdue)
	if s.board != nil {
		if err := s.board.Set(ctx, workspaceID, &board, s.boardTTL); err != nil {
			s.logger.Warn("failed to cache live board",
				slog.String("workspace_id", workspaceID),
				slog.String("error", err.Error()),
			)
		}
	}
	return &board, nil
}

// Live returns the caller's live board
func (s *DashboardService) Live(ctx context.Context, caller Caller) (*compliance.Board, error) {
	return s.Board(ctx, caller.WorkspaceID)
}

// ExceptionReport lists the exceptions of a date range with per-severity counts
type ExceptionReport struct {
	From       string                      `json:"from"`
	To         string                      `json:"to"`
	Exceptions []compliance.Exception      `json:"exceptions"`
	Counts     map[compliance.Severity]int `json:"counts"`
}

// Exceptions detects rule violations for from..to inclusive. Empty bounds default to the last
// seven local days.
func (s *DashboardService) Exceptions(ctx context.Context, caller Caller, from, to string) (*ExceptionReport, error) {
	settings, _, err := s.workspaces.Settings(ctx, caller.WorkspaceID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	today := compliance.Today(now, settings.Location)
	if to == "" {
		to = today
	}
	if from == "" {
		if from, err = compliance.AddDays(to, -(defaultExceptionDays - 1)); err != nil {
			return nil, invalidInput("to must be a YYYY-MM-DD date")
		}
	}
	if _, err := compliance.ParseDate(from); err != nil {
		return nil, invalidInput("from must be a YYYY-MM-DD date")
	}
	if _, err := compliance.ParseDate(to); err != nil {
		return nil, invalidInput("to must be a YYYY-MM-DD date")
	}
	if from > to {
		return nil, invalidInput("from must not be after to")
	}

	snap, err := s.snapshot(ctx, caller.WorkspaceID, func(ctx context.Context) ([]*domain.Log, error) {
		return s.logs.ListByDateRange(ctx, caller.WorkspaceID, from, to)
	})
	if err != nil {
		return nil, err
	}

	list := compliance.Detect(snap.logs, snap.vehicles, snap.users, settings, today, now)
	byType := make(map[string]int)
	for _, e := range list {
		byType[string(e.Type)]++
	}
	metrics.ObserveExceptions(byType)
	if list == nil {
		list = []compliance.Exception{}
	}
	return &ExceptionReport{From: from, To: to, Exceptions: list, Counts: compliance.CountBySeverity(list)}, nil
}

// SheetDay is one day row of a weekly sheet
type SheetDay struct {
	Date  string           `json:"date"`
	Log   *domain.Log      `json:"log"`
	Stats compliance.Stats `json:"stats"`
}

// WeeklySheet is the compliance week of one vehicle. The week runs from Monday to the
// sign-off day; later days are listed but left out of the week stats.
type WeeklySheet struct {
	Vehicle         *domain.Vehicle  `json:"vehicle"`
	Monday          string           `json:"monday"`
	SignOffDate     string           `json:"signOffDate"`
	Days            []SheetDay       `json:"days"`
	SignOffLog      *domain.Log      `json:"signOffLog"`
	RequiresSignOff bool             `json:"requiresSignOff"`
	Signed          bool             `json:"signed"`
	Stats           compliance.Stats `json:"stats"`
}

// WeeklySheet assembles the week containing monday for one vehicle
func (s *DashboardService) WeeklySheet(ctx context.Context, caller Caller, vehicleID, monday string) (*WeeklySheet, error) {
	settings, _, err := s.workspaces.Settings(ctx, caller.WorkspaceID)
	if err != nil {
		return nil, err
	}
	if monday == "" {
		monday = compliance.Today(s.now(), settings.Location)
	}
	dates, err := compliance.WeekDates(monday)
	if err != nil {
		return nil, invalidInput("monday must be a YYYY-MM-DD date")
	}
	signDate, err := compliance.SignOffDate(dates[0], settings.SignOffWeekday)
	if err != nil {
		return nil, err
	}

	vehicle, err := s.vehicles.GetByID(ctx, caller.WorkspaceID, vehicleID)
	if err != nil {
		return nil, err
	}
	logs, err := s.logs.ListByDateRange(ctx, caller.WorkspaceID, dates[0], dates[6])
	if err != nil {
		return nil, err
	}
	byDate := make(map[string]*domain.Log, 7)
	for _, l := range logs {
		if l.VehicleID == vehicleID {
			byDate[l.Date] = l
		}
	}

	sheet := &WeeklySheet{Vehicle: vehicle, Monday: dates[0], SignOffDate: signDate, Days: make([]SheetDay, 0, 7)}
	var week []domain.Reading
	for _, d := range dates {
		day := SheetDay{Date: d, Log: byDate[d]}
		if day.Log != nil {
			day.Stats = compliance.Aggregate(day.Log.Temps)
			if d <= signDate {
				week = append(week, day.Log.Temps...)
			}
		}
		sheet.Days = append(sheet.Days, day)
	}
	sheet.Stats = compliance.Aggregate(week)
	if l := byDate[signDate]; l != nil {
		sheet.SignOffLog = l
		sheet.Signed = l.Signed()
		sheet.RequiresSignOff = compliance.RequiresAdminSignOff(l, settings, s.flags(featureflags.ForceSignOffDay))
	}
	return sheet, nil
}

// ActivityPage is one page of the workspace activity log
type ActivityPage struct {
	Entries []*domain.AuditEntry `json:"entries"`
	Total   int                  `json:"total"`
	Limit   int                  `json:"limit"`
	Offset  int                  `json:"offset"`
}

// Activity lists the workspace activity log, newest first
func (s *DashboardService) Activity(ctx context.Context, caller Caller, filter domain.AuditFilter) (*ActivityPage, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultActivityLimit
	}
	if filter.Limit > maxActivityLimit {
		filter.Limit = maxActivityLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	for _, d := range []string{filter.DateFrom, filter.DateTo} {
		if d == "" {
			continue
		}
		if _, err := compliance.ParseDate(d); err != nil {
			return nil, invalidInput("dates must be YYYY-MM-DD")
		}
	}
	entries, total, err := s.auditRepo.ListByWorkspace(ctx, caller.WorkspaceID, filter)
	if err != nil {
		return nil, err
	}
	return &ActivityPage{Entries: entries, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}
