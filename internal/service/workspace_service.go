package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coldtrack/coldtrack/internal/compliance"
	"github.com/coldtrack/coldtrack/internal/domain"
	"github.com/coldtrack/coldtrack/internal/security/audit"
	"github.com/coldtrack/coldtrack/internal/security/auth"
	"github.com/coldtrack/coldtrack/pkg/cache"
)

const (
	defaultMaxUsers    = 20
	defaultMaxVehicles = 20
	workspaceCacheTTL  = 30 * time.Second
)

// WorkspaceService owns workspace configuration and the portal lifecycle operations
type WorkspaceService struct {
	workspaces domain.WorkspaceRepository
	users      domain.UserRepository
	vehicles   domain.VehicleRepository
	logs       domain.LogRepository
	audit      *audit.Logger
	cache      *cache.Cache[*domain.Workspace]
	logger     *slog.Logger
	now        func() time.Time
	defaultTZ  string
}

// NewWorkspaceService creates a new workspace service
func NewWorkspaceService(
	workspaces domain.WorkspaceRepository,
	users domain.UserRepository,
	vehicles domain.VehicleRepository,
	logs domain.LogRepository,
	auditLog *audit.Logger,
	logger *slog.Logger,
) *WorkspaceService {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkspaceService{
		workspaces: workspaces,
		users:      users,
		vehicles:   vehicles,
		logs:       logs,
		audit:      auditLog,
		cache:      cache.New[*domain.Workspace](),
		logger:     logger,
		now:        time.Now,
	}
}

func cacheKey(id string) string {
	return "ws:" + id
}

// Get returns a workspace, served from a short-lived cache
func (s *WorkspaceService) Get(ctx context.Context, id string) (*domain.Workspace, error) {
	if ws, ok := s.cache.Get(cacheKey(id)); ok {
		return ws, nil
	}
	ws, err := s.workspaces.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Set(cacheKey(id), ws, workspaceCacheTTL)
	return ws, nil
}

func (s *WorkspaceService) invalidate(id string) {
	s.cache.Delete(cacheKey(id))
}

// Settings resolves the typed settings snapshot of a workspace
func (s *WorkspaceService) Settings(ctx context.Context, id string) (compliance.Settings, *domain.Workspace, error) {
	ws, err := s.Get(ctx, id)
	if err != nil {
		return compliance.Settings{}, nil, err
	}
	return compliance.Resolve(ws, s.logger), ws, nil
}

// ComplianceUpdate carries the tenant-configurable compliance thresholds
type ComplianceUpdate struct {
	Timezone         string                           `json:"timezone"`
	SignOffDay       *int                             `json:"signOffDay"`
	RequireOdometer  *bool                            `json:"requireOdometer"`
	RequireSignature *bool                            `json:"requireSignature"`
	OverdueMinutes   *int                             `json:"overdueMinutes"`
	TempRanges       map[domain.Zone]domain.TempRange `json:"tempRanges"`
}

func validZone(z domain.Zone) bool {
	for _, known := range domain.Zones {
		if z == known {
			return true
		}
	}
	return z == domain.ZoneAmbient
}

// UpdateCompliance validates and stores the compliance settings of a workspace
func (s *WorkspaceService) UpdateCompliance(ctx context.Context, caller Caller, in ComplianceUpdate) (*domain.Workspace, error) {
	ws, err := s.workspaces.GetByID(ctx, caller.WorkspaceID)
	if err != nil {
		return nil, err
	}
	settings := ws.Settings

	if tz := strings.TrimSpace(in.Timezone); tz != "" {
		if _, err := compliance.LoadZone(tz); err != nil {
			return nil, err
		}
		settings.Timezone = tz
	}
	if in.SignOffDay != nil {
		if *in.SignOffDay < 0 || *in.SignOffDay > 6 {
			return nil, invalidInput("sign-off day must be between 0 (Sunday) and 6 (Saturday)")
		}
		settings.SignOff.DayOfWeek = in.SignOffDay
	}
	if in.RequireOdometer != nil {
		settings.SignOff.RequireOdometer = in.RequireOdometer
	}
	if in.RequireSignature != nil {
		settings.SignOff.RequireSignature = in.RequireSignature
	}
	if in.OverdueMinutes != nil {
		if *in.OverdueMinutes <= 0 {
			return nil, invalidInput("overdue minutes must be positive")
		}
		settings.OverdueMinutes = in.OverdueMinutes
	}
	if in.TempRanges != nil {
		for z, r := range in.TempRanges {
			if !validZone(z) {
				return nil, invalidInput(fmt.Sprintf("unknown zone %q", z))
			}
			if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
				return nil, invalidInput(fmt.Sprintf("%s range minimum is above its maximum", z))
			}
		}
		settings.TempRanges = in.TempRanges
	}

	if err := s.workspaces.UpdateSettings(ctx, ws.ID, settings); err != nil {
		return nil, err
	}
	s.invalidate(ws.ID)
	ws.Settings = settings
	s.audit.Record(ctx, ws.ID, caller.UserID, domain.ActionSettingsUpdated, "Compliance settings updated",
		map[string]any{"timezone": settings.Timezone, "signOffDay": in.SignOffDay, "overdueMinutes": in.OverdueMinutes})
	return ws, nil
}

// UpdateChecklist replaces the checklist questions within the workspace limit
func (s *WorkspaceService) UpdateChecklist(ctx context.Context, caller Caller, questions []string) ([]string, error) {
	settings, ws, err := s.Settings(ctx, caller.WorkspaceID)
	if err != nil {
		return nil, err
	}
	normalized, err := compliance.NormalizeQuestions(questions, settings.MaxQuestions)
	if err != nil {
		return nil, err
	}
	if err := s.workspaces.UpdateChecklistQuestions(ctx, ws.ID, normalized); err != nil {
		return nil, err
	}
	s.invalidate(ws.ID)
	s.audit.Record(ctx, ws.ID, caller.UserID, domain.ActionSettingsUpdated,
		fmt.Sprintf("Checklist questions updated (%d questions)", len(normalized)),
		map[string]any{"count": len(normalized)})
	return normalized, nil
}

var exportFrequencies = map[string]bool{
	"":                                true,
	string(domain.ExportWeekly):      true,
	string(domain.ExportFortnightly): true,
	string(domain.ExportMonthly):     true,
}

var scheduleDays = map[string]bool{
	"": true, "sunday": true, "monday": true, "tuesday": true, "wednesday": true,
	"thursday": true, "friday": true, "saturday": true,
}

// UpdateExportSettings validates and stores the scheduled export configuration
func (s *WorkspaceService) UpdateExportSettings(ctx context.Context, caller Caller, in domain.ExportSettings) (*domain.ExportSettings, error) {
	in.Frequency = strings.ToLower(strings.TrimSpace(in.Frequency))
	in.ScheduleDay = strings.ToLower(strings.TrimSpace(in.ScheduleDay))
	if !exportFrequencies[in.Frequency] {
		return nil, invalidInput("frequency must be weekly, fortnightly, monthly or empty")
	}
	if !scheduleDays[in.ScheduleDay] {
		return nil, invalidInput("schedule day must be a weekday name")
	}
	recipients := in.Recipients[:0:0]
	for _, r := range in.Recipients {
		if r = strings.TrimSpace(r); r != "" {
			recipients = append(recipients, r)
		}
	}
	in.Recipients = recipients

	if err := s.workspaces.UpdateExportSettings(ctx, caller.WorkspaceID, in); err != nil {
		return nil, err
	}
	s.invalidate(caller.WorkspaceID)
	s.audit.Record(ctx, caller.WorkspaceID, caller.UserID, domain.ActionSettingsUpdated, "Export settings updated",
		map[string]any{"frequency": in.Frequency, "scheduleDay": in.ScheduleDay})
	return &in, nil
}

// List returns every workspace on the platform
func (s *WorkspaceService) List(ctx context.Context) ([]*domain.Workspace, error) {
	return s.workspaces.List(ctx)
}

// WithDefaultTimezone sets the zone stored on new workspaces that do not name one
func (s *WorkspaceService) WithDefaultTimezone(tz string) *WorkspaceService {
	s.defaultTZ = strings.TrimSpace(tz)
	return s
}

// ProvisionInput describes a new tenant and its owner
type ProvisionInput struct {
	Name           string `json:"name"`
	Slug           string `json:"slug"`
	Timezone       string `json:"timezone"`
	MaxUsers       int    `json:"maxUsers"`
	MaxVehicles    int    `json:"maxVehicles"`
	MaxQuestions   int    `json:"maxQuestions"`
	OwnerFirstName string `json:"ownerFirstName"`
	OwnerLastName  string `json:"ownerLastName"`
	OwnerEmail     string `json:"ownerEmail"`
}

// ProvisionResult carries the owner's one-time credentials
type ProvisionResult struct {
	Workspace *domain.Workspace `json:"workspace"`
	Owner     *domain.User      `json:"owner"`
	Password  string            `json:"password"`
}

var nonSlug = regexp.MustCompile(`[^a-z0-9\s-]`)
var slugSpace = regexp.MustCompile(`[\s-]+`)

// Slugify turns a workspace name into its URL slug
func Slugify(name string) string {
	s := nonSlug.ReplaceAllString(strings.ToLower(name), "")
	s = slugSpace.ReplaceAllString(strings.TrimSpace(s), "-")
	return strings.Trim(s, "-")
}

// Provision creates a workspace together with its owner admin
func (s *WorkspaceService) Provision(ctx context.Context, caller Caller, in ProvisionInput) (*ProvisionResult, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, invalidInput("workspace name is required")
	}
	slug := Slugify(in.Slug)
	if slug == "" {
		slug = Slugify(name)
	}
	if slug == "" {
		return nil, invalidInput("workspace name must contain letters or digits")
	}

	var settings domain.WorkspaceSettings
	tz := strings.TrimSpace(in.Timezone)
	if tz == "" {
		tz = s.defaultTZ
	}
	if tz != "" {
		if _, err := compliance.LoadZone(tz); err != nil {
			return nil, err
		}
		settings.Timezone = tz
	}

	now := s.now().UTC()
	ws := &domain.Workspace{
		ID:           newID(),
		Name:         name,
		Slug:         slug,
		Status:       domain.WorkspaceActive,
		MaxUsers:     positiveOr(in.MaxUsers, defaultMaxUsers),
		MaxVehicles:  positiveOr(in.MaxVehicles, defaultMaxVehicles),
		MaxQuestions: clamp(positiveOr(in.MaxQuestions, compliance.DefaultMaxQuestions), 1, compliance.QuestionHardLimit),
		Settings:     settings,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.workspaces.Create(ctx, ws); err != nil {
		return nil, err
	}

	password, err := auth.GeneratePassword(ownerPasswordLength)
	if err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	first := strings.TrimSpace(in.OwnerFirstName)
	if first == "" {
		first = "Admin"
	}
	last := strings.TrimSpace(in.OwnerLastName)
	owner := &domain.User{
		ID:                 newID(),
		WorkspaceID:        ws.ID,
		Username:           GenerateUsername(first, last, nil),
		Name:               strings.TrimSpace(first + " " + last),
		Email:              strings.TrimSpace(in.OwnerEmail),
		Role:               domain.RoleAdmin,
		IsOwner:            true,
		PasswordHash:       hash,
		MustChangePassword: true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.users.Create(ctx, owner); err != nil {
		return nil, fmt.Errorf("create owner: %w", err)
	}

	s.logger.Info("workspace provisioned",
		slog.String("workspace_id", ws.ID),
		slog.String("slug", ws.Slug),
		slog.String("owner", owner.Username),
	)
	s.audit.Record(ctx, ws.ID, caller.UserID, domain.ActionUserCreated,
		fmt.Sprintf("Workspace owner created: %s", owner.Username),
		map[string]any{"userId": owner.ID, "role": owner.Role, "isOwner": true})
	return &ProvisionResult{Workspace: ws, Owner: owner, Password: password}, nil
}

// SetStatus suspends or reactivates a workspace. Individual user flags are left untouched.
func (s *WorkspaceService) SetStatus(ctx context.Context, caller Caller, id string, status domain.WorkspaceStatus) error {
	if status != domain.WorkspaceActive && status != domain.WorkspaceSuspended {
		return invalidInput("unknown workspace status")
	}
	if err := s.workspaces.SetStatus(ctx, id, status); err != nil {
		return err
	}
	s.invalidate(id)
	s.audit.Record(ctx, id, caller.UserID, domain.ActionWorkspaceUpdated,
		fmt.Sprintf("Workspace %s by platform admin", status), map[string]any{"status": status})
	return nil
}

// Limits are the per-workspace caps set from the portal
type Limits struct {
	MaxUsers     int `json:"maxUsers"`
	MaxVehicles  int `json:"maxVehicles"`
	MaxQuestions int `json:"maxQuestions"`
}

// SetLimits updates workspace caps. A cap cannot drop below current usage.
func (s *WorkspaceService) SetLimits(ctx context.Context, caller Caller, id string, in Limits) (*Limits, error) {
	if _, err := s.workspaces.GetByID(ctx, id); err != nil {
		return nil, err
	}
	out := Limits{
		MaxUsers:     positiveOr(in.MaxUsers, defaultMaxUsers),
		MaxVehicles:  positiveOr(in.MaxVehicles, defaultMaxVehicles),
		MaxQuestions: clamp(positiveOr(in.MaxQuestions, compliance.DefaultMaxQuestions), 1, compliance.QuestionHardLimit),
	}

	userCount, err := s.users.CountActive(ctx, id)
	if err != nil {
		return nil, err
	}
	if out.MaxUsers < userCount {
		return nil, invalidInput(fmt.Sprintf("cannot lower max users to %d: workspace has %d users", out.MaxUsers, userCount))
	}
	vehicleCount, err := s.vehicles.CountActive(ctx, id)
	if err != nil {
		return nil, err
	}
	if out.MaxVehicles < vehicleCount {
		return nil, invalidInput(fmt.Sprintf("cannot lower max vehicles to %d: workspace has %d vehicles", out.MaxVehicles, vehicleCount))
	}

	if err := s.workspaces.SetLimits(ctx, id, out.MaxUsers, out.MaxVehicles, out.MaxQuestions); err != nil {
		return nil, err
	}
	s.invalidate(id)
	s.audit.Record(ctx, id, caller.UserID, domain.ActionLimitsUpdated,
		fmt.Sprintf("Limits updated: users=%d, vehicles=%d, questions=%d", out.MaxUsers, out.MaxVehicles, out.MaxQuestions),
		map[string]any{"maxUsers": out.MaxUsers, "maxVehicles": out.MaxVehicles, "maxQuestions": out.MaxQuestions})
	return &out, nil
}

// Retention is the log retention policy of a workspace
type Retention struct {
	Enabled bool `json:"enabled"`
	Days    int  `json:"days"`
}

// SetRetention enables or disables the nightly purge of old logs
func (s *WorkspaceService) SetRetention(ctx context.Context, caller Caller, id string, in Retention) error {
	ws, err := s.workspaces.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if in.Enabled && in.Days <= 0 {
		return invalidInput("retention days must be positive")
	}
	settings := ws.Settings
	settings.RetentionEnabled = in.Enabled
	if in.Days > 0 {
		days := in.Days
		settings.RetentionDays = &days
	}
	if err := s.workspaces.UpdateSettings(ctx, id, settings); err != nil {
		return err
	}
	s.invalidate(id)
	s.audit.Record(ctx, id, caller.UserID, domain.ActionSettingsUpdated, "Retention policy updated",
		map[string]any{"enabled": in.Enabled, "days": in.Days})
	return nil
}

// PlatformStats summarises the platform for the portal dashboard
type PlatformStats struct {
	Workspaces map[domain.WorkspaceStatus]int `json:"workspaces"`
	Users      int                            `json:"users"`
	Vehicles   int                            `json:"vehicles"`
	LogsToday  int                            `json:"logsToday"`
}

// Stats counts workspaces by status plus active users, vehicles and today's logs across tenants
func (s *WorkspaceService) Stats(ctx context.Context) (*PlatformStats, error) {
	list, err := s.workspaces.List(ctx)
	if err != nil {
		return nil, err
	}
	stats := &PlatformStats{Workspaces: map[domain.WorkspaceStatus]int{}}
	now := s.now()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, ws := range list {
		stats.Workspaces[ws.Status]++
		g.Go(func() error {
			users, err := s.users.CountActive(gctx, ws.ID)
			if err != nil {
				return err
			}
			vehicles, err := s.vehicles.CountActive(gctx, ws.ID)
			if err != nil {
				return err
			}
			loc := compliance.Resolve(ws, s.logger).Location
			logs, err := s.logs.ListByDate(gctx, ws.ID, compliance.Today(now, loc))
			if err != nil {
				return err
			}
			mu.Lock()
			stats.Users += users
			stats.Vehicles += vehicles
			stats.LogsToday += len(logs)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("platform stats: %w", err)
	}
	return stats, nil
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
