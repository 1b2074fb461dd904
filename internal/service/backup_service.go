package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coldtrack/coldtrack/internal/domain"
	"github.com/coldtrack/coldtrack/internal/security/audit"
)

// BackupVersion is the format version written into every backup
const BackupVersion = 1

// BackupService takes and restores full JSON snapshots of a workspace
type BackupService struct {
	workspaces domain.WorkspaceRepository
	users      domain.UserRepository
	vehicles   domain.VehicleRepository
	logs       domain.LogRepository
	wsService  *WorkspaceService
	audit      *audit.Logger
	logger     *slog.Logger
	now        func() time.Time
}

// NewBackupService creates a new backup service
func NewBackupService(
	workspaces domain.WorkspaceRepository,
	users domain.UserRepository,
	vehicles domain.VehicleRepository,
	logs domain.LogRepository,
	wsService *WorkspaceService,
	auditLog *audit.Logger,
	logger *slog.Logger,
) *BackupService {
	if logger == nil {
		logger = slog.Default()
	}
	return &BackupService{
		workspaces: workspaces,
		users:      users,
		vehicles:   vehicles,
		logs:       logs,
		wsService:  wsService,
		audit:      auditLog,
		logger:     logger,
		now:        time.Now,
	}
}

// Backup snapshots the workspace, its users with credentials, vehicles and every log
func (s *BackupService) Backup(ctx context.Context, caller Caller, workspaceID string) (*domain.Backup, error) {
	ws, err := s.workspaces.GetByID(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	var (
		users    []*domain.User
		vehicles []*domain.Vehicle
		logs     []*domain.Log
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		users, err = s.users.ListByWorkspace(gctx, ws.ID)
		return err
	})
	g.Go(func() (err error) {
		vehicles, err = s.vehicles.ListByWorkspace(gctx, ws.ID)
		return err
	})
	g.Go(func() (err error) {
		logs, err = s.logs.ListByWorkspace(gctx, ws.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("backup workspace %s: %w", ws.ID, err)
	}

	backup := &domain.Backup{
		Version:    BackupVersion,
		ExportedAt: s.now().UTC(),
		ExportedBy: caller.Username,
		Workspace:  ws,
		Users:      make([]domain.BackupUser, 0, len(users)),
		Vehicles:   vehicles,
		Logs:       logs,
	}
	for _, u := range users {
		backup.Users = append(backup.Users, domain.BackupUser{User: *u, PasswordHash: u.PasswordHash})
	}

	s.logger.Info("workspace backup taken",
		slog.String("workspace_id", ws.ID),
		slog.Int("users", len(users)),
		slog.Int("vehicles", len(vehicles)),
		slog.Int("logs", len(logs)),
	)
	s.audit.Record(ctx, ws.ID, caller.UserID, domain.ActionBackupExported,
		fmt.Sprintf("Backup exported by %s", caller.Username),
		map[string]any{"users": len(users), "vehicles": len(vehicles), "logs": len(logs)})
	return backup, nil
}

// RestoreResult counts what a restore brought back
type RestoreResult struct {
	UsersRestored    int `json:"usersRestored"`
	VehiclesRestored int `json:"vehiclesRestored"`
	Skipped          int `json:"skipped"`
}

// Restore re-imports users and vehicles missing from the workspace and restores its
// configuration. Logs are never restored in bulk.
func (s *BackupService) Restore(ctx context.Context, caller Caller, workspaceID string, backup *domain.Backup) (*RestoreResult, error) {
	if backup == nil || backup.Workspace == nil {
		return nil, invalidInput("backup is missing its workspace")
	}
	if backup.Workspace.ID != workspaceID {
		return nil, invalidInput("backup belongs to a different workspace")
	}
	if _, err := s.workspaces.GetByID(ctx, workspaceID); err != nil {
		return nil, err
	}

	existingUsers, err := s.users.ListByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	haveUser := make(map[string]bool, len(existingUsers))
	for _, u := range existingUsers {
		haveUser[u.ID] = true
	}
	existingVehicles, err := s.vehicles.ListByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	haveVehicle := make(map[string]bool, len(existingVehicles))
	for _, v := range existingVehicles {
		haveVehicle[v.ID] = true
	}

	var res RestoreResult
	for _, bu := range backup.Users {
		if haveUser[bu.ID] || bu.Role == domain.RoleSuperadmin {
			continue
		}
		u := bu.User
		u.WorkspaceID = workspaceID
		u.PasswordHash = bu.PasswordHash
		if err := s.users.Create(ctx, &u); err != nil {
			if domain.CodeOf(err) == domain.CodeDuplicate {
				s.logger.Warn("restore skipped user", slog.String("username", u.Username), slog.String("error", err.Error()))
				res.Skipped++
				continue
			}
			return nil, fmt.Errorf("restore user %s: %w", u.Username, err)
		}
		res.UsersRestored++
	}
	for _, v := range backup.Vehicles {
		if v == nil || haveVehicle[v.ID] {
			continue
		}
		restored := *v
		restored.WorkspaceID = workspaceID
		if err := s.vehicles.Create(ctx, &restored); err != nil {
			if domain.CodeOf(err) == domain.CodeDuplicate {
				s.logger.Warn("restore skipped vehicle", slog.String("rego", v.Rego), slog.String("error", err.Error()))
				res.Skipped++
				continue
			}
			return nil, fmt.Errorf("restore vehicle %s: %w", v.Rego, err)
		}
		res.VehiclesRestored++
	}

	src := backup.Workspace
	if src.Name != "" {
		if err := s.workspaces.Update(ctx, workspaceID, src.Name); err != nil {
			return nil, err
		}
	}
	if err := s.workspaces.UpdateSettings(ctx, workspaceID, src.Settings); err != nil {
		return nil, err
	}
	if err := s.workspaces.UpdateExportSettings(ctx, workspaceID, src.ExportSettings); err != nil {
		return nil, err
	}
	if src.ChecklistQuestions != nil {
		if err := s.workspaces.UpdateChecklistQuestions(ctx, workspaceID, src.ChecklistQuestions); err != nil {
			return nil, err
		}
	}
	if src.MaxUsers > 0 && src.MaxVehicles > 0 && src.MaxQuestions > 0 {
		if err := s.workspaces.SetLimits(ctx, workspaceID, src.MaxUsers, src.MaxVehicles, src.MaxQuestions); err != nil {
			return nil, err
		}
	}
	s.wsService.invalidate(workspaceID)

	s.logger.Info("workspace restored",
		slog.String("workspace_id", workspaceID),
		slog.Int("users", res.UsersRestored),
		slog.Int("vehicles", res.VehiclesRestored),
	)
	s.audit.Record(ctx, workspaceID, caller.UserID, domain.ActionBackupRestored,
		fmt.Sprintf("Backup from %s restored by %s", backup.ExportedAt.Format(time.RFC3339), caller.Username),
		map[string]any{"usersRestored": res.UsersRestored, "vehiclesRestored": res.VehiclesRestored, "skipped": res.Skipped})
	return &res, nil
}
