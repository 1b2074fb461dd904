package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coldtrack/coldtrack/internal/domain"
	"github.com/coldtrack/coldtrack/internal/service"
)

// Backups takes and restores workspace snapshots
type Backups interface {
	Backup(ctx context.Context, caller service.Caller, workspaceID string) (*domain.Backup, error)
	Restore(ctx context.Context, caller service.Caller, workspaceID string, backup *domain.Backup) (*service.RestoreResult, error)
}

// BackupHandler serves workspace backup and restore from the portal
type BackupHandler struct {
	backups Backups
	logger  *slog.Logger
}

// NewBackupHandler creates a new backup handler
func NewBackupHandler(backups Backups, logger *slog.Logger) *BackupHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BackupHandler{backups: backups, logger: logger}
}

// Backup handles GET /api/portal/workspaces/{id}/backup and downloads the snapshot as JSON
func (h *BackupHandler) Backup(w http.ResponseWriter, r *http.Request) {
	b, err := h.backups.Backup(r.Context(), callerFrom(r), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	slug := r.PathValue("id")
	if b.Workspace != nil {
		slug = b.Workspace.Slug
	}
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="%s-backup-%s.json"`, slug, b.ExportedAt.UTC().Format(time.DateOnly)))
	writeJSON(w, http.StatusOK, b)
}

// Restore handles POST /api/portal/workspaces/{id}/restore
func (h *BackupHandler) Restore(w http.ResponseWriter, r *http.Request) {
	var b domain.Backup
	if !decode(w, r, &b) {
		return
	}
	res, err := h.backups.Restore(r.Context(), callerFrom(r), r.PathValue("id"), &b)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	h.logger.Info("workspace restored",
		slog.String("workspace_id", r.PathValue("id")),
		slog.Int("users", res.UsersRestored),
		slog.Int("vehicles", res.VehiclesRestored),
		slog.Int("skipped", res.Skipped),
	)
	writeJSON(w, http.StatusOK, res)
}
