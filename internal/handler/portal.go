package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/coldtrack/coldtrack/internal/domain"
	"github.com/coldtrack/coldtrack/internal/service"
)

// Platform is the superadmin's view of all tenants
type Platform interface {
	List(ctx context.Context) ([]*domain.Workspace, error)
	Provision(ctx context.Context, caller service.Caller, in service.ProvisionInput) (*service.ProvisionResult, error)
	SetStatus(ctx context.Context, caller service.Caller, id string, status domain.WorkspaceStatus) error
	SetLimits(ctx context.Context, caller service.Caller, id string, in service.Limits) (*service.Limits, error)
	SetRetention(ctx context.Context, caller service.Caller, id string, in service.Retention) error
	Stats(ctx context.Context) (*service.PlatformStats, error)
}

// OwnerAccess covers the superadmin actions on a tenant's owner account
type OwnerAccess interface {
	LoginAsOwner(ctx context.Context, caller service.Caller, workspaceID string) (*service.LoginResult, error)
	ResetOwnerPassword(ctx context.Context, caller service.Caller, workspaceID string) (*service.CreatedUser, error)
}

// PortalHandler serves the platform portal
type PortalHandler struct {
	platform Platform
	owners   OwnerAccess
	logger   *slog.Logger
}

// NewPortalHandler creates a new portal handler
func NewPortalHandler(platform Platform, owners OwnerAccess, logger *slog.Logger) *PortalHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PortalHandler{platform: platform, owners: owners, logger: logger}
}

// List handles GET /api/portal/workspaces
func (h *PortalHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.platform.List(r.Context())
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workspaces": list})
}

// Provision handles POST /api/portal/workspaces. The owner's password is shown once.
func (h *PortalHandler) Provision(w http.ResponseWriter, r *http.Request) {
	var req service.ProvisionInput
	if !decode(w, r, &req) {
		return
	}
	res, err := h.platform.Provision(r.Context(), callerFrom(r), req)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	h.logger.Info("workspace provisioned",
		slog.String("workspace_id", res.Workspace.ID),
		slog.String("slug", res.Workspace.Slug),
	)
	writeJSON(w, http.StatusCreated, res)
}

// Suspend handles POST /api/portal/workspaces/{id}/suspend
func (h *PortalHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, domain.WorkspaceSuspended)
}

// Activate handles POST /api/portal/workspaces/{id}/activate
func (h *PortalHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, domain.WorkspaceActive)
}

func (h *PortalHandler) setStatus(w http.ResponseWriter, r *http.Request, status domain.WorkspaceStatus) {
	if err := h.platform.SetStatus(r.Context(), callerFrom(r), r.PathValue("id"), status); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: string(status)})
}

// Limits handles POST /api/portal/workspaces/{id}/limits
func (h *PortalHandler) Limits(w http.ResponseWriter, r *http.Request) {
	var req service.Limits
	if !decode(w, r, &req) {
		return
	}
	out, err := h.platform.SetLimits(r.Context(), callerFrom(r), r.PathValue("id"), req)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Retention handles POST /api/portal/workspaces/{id}/retention
func (h *PortalHandler) Retention(w http.ResponseWriter, r *http.Request) {
	var req service.Retention
	if !decode(w, r, &req) {
		return
	}
	if err := h.platform.SetRetention(r.Context(), callerFrom(r), r.PathValue("id"), req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// Stats handles GET /api/portal/stats
func (h *PortalHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.platform.Stats(r.Context())
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// LoginAsOwner handles POST /api/portal/workspaces/{id}/login-as-owner
func (h *PortalHandler) LoginAsOwner(w http.ResponseWriter, r *http.Request) {
	res, err := h.owners.LoginAsOwner(r.Context(), callerFrom(r), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	h.logger.Warn("superadmin impersonating workspace owner",
		slog.String("workspace_id", r.PathValue("id")),
		slog.String("owner", res.User.Username),
	)
	writeJSON(w, http.StatusOK, res)
}

// ResetOwnerPassword handles POST /api/portal/workspaces/{id}/reset-owner-password
func (h *PortalHandler) ResetOwnerPassword(w http.ResponseWriter, r *http.Request) {
	res, err := h.owners.ResetOwnerPassword(r.Context(), callerFrom(r), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// portalOwners joins the two services behind OwnerAccess
type portalOwners struct {
	auth  *service.AuthService
	users *service.UserService
}

func (p portalOwners) LoginAsOwner(ctx context.Context, caller service.Caller, workspaceID string) (*service.LoginResult, error) {
	return p.auth.LoginAsOwner(ctx, caller, workspaceID)
}

func (p portalOwners) ResetOwnerPassword(ctx context.Context, caller service.Caller, workspaceID string) (*service.CreatedUser, error) {
	return p.users.ResetOwnerPassword(ctx, caller, workspaceID)
}

// NewOwnerAccess combines the auth and user services for the portal
func NewOwnerAccess(auth *service.AuthService, users *service.UserService) OwnerAccess {
	return portalOwners{auth: auth, users: users}
}
