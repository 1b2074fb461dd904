package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/coldtrack/coldtrack/internal/domain"
	"github.com/coldtrack/coldtrack/internal/service"
)

// StaffManager manages the members of a workspace
type StaffManager interface {
	List(ctx context.Context, caller service.Caller) ([]*domain.User, error)
	Create(ctx context.Context, caller service.Caller, in service.CreateUserInput) (*service.CreatedUser, error)
	ChangeRole(ctx context.Context, caller service.Caller, id string, role domain.Role) (*domain.User, error)
	SetDeactivated(ctx context.Context, caller service.Caller, id string, deactivated bool) error
	ResetPassword(ctx context.Context, caller service.Caller, id string) (*service.CreatedUser, error)
	TransferOwnership(ctx context.Context, caller service.Caller, in service.TransferOwnershipInput) error
}

// UserHandler serves staff management
type UserHandler struct {
	users  StaffManager
	logger *slog.Logger
}

// NewUserHandler creates a new user handler
func NewUserHandler(users StaffManager, logger *slog.Logger) *UserHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserHandler{users: users, logger: logger}
}

// RoleRequest changes a member's role
type RoleRequest struct {
	Role domain.Role `json:"role"`
}

// List handles GET /api/users
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context(), callerFrom(r))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// Create handles POST /api/users. The response carries the one-time password.
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateUserInput
	if !decode(w, r, &req) {
		return
	}
	created, err := h.users.Create(r.Context(), callerFrom(r), req)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// ChangeRole handles POST /api/users/{id}/role
func (h *UserHandler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	var req RoleRequest
	if !decode(w, r, &req) {
		return
	}
	user, err := h.users.ChangeRole(r.Context(), callerFrom(r), r.PathValue("id"), req.Role)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// Deactivate handles POST /api/users/{id}/deactivate
func (h *UserHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.setDeactivated(w, r, true)
}

// Reactivate handles POST /api/users/{id}/reactivate
func (h *UserHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	h.setDeactivated(w, r, false)
}

func (h *UserHandler) setDeactivated(w http.ResponseWriter, r *http.Request, deactivated bool) {
	if err := h.users.SetDeactivated(r.Context(), callerFrom(r), r.PathValue("id"), deactivated); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse)
}

// ResetPassword handles POST /api/users/{id}/reset-password
func (h *UserHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	res, err := h.users.ResetPassword(r.Context(), callerFrom(r), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// TransferOwnership handles POST /api/users/transfer-ownership
func (h *UserHandler) TransferOwnership(w http.ResponseWriter, r *http.Request) {
	var req service.TransferOwnershipInput
	if !decode(w, r, &req) {
		return
	}
	if err := h.users.TransferOwnership(r.Context(), callerFrom(r), req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse)
}
