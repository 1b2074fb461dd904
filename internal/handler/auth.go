package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/coldtrack/coldtrack/internal/domain"
	"github.com/coldtrack/coldtrack/internal/service"
)

// Authenticator is the slice of the auth service the HTTP layer needs
type Authenticator interface {
	Login(ctx context.Context, in service.LoginInput) (*service.LoginResult, error)
	Me(ctx context.Context, caller service.Caller) (*domain.User, error)
	ChangePassword(ctx context.Context, caller service.Caller, in service.ChangePasswordInput) (*service.LoginResult, error)
	AcceptConsent(ctx context.Context, caller service.Caller) error
}

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authService Authenticator
	logger      *slog.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService Authenticator, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &AuthHandler{
		authService: authService,
		logger:      logger,
	}
}

// Login handles POST /api/auth/login. An empty workspace is a portal login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req service.LoginInput
	if !decode(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		badRequest(w, "username and password are required")
		return
	}

	res, err := h.authService.Login(r.Context(), req)
	if err != nil {
		h.logger.Debug("login rejected", slog.String("workspace", req.Workspace), slog.String("username", req.Username))
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Me handles GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.authService.Me(r.Context(), callerFrom(r))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// ChangePassword handles POST /api/auth/change-password and returns a fresh token
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req service.ChangePasswordInput
	if !decode(w, r, &req) {
		return
	}
	res, err := h.authService.ChangePassword(r.Context(), callerFrom(r), req)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Consent handles POST /api/auth/consent
func (h *AuthHandler) Consent(w http.ResponseWriter, r *http.Request) {
	if err := h.authService.AcceptConsent(r.Context(), callerFrom(r)); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse)
}
