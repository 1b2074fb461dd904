package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/coldtrack/coldtrack/internal/compliance"
	"github.com/coldtrack/coldtrack/internal/domain"
	"github.com/coldtrack/coldtrack/internal/security/audit"
	"github.com/coldtrack/coldtrack/internal/security/auth"
)

// errInvalidCredentials is the single login failure message; it never says which part was wrong
var errInvalidCredentials = domain.NewError(domain.CodeUnauthorized, "invalid username or password")

// AuthService handles authentication operations
type AuthService struct {
	users      domain.UserRepository
	workspaces domain.WorkspaceRepository
	tokens     *auth.TokenManager
	audit      *audit.Logger
	tokenTTL   time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewAuthService creates a new authentication service
func NewAuthService(
	users domain.UserRepository,
	workspaces domain.WorkspaceRepository,
	tokens *auth.TokenManager,
	auditLog *audit.Logger,
	tokenTTL time.Duration,
	logger *slog.Logger,
) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	if tokenTTL <= 0 {
		tokenTTL = 12 * time.Hour
	}

	return &AuthService{
		users:      users,
		workspaces: workspaces,
		tokens:     tokens,
		audit:      auditLog,
		tokenTTL:   tokenTTL,
		logger:     logger,
		now:        time.Now,
	}
}

// LoginInput is a workspace login. An empty Workspace slug means the platform portal.
type LoginInput struct {
	Workspace string `json:"workspace"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

// LoginResult represents login response
type LoginResult struct {
	Token              string            `json:"token"`
	ExpiresIn          int               `json:"expires_in"` // seconds
	TokenType          string            `json:"token_type"`
	User               *domain.User      `json:"user"`
	Workspace          *domain.Workspace `json:"workspace,omitempty"`
	MustChangePassword bool              `json:"mustChangePassword"`
}

// Login authenticates a user and returns a JWT token
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" || in.Password == "" {
		return nil, invalidInput("username and password are required")
	}

	var ws *domain.Workspace
	workspaceID := ""
	if slug := strings.TrimSpace(in.Workspace); slug != "" {
		found, err := s.workspaces.GetBySlug(ctx, strings.ToLower(slug))
		if err != nil {
			if domain.CodeOf(err) == domain.CodeNotFound {
				return nil, errInvalidCredentials
			}
			return nil, err
		}
		if !found.Active() {
			return nil, domain.NewError(domain.CodeWorkspaceSuspended, "this workspace has been suspended")
		}
		ws = found
		workspaceID = ws.ID
	}

	user, err := s.users.GetByUsername(ctx, workspaceID, username)
	if err != nil {
		if domain.CodeOf(err) == domain.CodeNotFound {
			s.logger.Info("login attempt with unknown username",
				slog.String("workspace_id", workspaceID),
				slog.String("username", username),
			)
			return nil, errInvalidCredentials
		}
		return nil, err
	}
	if ws == nil && user.Role != domain.RoleSuperadmin {
		return nil, errInvalidCredentials
	}
	if !auth.CheckPassword(user.PasswordHash, in.Password) {
		s.logger.Info("login failed with wrong password",
			slog.String("workspace_id", workspaceID),
			slog.String("user_id", user.ID),
		)
		return nil, errInvalidCredentials
	}
	if user.Deactivated || (user.IsTemporary && compliance.ExpiryDue(user.ExpiryDate, s.now())) {
		return nil, domain.NewError(domain.CodeForbidden, "this account has been deactivated")
	}

	result, err := s.issue(user, ws, "")
	if err != nil {
		return nil, err
	}

	s.logger.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("workspace_id", workspaceID),
	)
	s.audit.Record(ctx, workspaceID, user.ID, domain.ActionLogin,
		fmt.Sprintf("%s logged in", user.DisplayName()), map[string]any{"role": user.Role})
	return result, nil
}

func (s *AuthService) issue(user *domain.User, ws *domain.Workspace, impersonator string) (*LoginResult, error) {
	token, err := s.tokens.GenerateToken(auth.Claims{
		WorkspaceID:  user.WorkspaceID,
		UserID:       user.ID,
		Username:     user.Username,
		Role:         user.Role,
		Impersonator: impersonator,
	}, s.tokenTTL)
	if err != nil {
		s.logger.Error("failed to sign token", slog.String("error", err.Error()))
		return nil, errors.New("failed to generate token")
	}
	return &LoginResult{
		Token:              token,
		ExpiresIn:          int(s.tokenTTL.Seconds()),
		TokenType:          "Bearer",
		User:               user,
		Workspace:          ws,
		MustChangePassword: user.MustChangePassword && impersonator == "",
	}, nil
}

// CheckAccess re-validates the account behind a token: the session must postdate the last
// password change, the user must be active and the workspace not suspended.
func (s *AuthService) CheckAccess(ctx context.Context, claims *auth.Claims) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if domain.CodeOf(err) == domain.CodeNotFound {
			return nil, domain.NewError(domain.CodeUnauthorized, "account no longer exists")
		}
		return nil, err
	}
	if user.WorkspaceID != claims.WorkspaceID || user.Role != claims.Role {
		return nil, domain.NewError(domain.CodeUnauthorized, "session no longer matches the account")
	}
	// JWT timestamps have second precision
	if user.PasswordChangedAt != nil && claims.Issued().Before(user.PasswordChangedAt.Truncate(time.Second)) {
		return nil, domain.NewError(domain.CodeUnauthorized, "session invalidated by password change")
	}
	if user.Deactivated {
		return nil, domain.NewError(domain.CodeForbidden, "this account has been deactivated")
	}
	if user.WorkspaceID != "" {
		ws, err := s.workspaces.GetByID(ctx, user.WorkspaceID)
		if err != nil {
			return nil, err
		}
		if !ws.Active() {
			return nil, domain.NewError(domain.CodeWorkspaceSuspended, "this workspace has been suspended")
		}
	}
	return user, nil
}

// Me returns the caller's account
func (s *AuthService) Me(ctx context.Context, caller Caller) (*domain.User, error) {
	return s.users.GetByID(ctx, caller.UserID)
}

// ChangePasswordInput is the self-service password change form
type ChangePasswordInput struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

// ChangePassword changes a user's password. The new password must be strong and differ from
// the current one and the last PasswordHistoryDepth ones. Older sessions stop working, so a
// fresh token is returned.
func (s *AuthService) ChangePassword(ctx context.Context, caller Caller, in ChangePasswordInput) (*LoginResult, error) {
	if in.CurrentPassword == "" || in.NewPassword == "" || in.ConfirmPassword == "" {
		return nil, invalidInput("all password fields are required")
	}
	if in.NewPassword != in.ConfirmPassword {
		return nil, invalidInput("new passwords do not match")
	}
	if err := auth.ValidateStrength(in.NewPassword); err != nil {
		return nil, invalidInput(err.Error())
	}

	user, err := s.users.GetByID(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	if !auth.CheckPassword(user.PasswordHash, in.CurrentPassword) {
		return nil, invalidInput("current password is incorrect")
	}
	if auth.MatchesAny(in.NewPassword, append([]string{user.PasswordHash}, user.PasswordHistory...)...) {
		return nil, domain.NewError(domain.CodePasswordReused, "cannot reuse your current password or any of your last 3 passwords")
	}

	hash, err := auth.HashPassword(in.NewPassword)
	if err != nil {
		s.logger.Error("failed to hash new password", slog.String("error", err.Error()))
		return nil, err
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash, false); err != nil {
		s.logger.Error("failed to update user password", slog.String("error", err.Error()))
		return nil, err
	}

	s.logger.Info("user changed password", slog.String("user_id", user.ID))
	user.MustChangePassword = false
	return s.issue(user, nil, caller.Impersonator)
}

// AcceptConsent records the caller's privacy consent
func (s *AuthService) AcceptConsent(ctx context.Context, caller Caller) error {
	return s.users.AcceptConsent(ctx, caller.UserID, s.now().UTC())
}

// LoginAsOwner issues a superadmin an owner session for a workspace. The token records the
// superadmin as impersonator.
func (s *AuthService) LoginAsOwner(ctx context.Context, caller Caller, workspaceID string) (*LoginResult, error) {
	if caller.Role != domain.RoleSuperadmin {
		return nil, domain.NewError(domain.CodeForbidden, "platform admin only")
	}
	ws, err := s.workspaces.GetByID(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if !ws.Active() {
		return nil, domain.NewError(domain.CodeWorkspaceSuspended, "this workspace has been suspended")
	}
	owner, err := findOwner(ctx, s.users, ws.ID)
	if err != nil {
		return nil, err
	}

	result, err := s.issue(owner, ws, caller.UserID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("portal login as owner",
		slog.String("workspace_id", ws.ID),
		slog.String("owner", owner.Username),
		slog.String("by", caller.Username),
	)
	s.audit.Record(ctx, ws.ID, caller.UserID, domain.ActionLogin,
		fmt.Sprintf("Platform admin %s opened the workspace as owner %s", caller.Username, owner.Username),
		map[string]any{"impersonator": caller.UserID, "ownerId": owner.ID})
	return result, nil
}

func findOwner(ctx context.Context, users domain.UserRepository, workspaceID string) (*domain.User, error) {
	list, err := users.ListByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	for _, u := range list {
		if u.IsOwner {
			return u, nil
		}
	}
	return nil, domain.NewError(domain.CodeNotFound, "no owner account found for this workspace")
}
