package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/coldtrack/coldtrack/internal/compliance"
	"github.com/coldtrack/coldtrack/internal/domain"
	"github.com/coldtrack/coldtrack/internal/security"
	"github.com/coldtrack/coldtrack/internal/security/audit"
	"github.com/coldtrack/coldtrack/internal/security/auth"
)

const (
	generatedPasswordLength = 12
	ownerPasswordLength     = 16
)

// UserService manages workspace staff accounts
type UserService struct {
	users      domain.UserRepository
	workspaces *WorkspaceService
	audit      *audit.Logger
	logger     *slog.Logger
	now        func() time.Time
}

// NewUserService creates a new user service
func NewUserService(users domain.UserRepository, workspaces *WorkspaceService, auditLog *audit.Logger, logger *slog.Logger) *UserService {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserService{
		users:      users,
		workspaces: workspaces,
		audit:      auditLog,
		logger:     logger,
		now:        time.Now,
	}
}

func alnumLower(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// GenerateUsername builds first name plus last initial, suffixed 2, 3, ... until it does not
// collide with existing (case-insensitive)
func GenerateUsername(first, last string, existing []string) string {
	base := alnumLower(first)
	if initial := alnumLower(last); initial != "" {
		base += initial[:1]
	}
	if base == "" {
		base = "user"
	}

	taken := make(map[string]bool, len(existing))
	for _, u := range existing {
		taken[strings.ToLower(u)] = true
	}
	candidate := base
	for n := 2; taken[candidate]; n++ {
		candidate = base + strconv.Itoa(n)
	}
	return candidate
}

// actor loads the caller's stored account so ownership is taken from storage, not the token
func (s *UserService) actor(ctx context.Context, caller Caller) (security.Actor, error) {
	u, err := s.users.GetByID(ctx, caller.UserID)
	if err != nil {
		return security.Actor{}, err
	}
	return security.Actor{UserID: u.ID, Role: u.Role, IsOwner: u.IsOwner}, nil
}

// member returns a user of the caller's workspace
func (s *UserService) member(ctx context.Context, caller Caller, id string) (*domain.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.WorkspaceID != caller.WorkspaceID {
		return nil, domain.NewError(domain.CodeNotFound, "user not found")
	}
	return u, nil
}

// List returns the workspace's staff
func (s *UserService) List(ctx context.Context, caller Caller) ([]*domain.User, error) {
	return s.users.ListByWorkspace(ctx, caller.WorkspaceID)
}

// CreateUserInput is the staff creation form. ExpiryDate (YYYY-MM-DD) or ExpiryWeeks only apply
// to temporary accounts.
type CreateUserInput struct {
	FirstName   string      `json:"firstName"`
	LastName    string      `json:"lastName"`
	Email       string      `json:"email"`
	Role        domain.Role `json:"role"`
	IsTemporary bool        `json:"isTemporary"`
	ExpiryDate  string      `json:"expiryDate"`
	ExpiryWeeks int         `json:"expiryWeeks"`
}

// CreatedUser carries the one-time password of a new account
type CreatedUser struct {
	User     *domain.User `json:"user"`
	Password string       `json:"password"`
}

// temporaryExpiry resolves a temporary account's expiry to 00:01 in the workspace zone
func temporaryExpiry(date string, weeks int, loc *time.Location, now time.Time) (*time.Time, error) {
	var day time.Time
	switch {
	case date != "":
		d, err := compliance.ParseDate(date)
		if err != nil {
			return nil, invalidInput("expiry date must be YYYY-MM-DD")
		}
		day = d
	case weeks > 0:
		day = now.In(loc).AddDate(0, 0, 7*weeks)
	default:
		return nil, invalidInput("temporary accounts need an expiry date")
	}
	at := time.Date(day.Year(), day.Month(), day.Day(), 0, 1, 0, 0, loc).UTC()
	return &at, nil
}

// Create adds a staff account with a generated username and one-time password
func (s *UserService) Create(ctx context.Context, caller Caller, in CreateUserInput) (*CreatedUser, error) {
	first := strings.TrimSpace(in.FirstName)
	last := strings.TrimSpace(in.LastName)
	if first == "" {
		return nil, invalidInput("first name is required")
	}
	if in.Role == "" {
		in.Role = domain.RoleDriver
	}

	actor, err := s.actor(ctx, caller)
	if err != nil {
		return nil, err
	}
	if err := security.CanAssignRole(actor, nil, in.Role); err != nil {
		return nil, err
	}

	settings, ws, err := s.workspaces.Settings(ctx, caller.WorkspaceID)
	if err != nil {
		return nil, err
	}
	count, err := s.users.CountActive(ctx, ws.ID)
	if err != nil {
		return nil, err
	}
	if count >= ws.MaxUsers {
		return nil, limitReached("user", ws.MaxUsers)
	}

	now := s.now()
	var expiry *time.Time
	if in.IsTemporary {
		if expiry, err = temporaryExpiry(in.ExpiryDate, in.ExpiryWeeks, settings.Location, now); err != nil {
			return nil, err
		}
	}

	existing, err := s.users.ListByWorkspace(ctx, ws.ID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(existing))
	for _, u := range existing {
		names = append(names, u.Username)
	}

	password, err := auth.GeneratePassword(generatedPasswordLength)
	if err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		ID:                 newID(),
		WorkspaceID:        ws.ID,
		Username:           GenerateUsername(first, last, names),
		Name:               strings.TrimSpace(first + " " + last),
		Email:              strings.TrimSpace(in.Email),
		Role:               in.Role,
		PasswordHash:       hash,
		MustChangePassword: true,
		IsTemporary:        in.IsTemporary,
		ExpiryDate:         expiry,
		CreatedAt:          now.UTC(),
		UpdatedAt:          now.UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("user created",
		slog.String("workspace_id", ws.ID),
		slog.String("username", user.Username),
		slog.String("role", string(user.Role)),
	)
	s.audit.Record(ctx, ws.ID, caller.UserID, domain.ActionUserCreated,
		fmt.Sprintf("Staff created: %s (%s)", user.Name, user.Role),
		map[string]any{"username": user.Username, "role": user.Role, "isTemporary": user.IsTemporary})
	return &CreatedUser{User: user, Password: password}, nil
}

// ChangeRole moves a staff member to another role within the caller's authority
func (s *UserService) ChangeRole(ctx context.Context, caller Caller, id string, role domain.Role) (*domain.User, error) {
	actor, err := s.actor(ctx, caller)
	if err != nil {
		return nil, err
	}
	target, err := s.member(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if err := security.CanAssignRole(actor, target, role); err != nil {
		return nil, err
	}
	if err := s.users.SetRole(ctx, target.ID, role); err != nil {
		return nil, err
	}

	old := target.Role
	target.Role = role
	s.audit.Record(ctx, caller.WorkspaceID, caller.UserID, domain.ActionRoleChanged,
		fmt.Sprintf("Role changed: %s → %s", target.DisplayName(), role),
		map[string]any{"targetUserId": target.ID, "oldRole": old, "newRole": role})
	return target, nil
}

// SetDeactivated suspends or lifts the suspension of a staff member. The owner cannot be
// deactivated.
func (s *UserService) SetDeactivated(ctx context.Context, caller Caller, id string, deactivated bool) error {
	actor, err := s.actor(ctx, caller)
	if err != nil {
		return err
	}
	target, err := s.member(ctx, caller, id)
	if err != nil {
		return err
	}

	action := domain.ActionUserSuspensionLifted
	verb := "reactivated"
	if deactivated {
		if err := security.CanDeactivate(actor, target); err != nil {
			return err
		}
		action = domain.ActionUserSuspended
		verb = "deactivated"
	} else {
		ws, err := s.workspaces.Get(ctx, caller.WorkspaceID)
		if err != nil {
			return err
		}
		count, err := s.users.CountActive(ctx, ws.ID)
		if err != nil {
			return err
		}
		if target.Deactivated && count >= ws.MaxUsers {
			return limitReached("user", ws.MaxUsers)
		}
	}

	if err := s.users.SetDeactivated(ctx, target.ID, deactivated); err != nil {
		return err
	}
	s.audit.Record(ctx, caller.WorkspaceID, caller.UserID, action,
		fmt.Sprintf("Staff %s: %s", verb, target.DisplayName()),
		map[string]any{"targetUserId": target.ID})
	return nil
}

// resetPassword stores a generated password that must be changed at next login
func (s *UserService) resetPassword(ctx context.Context, user *domain.User, length int) (string, error) {
	password, err := auth.GeneratePassword(length)
	if err != nil {
		return "", err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return "", err
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash, true); err != nil {
		return "", err
	}
	return password, nil
}

// ResetPassword issues a staff member a new one-time password
func (s *UserService) ResetPassword(ctx context.Context, caller Caller, id string) (*CreatedUser, error) {
	actor, err := s.actor(ctx, caller)
	if err != nil {
		return nil, err
	}
	target, err := s.member(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if target.ID != actor.UserID && security.Rank(actor.Role, actor.IsOwner) <= security.Rank(target.Role, target.IsOwner) {
		return nil, domain.NewError(domain.CodeForbidden, "you cannot reset the password of a user with equal or higher role")
	}

	password, err := s.resetPassword(ctx, target, generatedPasswordLength)
	if err != nil {
		return nil, err
	}
	s.logger.Info("password reset", slog.String("workspace_id", caller.WorkspaceID), slog.String("user_id", target.ID))
	s.audit.Record(ctx, caller.WorkspaceID, caller.UserID, domain.ActionSettingsUpdated,
		fmt.Sprintf("Password reset for %s", target.DisplayName()),
		map[string]any{"targetUserId": target.ID})
	target.MustChangePassword = true
	return &CreatedUser{User: target, Password: password}, nil
}

// TransferOwnershipInput names the new owner and confirms the current owner's password
type TransferOwnershipInput struct {
	NewOwnerID      string `json:"newOwnerId"`
	ConfirmPassword string `json:"confirmPassword"`
}

// TransferOwnership hands the owner flag to another active admin. The previous owner stays
// an admin.
func (s *UserService) TransferOwnership(ctx context.Context, caller Caller, in TransferOwnershipInput) error {
	if in.NewOwnerID == "" || in.ConfirmPassword == "" {
		return invalidInput("new owner and password confirmation are required")
	}
	owner, err := s.users.GetByID(ctx, caller.UserID)
	if err != nil {
		return err
	}
	if !owner.IsOwner || owner.WorkspaceID != caller.WorkspaceID {
		return domain.NewError(domain.CodeForbidden, "only the workspace owner can transfer ownership")
	}
	if !auth.CheckPassword(owner.PasswordHash, in.ConfirmPassword) {
		return domain.NewError(domain.CodeForbidden, "incorrect password")
	}
	next, err := s.member(ctx, caller, in.NewOwnerID)
	if err != nil {
		return err
	}
	if next.ID == owner.ID || next.Role != domain.RoleAdmin || next.Deactivated {
		return invalidInput("selected user is not an active admin")
	}

	if err := s.users.TransferOwnership(ctx, caller.WorkspaceID, owner.ID, next.ID); err != nil {
		return err
	}
	s.logger.Info("ownership transferred",
		slog.String("workspace_id", caller.WorkspaceID),
		slog.String("from", owner.Username),
		slog.String("to", next.Username),
	)
	s.audit.Record(ctx, caller.WorkspaceID, owner.ID, domain.ActionOwnershipTransferred,
		fmt.Sprintf("Ownership transferred from %s to %s", owner.Username, next.Username),
		map[string]any{"previousOwner": owner.ID, "newOwner": next.ID})
	return nil
}

// ResetOwnerPassword is the portal reset of a workspace owner's password
func (s *UserService) ResetOwnerPassword(ctx context.Context, caller Caller, workspaceID string) (*CreatedUser, error) {
	if caller.Role != domain.RoleSuperadmin {
		return nil, domain.NewError(domain.CodeForbidden, "platform admin only")
	}
	owner, err := findOwner(ctx, s.users, workspaceID)
	if err != nil {
		return nil, err
	}
	password, err := s.resetPassword(ctx, owner, ownerPasswordLength)
	if err != nil {
		return nil, err
	}
	s.logger.Info("owner password reset from portal",
		slog.String("workspace_id", workspaceID),
		slog.String("owner", owner.Username),
	)
	s.audit.Record(ctx, workspaceID, caller.UserID, domain.ActionSettingsUpdated,
		fmt.Sprintf("Owner password reset by platform admin for %s", owner.Username),
		map[string]any{"targetUserId": owner.ID})
	owner.MustChangePassword = true
	return &CreatedUser{User: owner, Password: password}, nil
}
