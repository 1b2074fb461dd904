package domain

import (
	"context"
	"time"
)

// Role is a user's access level
type Role string

const (
	RoleDriver     Role = "driver"
	RoleOffice     Role = "office"
	RoleAdmin      Role = "admin"
	RoleSuperadmin Role = "superadmin"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	switch r {
	case RoleDriver, RoleOffice, RoleAdmin, RoleSuperadmin:
		return true
	}
	return false
}

// PasswordHistoryDepth is how many previous hashes are kept for reuse checks
const PasswordHistoryDepth = 3

// User represents a workspace member or a platform superadmin
type User struct {
	ID                 string     `json:"id"`
	WorkspaceID        string     `json:"workspaceId,omitempty"` // empty for superadmin
	Username           string     `json:"username"`
	Name               string     `json:"name"`
	Email              string     `json:"email,omitempty"`
	Role               Role       `json:"role"`
	IsOwner            bool       `json:"isOwner"`
	PasswordHash       string     `json:"-"`
	PasswordHistory    []string   `json:"-"` // most recent first
	PasswordChangedAt  *time.Time `json:"passwordChangedAt,omitempty"`
	Deactivated        bool       `json:"deactivated"`
	MustChangePassword bool       `json:"mustChangePassword"`
	ConsentAccepted    bool       `json:"consentAccepted"`
	ConsentAcceptedAt  *time.Time `json:"consentAcceptedAt,omitempty"`
	IsTemporary        bool       `json:"isTemporary"`
	ExpiryDate         *time.Time `json:"expiryDate,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// DisplayName prefers the full name and falls back to the username
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Username
}

// UserRepository defines data access for users
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	// GetByUsername looks up within a workspace. An empty workspaceID searches platform users.
	GetByUsername(ctx context.Context, workspaceID, username string) (*User, error)
	GetSuperadmin(ctx context.Context) (*User, error)
	ListByWorkspace(ctx context.Context, workspaceID string) ([]*User, error)
	CountActive(ctx context.Context, workspaceID string) (int, error)
	// UpdatePassword stores the new hash and pushes the old one onto the bounded history.
	UpdatePassword(ctx context.Context, id, hash string, mustChange bool) error
	SetDeactivated(ctx context.Context, id string, deactivated bool) error
	SetRole(ctx context.Context, id string, role Role) error
	TransferOwnership(ctx context.Context, workspaceID, fromID, toID string) error
	AcceptConsent(ctx context.Context, id string, at time.Time) error
	ListExpiredTemporary(ctx context.Context, now time.Time) ([]*User, error)
}
