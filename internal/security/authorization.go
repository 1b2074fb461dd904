package security

import (
	"log/slog"

	"github.com/coldtrack/coldtrack/internal/domain"
)

// Permission represents an action permission
type Permission string

const (
	PermRecordTemps     Permission = "record_temps"
	PermViewDashboard   Permission = "view_dashboard"
	PermAddWeekNote     Permission = "add_week_note"
	PermSignOff         Permission = "sign_off"
	PermManageVehicles  Permission = "manage_vehicles"
	PermServiceVehicles Permission = "service_vehicles"
	PermManageUsers     Permission = "manage_users"
	PermManageSettings  Permission = "manage_settings"
	PermManageExports   Permission = "manage_exports"
	PermViewAuditLog    Permission = "view_audit_log"
	PermManagePlatform  Permission = "manage_platform"
)

// RolePermissions maps roles to their permissions
var RolePermissions = map[domain.Role][]Permission{
	domain.RoleDriver: {
		PermRecordTemps,
	},
	domain.RoleOffice: {
		PermRecordTemps,
		PermViewDashboard,
		PermAddWeekNote,
		PermServiceVehicles,
		PermManageExports,
		PermViewAuditLog,
	},
	domain.RoleAdmin: {
		PermRecordTemps,
		PermViewDashboard,
		PermAddWeekNote,
		PermSignOff,
		PermManageVehicles,
		PermServiceVehicles,
		PermManageUsers,
		PermManageSettings,
		PermManageExports,
		PermViewAuditLog,
	},
	domain.RoleSuperadmin: {
		PermManagePlatform,
	},
}

// AuthorizationService handles authorization checks
type AuthorizationService struct {
	logger *slog.Logger
}

// NewAuthorizationService creates a new authorization service
func NewAuthorizationService(logger *slog.Logger) *AuthorizationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthorizationService{
		logger: logger,
	}
}

// HasPermission checks if a role has a specific permission
func (as *AuthorizationService) HasPermission(role domain.Role, permission Permission) bool {
	permissions, exists := RolePermissions[role]
	if !exists {
		return false
	}
	for _, p := range permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// ValidatePermission validates that a role has a specific permission
func (as *AuthorizationService) ValidatePermission(role domain.Role, permission Permission) error {
	if !as.HasPermission(role, permission) {
		as.logger.Warn("permission denied",
			slog.String("role", string(role)),
			slog.String("permission", string(permission)),
		)
		return domain.WithMetadata(domain.CodeForbidden, "permission denied",
			map[string]string{"role": string(role), "permission": string(permission)})
	}
	return nil
}

// GetRolePermissions returns all permissions for a role
func (as *AuthorizationService) GetRolePermissions(role domain.Role) []Permission {
	return RolePermissions[role]
}

// ValidateWorkspaceAccess checks that a caller belongs to the workspace they address
func (as *AuthorizationService) ValidateWorkspaceAccess(callerWorkspaceID, requestedWorkspaceID string) error {
	if callerWorkspaceID == "" || callerWorkspaceID != requestedWorkspaceID {
		as.logger.Warn("workspace access denied",
			slog.String("caller_workspace", callerWorkspaceID),
			slog.String("requested_workspace", requestedWorkspaceID),
		)
		return domain.NewError(domain.CodeForbidden, "access denied: wrong workspace")
	}
	return nil
}
