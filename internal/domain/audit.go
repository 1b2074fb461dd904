package domain

import (
	"context"
	"time"
)

// AuditAction is the type of a workspace activity entry
type AuditAction string

const (
	ActionLogin                 AuditAction = "login"
	ActionUserCreated           AuditAction = "user_created"
	ActionUserSuspended         AuditAction = "user_suspended"
	ActionUserSuspensionLifted  AuditAction = "user_suspension_lifted"
	ActionAssetCreated          AuditAction = "asset_created"
	ActionAssetSuspended        AuditAction = "asset_suspended"
	ActionAssetSuspensionLifted AuditAction = "asset_suspension_lifted"
	ActionTempLogged            AuditAction = "temp_logged"
	ActionShiftEnded            AuditAction = "shift_ended"
	ActionSignOffCompleted      AuditAction = "signoff_completed"
	ActionWorkspaceUpdated      AuditAction = "workspace_updated"
	ActionLimitsUpdated         AuditAction = "limits_updated"
	ActionRoleChanged           AuditAction = "role_changed"
	ActionSettingsUpdated       AuditAction = "settings_updated"
	ActionBackupExported        AuditAction = "backup_exported"
	ActionBackupRestored        AuditAction = "backup_restored"
	ActionExceptionFlagged      AuditAction = "exception_flagged"
	ActionOwnershipTransferred  AuditAction = "ownership_transferred"
	ActionChecklistCompleted    AuditAction = "checklist_completed"
	ActionRetentionPurged       AuditAction = "retention_purged"
	ActionExportGenerated       AuditAction = "export_generated"
)

// AuditEntry is one line of a workspace's activity log
type AuditEntry struct {
	ID          string         `json:"id"`
	WorkspaceID string         `json:"workspaceId"`
	UserID      string         `json:"userId,omitempty"`
	ActionType  AuditAction    `json:"actionType"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// AuditFilter narrows an activity listing. Zero values mean no constraint.
type AuditFilter struct {
	ActionType AuditAction
	UserID     string
	Search     string
	DateFrom   string // YYYY-MM-DD inclusive
	DateTo     string // YYYY-MM-DD inclusive
	Limit      int
	Offset     int
}

// AuditRepository defines data access for the activity log
type AuditRepository interface {
	Append(ctx context.Context, entry *AuditEntry) error
	// ListByWorkspace returns a page of entries, newest first, plus the total matching count.
	ListByWorkspace(ctx context.Context, workspaceID string, filter AuditFilter) ([]*AuditEntry, int, error)
}
