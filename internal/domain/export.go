package domain

import (
	"context"
	"time"
)

// ExportType is the period an export covers, or manual
type ExportType string

const (
	ExportWeekly      ExportType = "weekly"
	ExportFortnightly ExportType = "fortnightly"
	ExportMonthly     ExportType = "monthly"
	ExportManual      ExportType = "manual"
)

// ExportStatus tracks an export record
type ExportStatus string

const (
	ExportPending  ExportStatus = "pending"
	ExportComplete ExportStatus = "complete"
	ExportFailed   ExportStatus = "failed"
)

// Export records one compliance pack generation
type Export struct {
	ID          string       `json:"id"`
	WorkspaceID string       `json:"workspaceId"`
	Type        ExportType   `json:"type"`
	PeriodStart string       `json:"periodStart"`
	PeriodEnd   string       `json:"periodEnd"`
	CreatedBy   string       `json:"createdBy,omitempty"` // empty for scheduled runs
	Status      ExportStatus `json:"status"`
	Artifacts   []string     `json:"artifacts"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	CompletedAt *time.Time   `json:"completedAt,omitempty"`
}

// ExportRepository defines data access for export records
type ExportRepository interface {
	Create(ctx context.Context, e *Export) error
	Complete(ctx context.Context, workspaceID, id string, artifacts []string, at time.Time) error
	Fail(ctx context.Context, workspaceID, id, reason string) error
	ListByWorkspace(ctx context.Context, workspaceID string) ([]*Export, error)
	GetByID(ctx context.Context, workspaceID, id string) (*Export, error)
}

// BackupUser carries credential material that the public User encoding omits
type BackupUser struct {
	User
	PasswordHash string `json:"passwordHash"`
}

// Backup is a full JSON snapshot of one workspace
type Backup struct {
	Version    int          `json:"version"`
	ExportedAt time.Time    `json:"exportedAt"`
	ExportedBy string       `json:"exportedBy"`
	Workspace  *Workspace   `json:"workspace"`
	Users      []BackupUser `json:"users"`
	Vehicles   []*Vehicle   `json:"vehicles"`
	Logs       []*Log       `json:"logs"`
}

// LeaseRepository hands out short-lived exclusive keys
type LeaseRepository interface {
	// Acquire returns true when this caller now holds key
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}
