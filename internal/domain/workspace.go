package domain

import (
	"context"
	"time"
)

// WorkspaceStatus is the lifecycle state of a tenant
type WorkspaceStatus string

const (
	WorkspaceActive    WorkspaceStatus = "active"
	WorkspaceSuspended WorkspaceStatus = "suspended"
)

// TempRange bounds a zone's acceptable temperature. Either side may be open.
type TempRange struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// SignOffSettings configures the weekly admin sign-off
type SignOffSettings struct {
	DayOfWeek        *int  `json:"dayOfWeek,omitempty"` // 0 = Sunday
	RequireOdometer  *bool `json:"requireOdometer,omitempty"`
	RequireSignature *bool `json:"requireSignature,omitempty"`
}

// WorkspaceSettings is the raw tenant configuration as stored. Unset fields take defaults
// when resolved.
type WorkspaceSettings struct {
	Timezone         string             `json:"timezone,omitempty"`
	SignOff          SignOffSettings    `json:"signoff"`
	OverdueMinutes   *int               `json:"overdueMinutes,omitempty"`
	TempRanges       map[Zone]TempRange `json:"tempRanges,omitempty"`
	RetentionEnabled bool               `json:"retentionEnabled"`
	RetentionDays    *int               `json:"retentionDays,omitempty"`
}

// ExportSettings configures scheduled compliance exports
type ExportSettings struct {
	Frequency   string   `json:"frequency,omitempty"`   // weekly, fortnightly, monthly or empty
	ScheduleDay string   `json:"scheduleDay,omitempty"` // sunday..saturday
	Recipients  []string `json:"recipients,omitempty"`
}

// Workspace is a tenant
type Workspace struct {
	ID                 string            `json:"id"`
	Name               string            `json:"name"`
	Slug               string            `json:"slug"`
	Status             WorkspaceStatus   `json:"status"`
	MaxUsers           int               `json:"maxUsers"`
	MaxVehicles        int               `json:"maxVehicles"`
	MaxQuestions       int               `json:"maxQuestions"`
	Settings           WorkspaceSettings `json:"settings"`
	ExportSettings     ExportSettings    `json:"exportSettings"`
	ChecklistQuestions []string          `json:"checklistQuestions"`
	CreatedAt          time.Time         `json:"createdAt"`
	UpdatedAt          time.Time         `json:"updatedAt"`
}

// Active reports whether the workspace accepts activity
func (w *Workspace) Active() bool {
	return w != nil && w.Status != WorkspaceSuspended
}

// WorkspaceRepository defines data access for workspaces
type WorkspaceRepository interface {
	Create(ctx context.Context, ws *Workspace) error
	GetByID(ctx context.Context, id string) (*Workspace, error)
	GetBySlug(ctx context.Context, slug string) (*Workspace, error)
	List(ctx context.Context) ([]*Workspace, error)
	Update(ctx context.Context, id, name string) error
	UpdateSettings(ctx context.Context, id string, settings WorkspaceSettings) error
	UpdateChecklistQuestions(ctx context.Context, id string, questions []string) error
	UpdateExportSettings(ctx context.Context, id string, settings ExportSettings) error
	SetLimits(ctx context.Context, id string, maxUsers, maxVehicles, maxQuestions int) error
	SetStatus(ctx context.Context, id string, status WorkspaceStatus) error
}
