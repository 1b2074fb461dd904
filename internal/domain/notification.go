package domain

import (
	"context"
	"time"
)

// NotificationType classifies an in-app notification
type NotificationType string

const (
	NotifyOverdueVehicle  NotificationType = "overdue_vehicle"
	NotifyException       NotificationType = "exception"
	NotifySignOffRequired NotificationType = "signoff_required"
	NotifySystem          NotificationType = "system"
)

// Notification is shown to office and admin users of a workspace
type Notification struct {
	ID          string           `json:"id"`
	WorkspaceID string           `json:"workspaceId"`
	Type        NotificationType `json:"type"`
	Title       string           `json:"title"`
	Body        string           `json:"body,omitempty"`
	VehicleID   string           `json:"vehicleId,omitempty"`
	DriverID    string           `json:"driverId,omitempty"`
	Read        bool             `json:"read"`
	ReadAt      *time.Time       `json:"readAt,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// NotificationRepository defines data access for notifications
type NotificationRepository interface {
	Create(ctx context.Context, n *Notification) error
	ListByWorkspace(ctx context.Context, workspaceID string, limit int) ([]*Notification, error)
	UnreadCount(ctx context.Context, workspaceID string) (int, error)
	HasRecentUnread(ctx context.Context, workspaceID string, typ NotificationType, vehicleID string, since time.Time) (bool, error)
	MarkRead(ctx context.Context, workspaceID, id string) error
	MarkAllRead(ctx context.Context, workspaceID string) error
}
