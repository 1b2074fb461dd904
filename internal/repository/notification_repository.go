package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/coldtrack/coldtrack/internal/domain"
)

// PostgresNotificationRepository implements domain.NotificationRepository using PostgreSQL
type PostgresNotificationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresNotificationRepository creates a new notification repository
func NewPostgresNotificationRepository(db *sql.DB, logger *slog.Logger) *PostgresNotificationRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresNotificationRepository{db: db, logger: logger}
}

// Create stores a notification
func (r *PostgresNotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications (id, workspace_id, type, title, body, vehicle_id, driver_id, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8)
	`, n.ID, n.WorkspaceID, n.Type, n.Title, n.Body, n.VehicleID, n.DriverID, n.CreatedAt)
	if err != nil {
		return storageError("create notification", err)
	}
	return nil
}

// ListByWorkspace returns the newest notifications first
func (r *PostgresNotificationRepository) ListByWorkspace(ctx context.Context, workspaceID string, limit int) ([]*domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, workspace_id, type, title, body, vehicle_id, driver_id, read, read_at, created_at
		FROM notifications WHERE workspace_id = $1
		ORDER BY created_at DESC LIMIT $2`, workspaceID, limit)
	if err != nil {
		return nil, storageError("list notifications", err)
	}
	defer rows.Close()

	var out []*domain.Notification
	for rows.Next() {
		var (
			n      domain.Notification
			readAt sql.NullTime
		)
		if err := rows.Scan(&n.ID, &n.WorkspaceID, &n.Type, &n.Title, &n.Body, &n.VehicleID, &n.DriverID,
			&n.Read, &readAt, &n.CreatedAt); err != nil {
			return nil, storageError("list notifications", err)
		}
		n.ReadAt = timePtr(readAt)
		out = append(out, &n)
	}
	return out, rows.Err()
}

// UnreadCount counts unread notifications
func (r *PostgresNotificationRepository) UnreadCount(ctx context.Context, workspaceID string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM notifications WHERE workspace_id = $1 AND read = false`,
		workspaceID).Scan(&n); err != nil {
		return 0, storageError("count notifications", err)
	}
	return n, nil
}

// HasRecentUnread reports whether an unread notification of the same kind exists since the given time
func (r *PostgresNotificationRepository) HasRecentUnread(ctx context.Context, workspaceID string, typ domain.NotificationType, vehicleID string, since time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (
		SELECT 1 FROM notifications
		WHERE workspace_id = $1 AND type = $2 AND vehicle_id = $3 AND read = false AND created_at >= $4)`,
		workspaceID, typ, vehicleID, since).Scan(&exists)
	if err != nil {
		return false, storageError("check recent notifications", err)
	}
	return exists, nil
}

// MarkRead marks one notification read
func (r *PostgresNotificationRepository) MarkRead(ctx context.Context, workspaceID, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE notifications SET read = true, read_at = COALESCE(read_at, now())
		WHERE workspace_id = $1 AND id = $2`, workspaceID, id)
	if err != nil {
		return storageError("mark notification read", err)
	}
	return expectOne(res, "mark notification read")
}

// MarkAllRead marks every unread notification of a workspace read
func (r *PostgresNotificationRepository) MarkAllRead(ctx context.Context, workspaceID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE notifications SET read = true, read_at = now()
		WHERE workspace_id = $1 AND read = false`, workspaceID)
	if err != nil {
		return storageError("mark all notifications read", err)
	}
	return nil
}
