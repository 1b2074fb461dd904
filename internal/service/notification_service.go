package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/coldtrack/coldtrack/internal/domain"
	"github.com/coldtrack/coldtrack/internal/observability/metrics"
)

const defaultNotificationLimit = 50

// NotificationService creates and serves in-app notifications for office and admin users
type NotificationService struct {
	repo   domain.NotificationRepository
	leases domain.LeaseRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewNotificationService creates a notification service. leases may be nil, in which case
// de-duplication falls back to the notification table.
func NewNotificationService(repo domain.NotificationRepository, leases domain.LeaseRepository, logger *slog.Logger) *NotificationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationService{repo: repo, leases: leases, logger: logger, now: time.Now}
}

// Notify stores a notification. A failure is logged and returned; transition callers ignore it.
func (s *NotificationService) Notify(ctx context.Context, n *domain.Notification) error {
	if n.ID == "" {
		n.ID = newID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}
	if err := s.repo.Create(ctx, n); err != nil {
		s.logger.Error("failed to create notification",
			slog.String("workspace_id", n.WorkspaceID),
			slog.String("type", string(n.Type)),
			slog.String("error", err.Error()),
		)
		return err
	}
	metrics.ObserveNotification(string(n.Type))
	return nil
}

// NotifyOnce stores n unless the same key was notified within window. It reports whether a
// notification was created. A failed insert gives the key back so the next sweep retries.
func (s *NotificationService) NotifyOnce(ctx context.Context, key string, window time.Duration, n *domain.Notification) (bool, error) {
	if s.leases != nil {
		ok, err := s.leases.Acquire(ctx, key, window)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	} else {
		recent, err := s.repo.HasRecentUnread(ctx, n.WorkspaceID, n.Type, n.VehicleID, s.now().Add(-window))
		if err != nil {
			return false, err
		}
		if recent {
			return false, nil
		}
	}
	if err := s.Notify(ctx, n); err != nil {
		if s.leases != nil {
			if rerr := s.leases.Release(ctx, key); rerr != nil {
				s.logger.Warn("failed to release notification lease", slog.String("key", key), slog.String("error", rerr.Error()))
			}
		}
		return false, err
	}
	return true, nil
}

// List returns the newest notifications of a workspace
func (s *NotificationService) List(ctx context.Context, caller Caller, limit int) ([]*domain.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = defaultNotificationLimit
	}
	return s.repo.ListByWorkspace(ctx, caller.WorkspaceID, limit)
}

// UnreadCount returns the number of unread notifications
func (s *NotificationService) UnreadCount(ctx context.Context, caller Caller) (int, error) {
	return s.repo.UnreadCount(ctx, caller.WorkspaceID)
}

// MarkRead marks one notification as read
func (s *NotificationService) MarkRead(ctx context.Context, caller Caller, id string) error {
	return s.repo.MarkRead(ctx, caller.WorkspaceID, id)
}

// MarkAllRead marks every notification of the workspace as read
func (s *NotificationService) MarkAllRead(ctx context.Context, caller Caller) error {
	return s.repo.MarkAllRead(ctx, caller.WorkspaceID)
}
