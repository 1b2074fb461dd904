package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/coldtrack/coldtrack/internal/domain"
	"github.com/coldtrack/coldtrack/internal/service"
)

// Inbox is the office notification feed
type Inbox interface {
	List(ctx context.Context, caller service.Caller, limit int) ([]*domain.Notification, error)
	UnreadCount(ctx context.Context, caller service.Caller) (int, error)
	MarkRead(ctx context.Context, caller service.Caller, id string) error
	MarkAllRead(ctx context.Context, caller service.Caller) error
}

// NotificationHandler serves the notification feed
type NotificationHandler struct {
	inbox  Inbox
	logger *slog.Logger
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(inbox Inbox, logger *slog.Logger) *NotificationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationHandler{inbox: inbox, logger: logger}
}

// List handles GET /api/notifications
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.inbox.List(r.Context(), callerFrom(r), queryInt(r, "limit"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": list})
}

// UnreadCount handles GET /api/notifications/unread-count
func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.inbox.UnreadCount(r.Context(), callerFrom(r))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

// MarkRead handles POST /api/notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	if err := h.inbox.MarkRead(r.Context(), callerFrom(r), r.PathValue("id")); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse)
}

// MarkAllRead handles POST /api/notifications/read-all
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	if err := h.inbox.MarkAllRead(r.Context(), callerFrom(r)); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse)
}
