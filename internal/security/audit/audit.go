package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/coldtrack/coldtrack/internal/domain"
)

type requestIDKey struct{}

// WithRequestID stores the request id so audit lines can be correlated with access logs
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request id stored by WithRequestID
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// Logger writes workspace activity to the structured log and to the activity table.
// Storage failures are logged and never returned to the caller.
type Logger struct {
	logger *slog.Logger
	repo   domain.AuditRepository
	now    func() time.Time
}

func NewLogger(logger *slog.Logger, repo domain.AuditRepository) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{logger: logger, repo: repo, now: time.Now}
}

// Record appends an activity entry
func (al *Logger) Record(ctx context.Context, workspaceID, userID string, action domain.AuditAction, description string, metadata map[string]any) {
	entry := &domain.AuditEntry{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		UserID:      userID,
		ActionType:  action,
		Description: description,
		Metadata:    metadata,
		CreatedAt:   al.now().UTC(),
	}

	al.logger.Info("audit",
		slog.String("action", string(action)),
		slog.String("workspace_id", workspaceID),
		slog.String("user_id", userID),
		slog.String("details", description),
		slog.String("request_id", RequestID(ctx)),
	)

	if al.repo == nil || workspaceID == "" {
		return
	}
	if err := al.repo.Append(ctx, entry); err != nil {
		al.logger.Error("failed to persist audit entry",
			slog.String("action", string(action)),
			slog.String("workspace_id", workspaceID),
			slog.String("error", err.Error()),
		)
	}
}

// LogRequest records an incoming mutating API call in the structured log only
func (al *Logger) LogRequest(ctx context.Context, workspaceID, userID, method, path string) {
	al.logger.Info("api request",
		slog.String("method", method),
		slog.String("path", path),
		slog.String("workspace_id", workspaceID),
		slog.String("user_id", userID),
		slog.String("request_id", RequestID(ctx)),
	)
}

// LogDenied records a refused request
func (al *Logger) LogDenied(ctx context.Context, workspaceID, userID, reason string) {
	al.logger.Warn("access denied",
		slog.String("workspace_id", workspaceID),
		slog.String("user_id", userID),
		slog.String("reason", reason),
		slog.String("request_id", RequestID(ctx)),
	)
}
