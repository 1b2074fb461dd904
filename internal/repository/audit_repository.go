package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/coldtrack/coldtrack/internal/domain"
)

// PostgresAuditRepository implements domain.AuditRepository on the workspace_logs table
type PostgresAuditRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresAuditRepository creates a new activity log repository
func NewPostgresAuditRepository(db *sql.DB, logger *slog.Logger) *PostgresAuditRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresAuditRepository{db: db, logger: logger}
}

// Append writes one activity entry
func (r *PostgresAuditRepository) Append(ctx context.Context, entry *domain.AuditEntry) error {
	meta := entry.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	encoded, err := toJSON(meta)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workspace_logs (id, workspace_id, user_id, action_type, description, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
	`, entry.ID, entry.WorkspaceID, entry.UserID, entry.ActionType, entry.Description, encoded, entry.CreatedAt)
	if err != nil {
		return storageError("append audit entry", err)
	}
	return nil
}

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// auditWhere builds the WHERE clause for a filtered activity listing
func auditWhere(workspaceID string, f domain.AuditFilter, p *placeholders) string {
	conds := []string{"workspace_id = " + p.add(workspaceID)}
	if f.ActionType != "" {
		conds = append(conds, "action_type = "+p.add(string(f.ActionType)))
	}
	if f.UserID != "" {
		conds = append(conds, "user_id = "+p.add(f.UserID))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		conds = append(conds, "description ILIKE "+p.add("%"+s+"%"))
	}
	if f.DateFrom != "" {
		conds = append(conds, "created_at >= "+p.add(f.DateFrom)+"::date")
	}
	if f.DateTo != "" {
		conds = append(conds, "created_at < "+p.add(f.DateTo)+"::date + 1")
	}
	return strings.Join(conds, " AND ")
}

func auditLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultAuditLimit
	case limit > maxAuditLimit:
		return maxAuditLimit
	}
	return limit
}

// ListByWorkspace returns a page of entries, newest first, and the total matching count
func (r *PostgresAuditRepository) ListByWorkspace(ctx context.Context, workspaceID string, f domain.AuditFilter) ([]*domain.AuditEntry, int, error) {
	var p placeholders
	where := auditWhere(workspaceID, f, &p)

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM workspace_logs WHERE `+where, p.args...).Scan(&total); err != nil {
		return nil, 0, storageError("count audit entries", err)
	}

	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	query := fmt.Sprintf(`SELECT id, workspace_id, user_id, action_type, description, metadata, created_at
		FROM workspace_logs WHERE %s ORDER BY created_at DESC LIMIT %s OFFSET %s`,
		where, p.add(auditLimit(f.Limit)), p.add(offset))

	rows, err := r.db.QueryContext(ctx, query, p.args...)
	if err != nil {
		r.logger.Error("failed to list audit entries",
			slog.String("workspace_id", workspaceID),
			slog.String("error", err.Error()),
		)
		return nil, 0, storageError("list audit entries", err)
	}
	defer rows.Close()

	var out []*domain.AuditEntry
	for rows.Next() {
		var (
			e    domain.AuditEntry
			meta []byte
		)
		if err := rows.Scan(&e.ID, &e.WorkspaceID, &e.UserID, &e.ActionType, &e.Description, &meta, &e.CreatedAt); err != nil {
			return nil, 0, storageError("list audit entries", err)
		}
		if err := fromJSON(meta, &e.Metadata); err != nil {
			return nil, 0, err
		}
		out = append(out, &e)
	}
	return out, total, rows.Err()
}
