package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/coldtrack/coldtrack/internal/domain"
)

// PostgresExportRepository implements domain.ExportRepository using PostgreSQL
type PostgresExportRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresExportRepository creates a new export record repository
func NewPostgresExportRepository(db *sql.DB, logger *slog.Logger) *PostgresExportRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresExportRepository{db: db, logger: logger}
}

const exportColumns = `id, workspace_id, type, to_char(period_start, 'YYYY-MM-DD'), to_char(period_end, 'YYYY-MM-DD'),
	created_by, status, artifacts, error, created_at, completed_at`

func scanExport(row rowScanner) (*domain.Export, error) {
	var (
		e         domain.Export
		artifacts []byte
		completed sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.WorkspaceID, &e.Type, &e.PeriodStart, &e.PeriodEnd,
		&e.CreatedBy, &e.Status, &artifacts, &e.Error, &e.CreatedAt, &completed); err != nil {
		return nil, err
	}
	if err := fromJSON(artifacts, &e.Artifacts); err != nil {
		return nil, err
	}
	e.CompletedAt = timePtr(completed)
	return &e, nil
}

// Create records a pending export. This insert is the commit point of a scheduled run.
func (r *PostgresExportRepository) Create(ctx context.Context, e *domain.Export) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO exports (id, workspace_id, type, period_start, period_end, created_by, status, artifacts, created_at)
		VALUES ($1, $2, $3, $4::date, $5::date, $6, $7, '[]'::jsonb, $8)
	`, e.ID, e.WorkspaceID, e.Type, e.PeriodStart, e.PeriodEnd, e.CreatedBy, e.Status, e.CreatedAt)
	if err != nil {
		return storageError("create export", err)
	}
	return nil
}

// Complete marks an export finished with its artifact paths
func (r *PostgresExportRepository) Complete(ctx context.Context, workspaceID, id string, artifacts []string, at time.Time) error {
	encoded, err := toJSON(append([]string{}, artifacts...))
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE exports SET status = $1, artifacts = $2::jsonb, completed_at = $3, error = ''
		WHERE workspace_id = $4 AND id = $5`, domain.ExportComplete, encoded, at, workspaceID, id)
	if err != nil {
		return storageError("complete export", err)
	}
	return expectOne(res, "complete export")
}

// Fail marks an export failed with a reason
func (r *PostgresExportRepository) Fail(ctx context.Context, workspaceID, id, reason string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE exports SET status = $1, error = $2
		WHERE workspace_id = $3 AND id = $4`, domain.ExportFailed, reason, workspaceID, id)
	if err != nil {
		return storageError("fail export", err)
	}
	return expectOne(res, "fail export")
}

// ListByWorkspace returns export records newest first
func (r *PostgresExportRepository) ListByWorkspace(ctx context.Context, workspaceID string) ([]*domain.Export, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+exportColumns+` FROM exports
		WHERE workspace_id = $1 ORDER BY created_at DESC`, workspaceID)
	if err != nil {
		return nil, storageError("list exports", err)
	}
	defer rows.Close()

	var out []*domain.Export
	for rows.Next() {
		e, err := scanExport(rows)
		if err != nil {
			return nil, storageError("list exports", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetByID returns one export record
func (r *PostgresExportRepository) GetByID(ctx context.Context, workspaceID, id string) (*domain.Export, error) {
	e, err := scanExport(r.db.QueryRowContext(ctx, `SELECT `+exportColumns+` FROM exports
		WHERE workspace_id = $1 AND id = $2`, workspaceID, id))
	if err != nil {
		return nil, storageError("get export", err)
	}
	return e, nil
}
