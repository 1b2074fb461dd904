package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/coldtrack/coldtrack/internal/domain"
)

// PostgresWorkspaceRepository implements domain.WorkspaceRepository using PostgreSQL
type PostgresWorkspaceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresWorkspaceRepository creates a new workspace repository
func NewPostgresWorkspaceRepository(db *sql.DB, logger *slog.Logger) *PostgresWorkspaceRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresWorkspaceRepository{db: db, logger: logger}
}

const workspaceColumns = `id, name, slug, status, max_users, max_vehicles, max_questions,
	settings, export_settings, checklist_questions, created_at, updated_at`

func scanWorkspace(row rowScanner) (*domain.Workspace, error) {
	var (
		w                          domain.Workspace
		settings, export, question []byte
	)
	err := row.Scan(&w.ID, &w.Name, &w.Slug, &w.Status, &w.MaxUsers, &w.MaxVehicles, &w.MaxQuestions,
		&settings, &export, &question, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := fromJSON(settings, &w.Settings); err != nil {
		return nil, err
	}
	if err := fromJSON(export, &w.ExportSettings); err != nil {
		return nil, err
	}
	if err := fromJSON(question, &w.ChecklistQuestions); err != nil {
		return nil, err
	}
	return &w, nil
}

// Create inserts a new workspace
func (r *PostgresWorkspaceRepository) Create(ctx context.Context, ws *domain.Workspace) error {
	settings, err := toJSON(ws.Settings)
	if err != nil {
		return err
	}
	export, err := toJSON(ws.ExportSettings)
	if err != nil {
		return err
	}
	questions, err := toJSON(ws.ChecklistQuestions)
	if err != nil {
		return err
	}
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO workspaces (id, name, slug, status, max_users, max_vehicles, max_questions,
			settings, export_settings, checklist_questions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9::jsonb, $10::jsonb)
		RETURNING created_at, updated_at
	`, ws.ID, ws.Name, ws.Slug, ws.Status, ws.MaxUsers, ws.MaxVehicles, ws.MaxQuestions,
		settings, export, questions).Scan(&ws.CreatedAt, &ws.UpdatedAt)
	if err != nil {
		r.logger.Error("failed to create workspace",
			slog.String("slug", ws.Slug),
			slog.String("error", err.Error()),
		)
		return storageError("create workspace", err)
	}
	return nil
}

// GetByID retrieves a workspace by ID
func (r *PostgresWorkspaceRepository) GetByID(ctx context.Context, id string) (*domain.Workspace, error) {
	w, err := scanWorkspace(r.db.QueryRowContext(ctx, `SELECT `+workspaceColumns+` FROM workspaces WHERE id = $1`, id))
	if err != nil {
		return nil, storageError("get workspace", err)
	}
	return w, nil
}

// GetBySlug retrieves a workspace by its unique slug
func (r *PostgresWorkspaceRepository) GetBySlug(ctx context.Context, slug string) (*domain.Workspace, error) {
	w, err := scanWorkspace(r.db.QueryRowContext(ctx, `SELECT `+workspaceColumns+` FROM workspaces WHERE slug = $1`, slug))
	if err != nil {
		return nil, storageError("get workspace by slug", err)
	}
	return w, nil
}

// List returns all workspaces
func (r *PostgresWorkspaceRepository) List(ctx context.Context) ([]*domain.Workspace, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+workspaceColumns+` FROM workspaces ORDER BY created_at`)
	if err != nil {
		return nil, storageError("list workspaces", err)
	}
	defer rows.Close()

	var out []*domain.Workspace
	for rows.Next() {
		w, err := scanWorkspace(rows)
		if err != nil {
			return nil, storageError("list workspaces", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *PostgresWorkspaceRepository) exec(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storageError(op, err)
	}
	return expectOne(res, op)
}

// Update renames a workspace
func (r *PostgresWorkspaceRepository) Update(ctx context.Context, id, name string) error {
	return r.exec(ctx, "update workspace",
		`UPDATE workspaces SET name = $1, updated_at = now() WHERE id = $2`, name, id)
}

// UpdateSettings replaces the compliance settings document
func (r *PostgresWorkspaceRepository) UpdateSettings(ctx context.Context, id string, settings domain.WorkspaceSettings) error {
	s, err := toJSON(settings)
	if err != nil {
		return err
	}
	return r.exec(ctx, "update workspace settings",
		`UPDATE workspaces SET settings = $1::jsonb, updated_at = now() WHERE id = $2`, s, id)
}

// UpdateChecklistQuestions replaces the checklist
func (r *PostgresWorkspaceRepository) UpdateChecklistQuestions(ctx context.Context, id string, questions []string) error {
	q, err := toJSON(questions)
	if err != nil {
		return err
	}
	return r.exec(ctx, "update checklist",
		`UPDATE workspaces SET checklist_questions = $1::jsonb, updated_at = now() WHERE id = $2`, q, id)
}

// UpdateExportSettings replaces the export schedule
func (r *PostgresWorkspaceRepository) UpdateExportSettings(ctx context.Context, id string, settings domain.ExportSettings) error {
	s, err := toJSON(settings)
	if err != nil {
		return err
	}
	return r.exec(ctx, "update export settings",
		`UPDATE workspaces SET export_settings = $1::jsonb, updated_at = now() WHERE id = $2`, s, id)
}

// SetLimits stores the plan limits
func (r *PostgresWorkspaceRepository) SetLimits(ctx context.Context, id string, maxUsers, maxVehicles, maxQuestions int) error {
	return r.exec(ctx, "set workspace limits",
		`UPDATE workspaces SET max_users = $1, max_vehicles = $2, max_questions = $3, updated_at = now() WHERE id = $4`,
		maxUsers, maxVehicles, maxQuestions, id)
}

// SetStatus suspends or activates a workspace
func (r *PostgresWorkspaceRepository) SetStatus(ctx context.Context, id string, status domain.WorkspaceStatus) error {
	return r.exec(ctx, "set workspace status",
		`UPDATE workspaces SET status = $1, updated_at = now() WHERE id = $2`, status, id)
}
