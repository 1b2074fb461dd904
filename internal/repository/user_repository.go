package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/coldtrack/coldtrack/internal/domain"
)

// PostgresUserRepository implements domain.UserRepository using PostgreSQL
type PostgresUserRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresUserRepository creates a new user repository
func NewPostgresUserRepository(db *sql.DB, logger *slog.Logger) *PostgresUserRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresUserRepository{
		db:     db,
		logger: logger,
	}
}

const userColumns = `id, COALESCE(workspace_id, ''), username, name, email, role, is_owner,
	password_hash, password_history, password_changed_at, deactivated, must_change_password,
	consent_accepted, consent_accepted_at, is_temporary, expiry_date, created_at, updated_at`

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		u                              domain.User
		history                        []byte
		changedAt, consentAt, expiryAt sql.NullTime
	)
	err := row.Scan(&u.ID, &u.WorkspaceID, &u.Username, &u.Name, &u.Email, &u.Role, &u.IsOwner,
		&u.PasswordHash, &history, &changedAt, &u.Deactivated, &u.MustChangePassword,
		&u.ConsentAccepted, &consentAt, &u.IsTemporary, &expiryAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := fromJSON(history, &u.PasswordHistory); err != nil {
		return nil, err
	}
	u.PasswordChangedAt = timePtr(changedAt)
	u.ConsentAcceptedAt = timePtr(consentAt)
	u.ExpiryDate = timePtr(expiryAt)
	return &u, nil
}

func (r *PostgresUserRepository) list(ctx context.Context, op, where string, args ...any) ([]*domain.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, args...)
	if err != nil {
		r.logger.Error("failed to list users",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		return nil, storageError(op, err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, storageError(op, err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Create inserts a new user
func (r *PostgresUserRepository) Create(ctx context.Context, user *domain.User) error {
	history, err := toJSON(append([]string{}, user.PasswordHistory...))
	if err != nil {
		return err
	}
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO users (id, workspace_id, username, name, email, role, is_owner, password_hash,
			password_history, deactivated, must_change_password, is_temporary, expiry_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`,
		user.ID,
		nullString(user.WorkspaceID),
		user.Username,
		user.Name,
		user.Email,
		user.Role,
		user.IsOwner,
		user.PasswordHash,
		history,
		user.Deactivated,
		user.MustChangePassword,
		user.IsTemporary,
		nullTime(user.ExpiryDate),
	).Scan(&user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to create user",
			slog.String("username", user.Username),
			slog.String("error", err.Error()),
		)
		return storageError("create user", err)
	}

	return nil
}

// GetByID retrieves a user by ID
func (r *PostgresUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, storageError("get user", err)
	}
	return u, nil
}

// GetByUsername retrieves a user by case-insensitive username within a workspace.
// An empty workspaceID looks among platform users.
func (r *PostgresUserRepository) GetByUsername(ctx context.Context, workspaceID, username string) (*domain.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users
		WHERE COALESCE(workspace_id, '') = $1 AND lower(username) = lower($2)`, workspaceID, username))
	if err != nil {
		return nil, storageError("get user by username", err)
	}
	return u, nil
}

// GetSuperadmin returns the platform superadmin
func (r *PostgresUserRepository) GetSuperadmin(ctx context.Context) (*domain.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users
		WHERE role = $1 ORDER BY created_at LIMIT 1`, domain.RoleSuperadmin))
	if err != nil {
		return nil, storageError("get superadmin", err)
	}
	return u, nil
}

// ListByWorkspace lists all users of a workspace, including deactivated ones
func (r *PostgresUserRepository) ListByWorkspace(ctx context.Context, workspaceID string) ([]*domain.User, error) {
	return r.list(ctx, "list users", `workspace_id = $1 ORDER BY created_at`, workspaceID)
}

// CountActive counts users that are not deactivated
func (r *PostgresUserRepository) CountActive(ctx context.Context, workspaceID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM users WHERE workspace_id = $1 AND deactivated = false`,
		workspaceID).Scan(&n)
	if err != nil {
		return 0, storageError("count users", err)
	}
	return n, nil
}

// UpdatePassword stores a new hash and pushes the previous one onto the bounded history.
// The read and write happen under a row lock so concurrent changes cannot drop a hash.
func (r *PostgresUserRepository) UpdatePassword(ctx context.Context, id, hash string, mustChange bool) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update password: failed to begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		current string
		raw     []byte
		history []string
	)
	if err := tx.QueryRowContext(ctx, `SELECT password_hash, password_history FROM users WHERE id = $1 FOR UPDATE`, id).
		Scan(&current, &raw); err != nil {
		return storageError("update password", err)
	}
	if err := fromJSON(raw, &history); err != nil {
		return err
	}
	history = append([]string{current}, history...)
	if len(history) > domain.PasswordHistoryDepth {
		history = history[:domain.PasswordHistoryDepth]
	}
	encoded, err := toJSON(history)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET password_hash = $1, password_history = $2::jsonb, must_change_password = $3,
			password_changed_at = now(), updated_at = now()
		WHERE id = $4`, hash, encoded, mustChange, id); err != nil {
		return storageError("update password", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("update password: failed to commit: %w", err)
	}
	return nil
}

func (r *PostgresUserRepository) exec(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storageError(op, err)
	}
	return expectOne(res, op)
}

// SetDeactivated suspends or restores a user
func (r *PostgresUserRepository) SetDeactivated(ctx context.Context, id string, deactivated bool) error {
	return r.exec(ctx, "set user deactivated",
		`UPDATE users SET deactivated = $1, updated_at = now() WHERE id = $2`, deactivated, id)
}

// SetRole changes a user's role
func (r *PostgresUserRepository) SetRole(ctx context.Context, id string, role domain.Role) error {
	return r.exec(ctx, "set user role",
		`UPDATE users SET role = $1, updated_at = now() WHERE id = $2`, role, id)
}

// AcceptConsent records the privacy consent timestamp
func (r *PostgresUserRepository) AcceptConsent(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, "accept consent",
		`UPDATE users SET consent_accepted = true, consent_accepted_at = $1, updated_at = now() WHERE id = $2`, at, id)
}

// ListExpiredTemporary returns active temporary users whose expiry has passed
func (r *PostgresUserRepository) ListExpiredTemporary(ctx context.Context, now time.Time) ([]*domain.User, error) {
	return r.list(ctx, "list expired users",
		`is_temporary = true AND deactivated = false AND expiry_date IS NOT NULL AND expiry_date <= $1`, now)
}

// TransferOwnership moves the owner flag between two users of the same workspace in one transaction
func (r *PostgresUserRepository) TransferOwnership(ctx context.Context, workspaceID, fromID, toID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("transfer ownership: failed to begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE users SET is_owner = false, updated_at = now()
		WHERE id = $1 AND workspace_id = $2 AND is_owner = true`, fromID, workspaceID)
	if err != nil {
		return storageError("transfer ownership", err)
	}
	if err := expectOne(res, "transfer ownership"); err != nil {
		return err
	}
	res, err = tx.ExecContext(ctx, `UPDATE users SET is_owner = true, role = $1, updated_at = now()
		WHERE id = $2 AND workspace_id = $3 AND deactivated = false`, domain.RoleAdmin, toID, workspaceID)
	if err != nil {
		return storageError("transfer ownership", err)
	}
	if err := expectOne(res, "transfer ownership"); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("transfer ownership: failed to commit: %w", err)
	}
	return nil
}
