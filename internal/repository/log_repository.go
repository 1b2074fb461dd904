package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/coldtrack/coldtrack/internal/compliance"
	"github.com/coldtrack/coldtrack/internal/domain"
)

// PostgresLogRepository implements domain.LogRepository using PostgreSQL
type PostgresLogRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresLogRepository creates a new temperature log repository
func NewPostgresLogRepository(db *sql.DB, logger *slog.Logger) *PostgresLogRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresLogRepository{db: db, logger: logger}
}

const logColumns = `id, workspace_id, vehicle_id, driver_id, to_char(log_date, 'YYYY-MM-DD'),
	temps, checklist_done, checklist, checklist_snapshot, checklist_time,
	shift_done, odometer, signature, shift_end_time,
	admin_signature, admin_signed_by, admin_signed_at, ip_address, user_agent,
	comments, version, created_at, updated_at`

func scanLog(row rowScanner) (*domain.Log, error) {
	var (
		l                                       domain.Log
		temps, checklist, snapshot              []byte
		checklistTime, shiftEndTime, adminSigAt sql.NullTime
	)
	err := row.Scan(
		&l.ID, &l.WorkspaceID, &l.VehicleID, &l.DriverID, &l.Date,
		&temps, &l.ChecklistDone, &checklist, &snapshot, &checklistTime,
		&l.ShiftDone, &l.Odometer, &l.Signature, &shiftEndTime,
		&l.AdminSignature, &l.AdminSignedBy, &adminSigAt, &l.IPAddress, &l.UserAgent,
		&l.Comments, &l.Version, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := fromJSON(temps, &l.Temps); err != nil {
		return nil, err
	}
	if err := fromJSON(checklist, &l.Checklist); err != nil {
		return nil, err
	}
	if err := fromJSON(snapshot, &l.ChecklistSnapshot); err != nil {
		return nil, err
	}
	l.ChecklistTime = timePtr(checklistTime)
	l.ShiftEndTime = timePtr(shiftEndTime)
	l.AdminSignedAt = timePtr(adminSigAt)
	if l.Temps == nil {
		l.Temps = []domain.Reading{}
	}
	return &l, nil
}

func (r *PostgresLogRepository) queryLogs(ctx context.Context, op, where string, args ...any) ([]*domain.Log, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+logColumns+` FROM temp_logs WHERE `+where, args...)
	if err != nil {
		r.logger.Error("failed to list logs",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		return nil, storageError(op, err)
	}
	defer rows.Close()

	var out []*domain.Log
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, storageError(op, err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// CreateOrGet inserts the log unless the (workspace, vehicle, date) key already exists,
// then returns whichever row is stored.
func (r *PostgresLogRepository) CreateOrGet(ctx context.Context, log *domain.Log) (*domain.Log, bool, error) {
	temps, err := toJSON(log.Temps)
	if err != nil {
		return nil, false, err
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO temp_logs (id, workspace_id, vehicle_id, driver_id, log_date, temps, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::date, $6::jsonb, $7, $8, $9)
		ON CONFLICT (workspace_id, vehicle_id, log_date) DO NOTHING
	`, log.ID, log.WorkspaceID, log.VehicleID, log.DriverID, log.Date, temps, log.Version, log.CreatedAt, log.UpdatedAt)
	if err != nil {
		return nil, false, storageError("create log", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("create log: failed to check rows affected: %w", err)
	}

	stored, err := r.GetByKey(ctx, log.WorkspaceID, log.VehicleID, log.Date)
	if err != nil {
		return nil, false, err
	}
	return stored, n == 1, nil
}

// GetByKey returns the log for a vehicle on a local date
func (r *PostgresLogRepository) GetByKey(ctx context.Context, workspaceID, vehicleID, date string) (*domain.Log, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+logColumns+` FROM temp_logs
		WHERE workspace_id = $1 AND vehicle_id = $2 AND log_date = $3::date`, workspaceID, vehicleID, date)
	l, err := scanLog(row)
	if err != nil {
		return nil, storageError("get log", err)
	}
	return l, nil
}

// GetByID returns a log by ID within a workspace
func (r *PostgresLogRepository) GetByID(ctx context.Context, workspaceID, id string) (*domain.Log, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+logColumns+` FROM temp_logs
		WHERE workspace_id = $1 AND id = $2`, workspaceID, id)
	l, err := scanLog(row)
	if err != nil {
		return nil, storageError("get log", err)
	}
	return l, nil
}

// Apply persists the fields a transition touched. The row must still carry expectedVersion
// and still satisfy the transition's one-way guard, otherwise nothing is written.
func (r *PostgresLogRepository) Apply(ctx context.Context, log *domain.Log, expectedVersion int, m domain.Mutation) error {
	var (
		p     placeholders
		sets  []string
		guard string
	)
	setJSON := func(col string, v any) error {
		s, err := toJSON(v)
		if err != nil {
			return err
		}
		sets = append(sets, col+" = "+p.add(s)+"::jsonb")
		return nil
	}

	switch m {
	case domain.MutationChecklist:
		sets = append(sets, "checklist_done = true")
		if err := setJSON("checklist", log.Checklist); err != nil {
			return err
		}
		if err := setJSON("checklist_snapshot", log.ChecklistSnapshot); err != nil {
			return err
		}
		sets = append(sets, "checklist_time = "+p.add(nullTime(log.ChecklistTime)))
		guard = "checklist_done = false"
	case domain.MutationReadingAdded:
		if err := setJSON("temps", log.Temps); err != nil {
			return err
		}
		guard = "shift_done = false"
	case domain.MutationReadingEdited:
		if err := setJSON("temps", log.Temps); err != nil {
			return err
		}
		guard = "admin_signature = ''"
	case domain.MutationShiftEnded:
		if err := setJSON("temps", log.Temps); err != nil {
			return err
		}
		sets = append(sets,
			"shift_done = true",
			"odometer = "+p.add(log.Odometer),
			"signature = "+p.add(log.Signature),
			"shift_end_time = "+p.add(nullTime(log.ShiftEndTime)),
		)
		guard = "shift_done = false"
	case domain.MutationSignedOff:
		sets = append(sets,
			"admin_signature = "+p.add(log.AdminSignature),
			"admin_signed_by = "+p.add(log.AdminSignedBy),
			"admin_signed_at = "+p.add(nullTime(log.AdminSignedAt)),
			"ip_address = "+p.add(log.IPAddress),
			"user_agent = "+p.add(log.UserAgent),
		)
		guard = "shift_done = true AND admin_signature = ''"
	default:
		return fmt.Errorf("apply log: unknown mutation %q", m)
	}
	sets = append(sets, "updated_at = "+p.add(log.UpdatedAt), "version = version + 1")

	query := fmt.Sprintf(`UPDATE temp_logs SET %s
		WHERE id = %s AND workspace_id = %s AND version = %s AND %s`,
		strings.Join(sets, ", "), p.add(log.ID), p.add(log.WorkspaceID), p.add(expectedVersion), guard)

	res, err := r.db.ExecContext(ctx, query, p.args...)
	if err != nil {
		return storageError("apply log", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("apply log: failed to check rows affected: %w", err)
	}
	if n == 1 {
		log.Version = expectedVersion + 1
		return nil
	}

	stored, err := r.GetByID(ctx, log.WorkspaceID, log.ID)
	if err != nil {
		return err
	}
	if gerr := compliance.CheckGuard(m, stored); gerr != nil {
		return gerr
	}
	r.logger.Debug("log version moved",
		slog.String("log_id", log.ID),
		slog.Int("expected", expectedVersion),
		slog.Int("stored", stored.Version),
	)
	return domain.ErrConflict
}

// UpdateComments replaces the free-text note on a log
func (r *PostgresLogRepository) UpdateComments(ctx context.Context, workspaceID, id, comments string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE temp_logs SET comments = $1, updated_at = now()
		WHERE workspace_id = $2 AND id = $3`, comments, workspaceID, id)
	if err != nil {
		return storageError("update comments", err)
	}
	return expectOne(res, "update comments")
}

// ListRecent returns logs touched since the given instant
func (r *PostgresLogRepository) ListRecent(ctx context.Context, workspaceID string, since time.Time) ([]*domain.Log, error) {
	return r.queryLogs(ctx, "list recent logs",
		`workspace_id = $1 AND updated_at >= $2 ORDER BY updated_at DESC`, workspaceID, since)
}

// ListByDateRange returns logs with from <= date <= to
func (r *PostgresLogRepository) ListByDateRange(ctx context.Context, workspaceID, from, to string) ([]*domain.Log, error) {
	return r.queryLogs(ctx, "list logs by range",
		`workspace_id = $1 AND log_date BETWEEN $2::date AND $3::date ORDER BY log_date DESC, created_at`,
		workspaceID, from, to)
}

// ListByDate returns every log for one local date
func (r *PostgresLogRepository) ListByDate(ctx context.Context, workspaceID, date string) ([]*domain.Log, error) {
	return r.queryLogs(ctx, "list logs by date",
		`workspace_id = $1 AND log_date = $2::date ORDER BY created_at`, workspaceID, date)
}

// ListByWorkspace returns every log of a workspace, newest first
func (r *PostgresLogRepository) ListByWorkspace(ctx context.Context, workspaceID string) ([]*domain.Log, error) {
	return r.queryLogs(ctx, "list logs",
		`workspace_id = $1 ORDER BY log_date DESC, created_at`, workspaceID)
}

// DeleteOlderThan removes logs dated strictly before cutoff
func (r *PostgresLogRepository) DeleteOlderThan(ctx context.Context, workspaceID, cutoff string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM temp_logs WHERE workspace_id = $1 AND log_date < $2::date`,
		workspaceID, cutoff)
	if err != nil {
		return 0, storageError("delete old logs", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete old logs: failed to check rows affected: %w", err)
	}
	return n, nil
}

