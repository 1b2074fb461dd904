package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/coldtrack/coldtrack/internal/domain"
)

// PostgresVehicleRepository implements domain.VehicleRepository using PostgreSQL
type PostgresVehicleRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresVehicleRepository creates a new vehicle repository
func NewPostgresVehicleRepository(db *sql.DB, logger *slog.Logger) *PostgresVehicleRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresVehicleRepository{db: db, logger: logger}
}

const vehicleColumns = `id, workspace_id, rego, vehicle_class, asset_type, temperature_type,
	deactivated, service_records, is_temporary, expiry_date, created_at, updated_at`

func scanVehicle(row rowScanner) (*domain.Vehicle, error) {
	var (
		v       domain.Vehicle
		records []byte
		expiry  sql.NullTime
	)
	err := row.Scan(&v.ID, &v.WorkspaceID, &v.Rego, &v.VehicleClass, &v.AssetType, &v.TemperatureType,
		&v.Deactivated, &records, &v.IsTemporary, &expiry, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := fromJSON(records, &v.ServiceRecords); err != nil {
		return nil, err
	}
	v.ExpiryDate = timePtr(expiry)
	return &v, nil
}

func (r *PostgresVehicleRepository) list(ctx context.Context, op, where string, args ...any) ([]*domain.Vehicle, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE `+where, args...)
	if err != nil {
		return nil, storageError(op, err)
	}
	defer rows.Close()

	var out []*domain.Vehicle
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, storageError(op, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Create inserts a new vehicle. A repeated rego within the workspace is a duplicate.
func (r *PostgresVehicleRepository) Create(ctx context.Context, v *domain.Vehicle) error {
	records, err := toJSON(append([]domain.ServiceRecord{}, v.ServiceRecords...))
	if err != nil {
		return err
	}
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO vehicles (id, workspace_id, rego, vehicle_class, asset_type, temperature_type,
			deactivated, service_records, is_temporary, expiry_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10)
		RETURNING created_at, updated_at
	`, v.ID, v.WorkspaceID, v.Rego, v.VehicleClass, v.AssetType, v.TemperatureType,
		v.Deactivated, records, v.IsTemporary, nullTime(v.ExpiryDate)).Scan(&v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		r.logger.Error("failed to create vehicle",
			slog.String("rego", v.Rego),
			slog.String("error", err.Error()),
		)
		return storageError("create vehicle", err)
	}
	return nil
}

// GetByID retrieves a vehicle within a workspace
func (r *PostgresVehicleRepository) GetByID(ctx context.Context, workspaceID, id string) (*domain.Vehicle, error) {
	v, err := scanVehicle(r.db.QueryRowContext(ctx, `SELECT `+vehicleColumns+` FROM vehicles
		WHERE workspace_id = $1 AND id = $2`, workspaceID, id))
	if err != nil {
		return nil, storageError("get vehicle", err)
	}
	return v, nil
}

// GetByRego retrieves a vehicle by registration within a workspace
func (r *PostgresVehicleRepository) GetByRego(ctx context.Context, workspaceID, rego string) (*domain.Vehicle, error) {
	v, err := scanVehicle(r.db.QueryRowContext(ctx, `SELECT `+vehicleColumns+` FROM vehicles
		WHERE workspace_id = $1 AND rego = $2`, workspaceID, rego))
	if err != nil {
		return nil, storageError("get vehicle by rego", err)
	}
	return v, nil
}

// ListByWorkspace returns every vehicle of a workspace ordered by rego
func (r *PostgresVehicleRepository) ListByWorkspace(ctx context.Context, workspaceID string) ([]*domain.Vehicle, error) {
	return r.list(ctx, "list vehicles", `workspace_id = $1 ORDER BY rego`, workspaceID)
}

// CountActive counts vehicles that are not deactivated
func (r *PostgresVehicleRepository) CountActive(ctx context.Context, workspaceID string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM vehicles WHERE workspace_id = $1 AND deactivated = false`,
		workspaceID).Scan(&n); err != nil {
		return 0, storageError("count vehicles", err)
	}
	return n, nil
}

// SetDeactivated suspends or restores a vehicle
func (r *PostgresVehicleRepository) SetDeactivated(ctx context.Context, workspaceID, id string, deactivated bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE vehicles SET deactivated = $1, updated_at = now()
		WHERE workspace_id = $2 AND id = $3`, deactivated, workspaceID, id)
	if err != nil {
		return storageError("set vehicle deactivated", err)
	}
	return expectOne(res, "set vehicle deactivated")
}

// AddServiceRecord appends to the vehicle's service history
func (r *PostgresVehicleRepository) AddServiceRecord(ctx context.Context, workspaceID, id string, rec domain.ServiceRecord) error {
	entry, err := toJSON([]domain.ServiceRecord{rec})
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE vehicles SET service_records = service_records || $1::jsonb, updated_at = now()
		WHERE workspace_id = $2 AND id = $3`, entry, workspaceID, id)
	if err != nil {
		return storageError("add service record", err)
	}
	return expectOne(res, "add service record")
}

// ListExpiredTemporary returns active temporary vehicles whose expiry has passed
func (r *PostgresVehicleRepository) ListExpiredTemporary(ctx context.Context, now time.Time) ([]*domain.Vehicle, error) {
	return r.list(ctx, "list expired vehicles",
		`is_temporary = true AND deactivated = false AND expiry_date IS NOT NULL AND expiry_date <= $1`, now)
}
