package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/coldtrack/coldtrack/internal/compliance"
	"github.com/coldtrack/coldtrack/internal/domain"
	"github.com/coldtrack/coldtrack/internal/security/audit"
)

// VehicleService manages a workspace's tracked assets
type VehicleService struct {
	vehicles   domain.VehicleRepository
	workspaces *WorkspaceService
	audit      *audit.Logger
	logger     *slog.Logger
	now        func() time.Time
}

// NewVehicleService creates a new vehicle service
func NewVehicleService(vehicles domain.VehicleRepository, workspaces *WorkspaceService, auditLog *audit.Logger, logger *slog.Logger) *VehicleService {
	if logger == nil {
		logger = slog.Default()
	}
	return &VehicleService{
		vehicles:   vehicles,
		workspaces: workspaces,
		audit:      auditLog,
		logger:     logger,
		now:        time.Now,
	}
}

var temperatureTypes = map[string]bool{
	"":                     true,
	domain.TempTypeChiller: true,
	domain.TempTypeFreezer: true,
	domain.TempTypeCabin:   true,
}

// NormalizeRego upper-cases a registration and strips its whitespace
func NormalizeRego(rego string) string {
	return strings.ToUpper(strings.Join(strings.Fields(rego), ""))
}

// CreateVehicleInput is the asset creation form
type CreateVehicleInput struct {
	Rego            string `json:"rego"`
	VehicleClass    string `json:"vehicleClass"`
	AssetType       string `json:"assetType"`
	TemperatureType string `json:"temperatureType"`
	IsTemporary     bool   `json:"isTemporary"`
	ExpiryDate      string `json:"expiryDate"`
	ExpiryWeeks     int    `json:"expiryWeeks"`
}

// List returns every vehicle of the caller's workspace
func (s *VehicleService) List(ctx context.Context, caller Caller) ([]*domain.Vehicle, error) {
	return s.vehicles.ListByWorkspace(ctx, caller.WorkspaceID)
}

// Get returns one vehicle
func (s *VehicleService) Get(ctx context.Context, caller Caller, id string) (*domain.Vehicle, error) {
	return s.vehicles.GetByID(ctx, caller.WorkspaceID, id)
}

// Create adds a vehicle within the workspace limit. Registrations are unique per workspace.
func (s *VehicleService) Create(ctx context.Context, caller Caller, in CreateVehicleInput) (*domain.Vehicle, error) {
	rego := NormalizeRego(in.Rego)
	if rego == "" {
		return nil, invalidInput("registration is required")
	}
	tempType := strings.ToLower(strings.TrimSpace(in.TemperatureType))
	if !temperatureTypes[tempType] {
		return nil, invalidInput("temperature type must be chiller, freezer or cabin")
	}

	settings, ws, err := s.workspaces.Settings(ctx, caller.WorkspaceID)
	if err != nil {
		return nil, err
	}
	count, err := s.vehicles.CountActive(ctx, ws.ID)
	if err != nil {
		return nil, err
	}
	if count >= ws.MaxVehicles {
		return nil, limitReached("vehicle", ws.MaxVehicles)
	}

	if _, err := s.vehicles.GetByRego(ctx, ws.ID, rego); err == nil {
		return nil, domain.WithMetadata(domain.CodeDuplicate, "a vehicle with this registration already exists",
			map[string]string{"rego": rego})
	} else if domain.CodeOf(err) != domain.CodeNotFound {
		return nil, err
	}

	now := s.now()
	var expiry *time.Time
	if in.IsTemporary {
		expiry, err = temporaryExpiry(in.ExpiryDate, in.ExpiryWeeks, settings.Location, now)
		if err != nil {
			return nil, err
		}
	}

	v := &domain.Vehicle{
		ID:              newID(),
		WorkspaceID:     ws.ID,
		Rego:            rego,
		VehicleClass:    strings.TrimSpace(in.VehicleClass),
		AssetType:       strings.TrimSpace(in.AssetType),
		TemperatureType: tempType,
		ServiceRecords:  []domain.ServiceRecord{},
		IsTemporary:     in.IsTemporary,
		ExpiryDate:      expiry,
		CreatedAt:       now.UTC(),
		UpdatedAt:       now.UTC(),
	}
	if err := s.vehicles.Create(ctx, v); err != nil {
		return nil, err
	}

	s.logger.Info("vehicle created", slog.String("workspace_id", ws.ID), slog.String("rego", rego))
	s.audit.Record(ctx, ws.ID, caller.UserID, domain.ActionAssetCreated,
		fmt.Sprintf("Vehicle added: %s", rego),
		map[string]any{"vehicleId": v.ID, "rego": rego, "temperatureType": tempType, "isTemporary": in.IsTemporary})
	return v, nil
}

// SetDeactivated retires or restores a vehicle. Restoring counts against the vehicle limit.
func (s *VehicleService) SetDeactivated(ctx context.Context, caller Caller, id string, deactivated bool) error {
	v, err := s.vehicles.GetByID(ctx, caller.WorkspaceID, id)
	if err != nil {
		return err
	}
	if !deactivated && v.Deactivated {
		ws, err := s.workspaces.Get(ctx, caller.WorkspaceID)
		if err != nil {
			return err
		}
		count, err := s.vehicles.CountActive(ctx, ws.ID)
		if err != nil {
			return err
		}
		if count >= ws.MaxVehicles {
			return limitReached("vehicle", ws.MaxVehicles)
		}
	}
	if err := s.vehicles.SetDeactivated(ctx, caller.WorkspaceID, id, deactivated); err != nil {
		return err
	}

	action, verb := domain.ActionAssetSuspensionLifted, "reactivated"
	if deactivated {
		action, verb = domain.ActionAssetSuspended, "deactivated"
	}
	s.audit.Record(ctx, caller.WorkspaceID, caller.UserID, action,
		fmt.Sprintf("Vehicle %s: %s", verb, v.Rego), map[string]any{"vehicleId": v.ID})
	return nil
}

// ServiceRecordInput is a maintenance entry
type ServiceRecordInput struct {
	Date        string `json:"date"`
	Description string `json:"description"`
}

// AddServiceRecord appends a maintenance entry to a vehicle
func (s *VehicleService) AddServiceRecord(ctx context.Context, caller Caller, id string, in ServiceRecordInput) (*domain.ServiceRecord, error) {
	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		return nil, invalidInput("description is required")
	}
	settings, _, err := s.workspaces.Settings(ctx, caller.WorkspaceID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	date := strings.TrimSpace(in.Date)
	if date == "" {
		date = compliance.Today(now, settings.Location)
	} else if _, err := compliance.ParseDate(date); err != nil {
		return nil, invalidInput("date must be YYYY-MM-DD")
	}

	rec := domain.ServiceRecord{
		ID:          newID(),
		Date:        date,
		Description: desc,
		CreatedBy:   caller.displayName(),
		CreatedAt:   now.UTC(),
	}
	if err := s.vehicles.AddServiceRecord(ctx, caller.WorkspaceID, id, rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
