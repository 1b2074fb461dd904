package domain

import (
	"context"
	"time"
)

// Temperature types a vehicle may be fitted for
const (
	TempTypeChiller = "chiller"
	TempTypeFreezer = "freezer"
	TempTypeCabin   = "cabin"
)

// ServiceRecord is an append-only maintenance entry on a vehicle
type ServiceRecord struct {
	ID          string    `json:"id"`
	Date        string    `json:"date"`
	Description string    `json:"description"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Vehicle is a tracked asset
type Vehicle struct {
	ID              string          `json:"id"`
	WorkspaceID     string          `json:"workspaceId"`
	Rego            string          `json:"rego"`
	VehicleClass    string          `json:"vehicleClass,omitempty"`
	AssetType       string          `json:"assetType,omitempty"`
	TemperatureType string          `json:"temperatureType,omitempty"`
	Deactivated     bool            `json:"deactivated"`
	ServiceRecords  []ServiceRecord `json:"serviceRecords"`
	IsTemporary     bool            `json:"isTemporary"`
	ExpiryDate      *time.Time      `json:"expiryDate,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// VehicleRepository defines data access for vehicles
type VehicleRepository interface {
	Create(ctx context.Context, v *Vehicle) error
	GetByID(ctx context.Context, workspaceID, id string) (*Vehicle, error)
	GetByRego(ctx context.Context, workspaceID, rego string) (*Vehicle, error)
	ListByWorkspace(ctx context.Context, workspaceID string) ([]*Vehicle, error)
	CountActive(ctx context.Context, workspaceID string) (int, error)
	SetDeactivated(ctx context.Context, workspaceID, id string, deactivated bool) error
	AddServiceRecord(ctx context.Context, workspaceID, id string, rec ServiceRecord) error
	ListExpiredTemporary(ctx context.Context, now time.Time) ([]*Vehicle, error)
}
