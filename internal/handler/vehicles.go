package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/coldtrack/coldtrack/internal/domain"
	"github.com/coldtrack/coldtrack/internal/service"
)

// Fleet manages the vehicles and trailers of a workspace
type Fleet interface {
	List(ctx context.Context, caller service.Caller) ([]*domain.Vehicle, error)
	Create(ctx context.Context, caller service.Caller, in service.CreateVehicleInput) (*domain.Vehicle, error)
	SetDeactivated(ctx context.Context, caller service.Caller, id string, deactivated bool) error
	AddServiceRecord(ctx context.Context, caller service.Caller, id string, in service.ServiceRecordInput) (*domain.ServiceRecord, error)
}

// VehicleHandler serves asset management
type VehicleHandler struct {
	fleet  Fleet
	logger *slog.Logger
}

// NewVehicleHandler creates a new vehicle handler
func NewVehicleHandler(fleet Fleet, logger *slog.Logger) *VehicleHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &VehicleHandler{fleet: fleet, logger: logger}
}

// List handles GET /api/assets
func (h *VehicleHandler) List(w http.ResponseWriter, r *http.Request) {
	vehicles, err := h.fleet.List(r.Context(), callerFrom(r))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assets": vehicles})
}

// Create handles POST /api/assets
func (h *VehicleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateVehicleInput
	if !decode(w, r, &req) {
		return
	}
	v, err := h.fleet.Create(r.Context(), callerFrom(r), req)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// Deactivate handles POST /api/assets/{id}/deactivate
func (h *VehicleHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.setDeactivated(w, r, true)
}

// Reactivate handles POST /api/assets/{id}/reactivate
func (h *VehicleHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	h.setDeactivated(w, r, false)
}

func (h *VehicleHandler) setDeactivated(w http.ResponseWriter, r *http.Request, deactivated bool) {
	if err := h.fleet.SetDeactivated(r.Context(), callerFrom(r), r.PathValue("id"), deactivated); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse)
}

// ServiceRecord handles POST /api/assets/{id}/service-records
func (h *VehicleHandler) ServiceRecord(w http.ResponseWriter, r *http.Request) {
	var req service.ServiceRecordInput
	if !decode(w, r, &req) {
		return
	}
	rec, err := h.fleet.AddServiceRecord(r.Context(), callerFrom(r), r.PathValue("id"), req)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}
