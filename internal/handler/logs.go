package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/coldtrack/coldtrack/internal/domain"
	"github.com/coldtrack/coldtrack/internal/service"
)

// LogOperations drives the daily log lifecycle
type LogOperations interface {
	Today(ctx context.Context, caller service.Caller, vehicleID string) (*service.TodayView, error)
	SubmitChecklist(ctx context.Context, caller service.Caller, vehicleID string, answers map[string]string) (*domain.Log, error)
	AddReading(ctx context.Context, caller service.Caller, vehicleID string, values map[domain.Zone]domain.TempValue) (*service.ReadingResult, error)
	EditReading(ctx context.Context, caller service.Caller, vehicleID, readingID string, values map[domain.Zone]domain.TempValue) (*domain.Log, error)
	EndShift(ctx context.Context, caller service.Caller, vehicleID string, in service.EndShiftRequest) (*domain.Log, error)
	AdminSignOff(ctx context.Context, caller service.Caller, vehicleID, monday, signature string) (*domain.Log, error)
	WeekNote(ctx context.Context, caller service.Caller, vehicleID string, in service.WeekNoteInput) (*domain.Log, error)
}

// LogHandler serves the driver's daily log and the office sign-off endpoints
type LogHandler struct {
	logs   LogOperations
	logger *slog.Logger
}

// NewLogHandler creates a new log handler
func NewLogHandler(logs LogOperations, logger *slog.Logger) *LogHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogHandler{logs: logs, logger: logger}
}

// ChecklistRequest carries the pre-trip answers keyed by question
type ChecklistRequest struct {
	Answers map[string]string `json:"answers"`
}

// AdminSignRequest is the admin's weekly sign-off
type AdminSignRequest struct {
	Monday    string `json:"monday"`
	Signature string `json:"signature"`
}

// Today handles GET /api/trucks/{id}/today
func (h *LogHandler) Today(w http.ResponseWriter, r *http.Request) {
	view, err := h.logs.Today(r.Context(), callerFrom(r), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Checklist handles POST /api/trucks/{id}/checklist
func (h *LogHandler) Checklist(w http.ResponseWriter, r *http.Request) {
	var req ChecklistRequest
	if !decode(w, r, &req) {
		return
	}
	log, err := h.logs.SubmitChecklist(r.Context(), callerFrom(r), r.PathValue("id"), req.Answers)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, log)
}

// AddReading handles POST /api/trucks/{id}/temps. The body maps zones to values.
func (h *LogHandler) AddReading(w http.ResponseWriter, r *http.Request) {
	values := map[domain.Zone]domain.TempValue{}
	if !decode(w, r, &values) {
		return
	}
	res, err := h.logs.AddReading(r.Context(), callerFrom(r), r.PathValue("id"), values)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// EditReading handles PUT /api/trucks/{id}/temps/{tempId}
func (h *LogHandler) EditReading(w http.ResponseWriter, r *http.Request) {
	values := map[domain.Zone]domain.TempValue{}
	if !decode(w, r, &values) {
		return
	}
	log, err := h.logs.EditReading(r.Context(), callerFrom(r), r.PathValue("id"), r.PathValue("tempId"), values)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, log)
}

// EndShift handles POST /api/trucks/{id}/end-shift
func (h *LogHandler) EndShift(w http.ResponseWriter, r *http.Request) {
	var req service.EndShiftRequest
	if !decode(w, r, &req) {
		return
	}
	log, err := h.logs.EndShift(r.Context(), callerFrom(r), r.PathValue("id"), req)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, log)
}

// AdminSign handles POST /api/assets/{id}/admin-sign
func (h *LogHandler) AdminSign(w http.ResponseWriter, r *http.Request) {
	var req AdminSignRequest
	if !decode(w, r, &req) {
		return
	}
	log, err := h.logs.AdminSignOff(r.Context(), callerFrom(r), r.PathValue("id"), req.Monday, req.Signature)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	h.logger.Info("week signed off",
		slog.String("vehicle_id", r.PathValue("id")),
		slog.String("monday", req.Monday),
	)
	writeJSON(w, http.StatusOK, log)
}

// WeekNote handles POST /api/assets/{id}/week-note
func (h *LogHandler) WeekNote(w http.ResponseWriter, r *http.Request) {
	var req service.WeekNoteInput
	if !decode(w, r, &req) {
		return
	}
	log, err := h.logs.WeekNote(r.Context(), callerFrom(r), r.PathValue("id"), req)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, log)
}
