package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/coldtrack/coldtrack/internal/compliance"
	"github.com/coldtrack/coldtrack/internal/domain"
	"github.com/coldtrack/coldtrack/internal/service"
)

// WorkspaceSettings reads and updates the tenant configuration
type WorkspaceSettings interface {
	Settings(ctx context.Context, id string) (compliance.Settings, *domain.Workspace, error)
	UpdateCompliance(ctx context.Context, caller service.Caller, in service.ComplianceUpdate) (*domain.Workspace, error)
	UpdateChecklist(ctx context.Context, caller service.Caller, questions []string) ([]string, error)
	UpdateExportSettings(ctx context.Context, caller service.Caller, in domain.ExportSettings) (*domain.ExportSettings, error)
}

// SettingsHandler serves workspace settings
type SettingsHandler struct {
	workspaces WorkspaceSettings
	logger     *slog.Logger
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(workspaces WorkspaceSettings, logger *slog.Logger) *SettingsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsHandler{workspaces: workspaces, logger: logger}
}

// SettingsResponse is the resolved configuration with defaults applied
type SettingsResponse struct {
	Workspace          *domain.Workspace     `json:"workspace"`
	Timezone           string                `json:"timezone"`
	SignOffDay         int                   `json:"signOffDay"`
	RequireOdometer    bool                  `json:"requireOdometer"`
	RequireSignature   bool                  `json:"requireSignature"`
	OverdueMinutes     int                   `json:"overdueMinutes"`
	TempRanges         compliance.Ranges     `json:"tempRanges"`
	ChecklistQuestions []string              `json:"checklistQuestions"`
	MaxQuestions       int                   `json:"maxQuestions"`
	ExportSettings     domain.ExportSettings `json:"exportSettings"`
}

// ChecklistUpdate replaces the checklist questions
type ChecklistUpdate struct {
	Questions []string `json:"questions"`
}

// Get handles GET /api/settings
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r)
	s, ws, err := h.workspaces.Settings(r.Context(), caller.WorkspaceID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SettingsResponse{
		Workspace:          ws,
		Timezone:           s.Timezone,
		SignOffDay:         s.SignOffWeekday,
		RequireOdometer:    s.RequireOdometer,
		RequireSignature:   s.RequireSignature,
		OverdueMinutes:     s.OverdueMinutes,
		TempRanges:         s.TempRanges,
		ChecklistQuestions: s.ChecklistQuestions,
		MaxQuestions:       s.MaxQuestions,
		ExportSettings:     ws.ExportSettings,
	})
}

// UpdateCompliance handles PUT /api/settings/compliance
func (h *SettingsHandler) UpdateCompliance(w http.ResponseWriter, r *http.Request) {
	var req service.ComplianceUpdate
	if !decode(w, r, &req) {
		return
	}
	ws, err := h.workspaces.UpdateCompliance(r.Context(), callerFrom(r), req)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

// UpdateChecklist handles PUT /api/settings/checklist
func (h *SettingsHandler) UpdateChecklist(w http.ResponseWriter, r *http.Request) {
	var req ChecklistUpdate
	if !decode(w, r, &req) {
		return
	}
	qs, err := h.workspaces.UpdateChecklist(r.Context(), callerFrom(r), req.Questions)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ChecklistUpdate{Questions: qs})
}

// UpdateExport handles PUT /api/settings/export
func (h *SettingsHandler) UpdateExport(w http.ResponseWriter, r *http.Request) {
	var req domain.ExportSettings
	if !decode(w, r, &req) {
		return
	}
	out, err := h.workspaces.UpdateExportSettings(r.Context(), callerFrom(r), req)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
