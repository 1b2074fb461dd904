package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/coldtrack/coldtrack/internal/domain"
	"github.com/coldtrack/coldtrack/internal/service"
)

// Exporter generates and lists compliance export packs
type Exporter interface {
	List(ctx context.Context, caller service.Caller) ([]*domain.Export, error)
	Manual(ctx context.Context, caller service.Caller, in service.ManualExportInput) (*domain.Export, error)
}

// ExportHandler serves export history and manual exports
type ExportHandler struct {
	exports Exporter
	logger  *slog.Logger
}

// NewExportHandler creates a new export handler
func NewExportHandler(exports Exporter, logger *slog.Logger) *ExportHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExportHandler{exports: exports, logger: logger}
}

// List handles GET /api/exports
func (h *ExportHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.exports.List(r.Context(), callerFrom(r))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exports": list})
}

// Create handles POST /api/exports. A failed render still answers 201 with status failed.
func (h *ExportHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.ManualExportInput
	if !decode(w, r, &req) {
		return
	}
	exp, err := h.exports.Manual(r.Context(), callerFrom(r), req)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if exp.Status == domain.ExportFailed {
		h.logger.Warn("manual export failed",
			slog.String("export_id", exp.ID),
			slog.String("reason", exp.Error),
		)
	}
	writeJSON(w, http.StatusCreated, exp)
}
