package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coldtrack/coldtrack/internal/compliance"
	"github.com/coldtrack/coldtrack/internal/domain"
	"github.com/coldtrack/coldtrack/internal/service"
)

// Dashboard is the read side used by the office
type Dashboard interface {
	Live(ctx context.Context, caller service.Caller) (*compliance.Board, error)
	Exceptions(ctx context.Context, caller service.Caller, from, to string) (*service.ExceptionReport, error)
	WeeklySheet(ctx context.Context, caller service.Caller, vehicleID, monday string) (*service.WeeklySheet, error)
	Activity(ctx context.Context, caller service.Caller, filter domain.AuditFilter) (*service.ActivityPage, error)
}

// DashboardHandler serves the live board, exceptions, weekly sheets and the activity log
type DashboardHandler struct {
	dashboard      Dashboard
	logger         *slog.Logger
	allowedOrigins []string
	pushInterval   time.Duration
}

// NewDashboardHandler creates a new dashboard handler
func NewDashboardHandler(dashboard Dashboard, logger *slog.Logger, allowedOrigins []string, pushInterval time.Duration) *DashboardHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if pushInterval <= 0 {
		pushInterval = 15 * time.Second
	}
	return &DashboardHandler{
		dashboard:      dashboard,
		logger:         logger,
		allowedOrigins: allowedOrigins,
		pushInterval:   pushInterval,
	}
}

// Live handles GET /api/live
func (h *DashboardHandler) Live(w http.ResponseWriter, r *http.Request) {
	board, err := h.dashboard.Live(r.Context(), callerFrom(r))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

// Exceptions handles GET /api/exceptions?from=&to=
func (h *DashboardHandler) Exceptions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	report, err := h.dashboard.Exceptions(r.Context(), callerFrom(r), q.Get("from"), q.Get("to"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Week handles GET /api/assets/{id}/week?monday=
func (h *DashboardHandler) Week(w http.ResponseWriter, r *http.Request) {
	sheet, err := h.dashboard.WeeklySheet(r.Context(), callerFrom(r), r.PathValue("id"), r.URL.Query().Get("monday"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sheet)
}

// Activity handles GET /api/activity
func (h *DashboardHandler) Activity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := h.dashboard.Activity(r.Context(), callerFrom(r), domain.AuditFilter{
		ActionType: domain.AuditAction(q.Get("action")),
		UserID:     q.Get("user"),
		Search:     q.Get("q"),
		DateFrom:   q.Get("from"),
		DateTo:     q.Get("to"),
		Limit:      queryInt(r, "limit"),
		Offset:     queryInt(r, "offset"),
	})
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// upgrader is built per request so it sees the configured origins
func (h *DashboardHandler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// non-browser clients
				return true
			}
			for _, allowed := range h.allowedOrigins {
				if allowed == "*" || origin == allowed {
					return true
				}
			}
			h.logger.Warn("websocket origin rejected", slog.String("origin", origin))
			return false
		},
	}
}

// LiveSocket handles GET /ws/live. The board is pushed on connect and then on every tick
// until the client goes away.
func (h *DashboardHandler) LiveSocket(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r)
	up := h.upgrader()
	ws, err := up.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// the read pump only notices the close frame
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	if err := h.streamBoard(ctx, ws, caller); err != nil {
		h.logger.Debug("live stream ended",
			slog.String("workspace_id", caller.WorkspaceID),
			slog.String("reason", err.Error()),
		)
	}
}

func (h *DashboardHandler) streamBoard(ctx context.Context, ws *websocket.Conn, caller service.Caller) error {
	push := func() error {
		board, err := h.dashboard.Live(ctx, caller)
		if err != nil {
			return err
		}
		_ = ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return ws.WriteJSON(board)
	}
	if err := push(); err != nil {
		return err
	}

	ticker := time.NewTicker(h.pushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := push(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug("websocket closed", slog.String("workspace_id", caller.WorkspaceID))
				}
				return err
			}
		}
	}
}
