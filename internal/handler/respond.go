package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/coldtrack/coldtrack/internal/domain"
	"github.com/coldtrack/coldtrack/internal/security/middleware"
	"github.com/coldtrack/coldtrack/internal/service"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error    string            `json:"error"`
	Code     domain.Code       `json:"code,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an error code to its HTTP status
func statusFor(code domain.Code) int {
	switch code {
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeAlreadyCompleted, domain.CodeAlreadyEnded, domain.CodeAlreadySigned,
		domain.CodeConflict, domain.CodeDuplicate:
		return http.StatusConflict
	case domain.CodeShiftNotCompleted, domain.CodeOdometerRequired, domain.CodeSignatureRequired,
		domain.CodeCabinRequired, domain.CodeReadingRequired, domain.CodeInvalidZone,
		domain.CodeInvalidInput, domain.CodePasswordReused, domain.CodeLimitReached:
		return http.StatusUnprocessableEntity
	case domain.CodeUnauthorized:
		return http.StatusUnauthorized
	case domain.CodeForbidden, domain.CodeWorkspaceSuspended:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// writeError is the single place service errors become HTTP responses.
// Unclassified errors are logged and hidden behind a generic message.
func writeError(w http.ResponseWriter, log *slog.Logger, r *http.Request, err error) {
	code := domain.CodeOf(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		log.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeJSON(w, status, ErrorResponse{Error: "internal error", Code: domain.CodeUnknown})
		return
	}

	resp := ErrorResponse{Error: err.Error(), Code: code}
	var de *domain.Error
	if errors.As(err, &de) {
		resp.Error = de.Message
		resp.Metadata = de.Metadata
	}
	writeJSON(w, status, resp)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg, Code: domain.CodeInvalidInput})
}

// decode reads a JSON body into dst. An empty body leaves dst untouched.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		return true
	}
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, middleware.MaxBodyBytes)).Decode(dst)
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil || errors.Is(err, io.EOF):
	case errors.As(err, &tooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{
			Error: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
			Code:  domain.CodeInvalidInput,
		})
		return false
	default:
		badRequest(w, "invalid request body")
		return false
	}
	return true
}

// callerFrom builds the acting identity from the authenticated request
func callerFrom(r *http.Request) service.Caller {
	c := service.Caller{
		IP:        middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
	if claims := middleware.GetClaimsFromContext(r.Context()); claims != nil {
		c.UserID = claims.UserID
		c.WorkspaceID = claims.WorkspaceID
		c.Username = claims.Username
		c.Role = claims.Role
		c.Impersonator = claims.Impersonator
	}
	if u := middleware.GetUserFromContext(r.Context()); u != nil {
		c.Name = u.Name
	}
	return c
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return n
}

type statusResponse struct {
	Status string `json:"status"`
}

var okResponse = statusResponse{Status: "ok"}
