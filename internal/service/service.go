package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coldtrack/coldtrack/internal/compliance"
	"github.com/coldtrack/coldtrack/internal/domain"
)

// Caller identifies who performs an operation and where the request came from
type Caller struct {
	UserID       string
	WorkspaceID  string
	Username     string
	Name         string
	Role         domain.Role
	Impersonator string
	IP           string
	UserAgent    string
}

func (c Caller) displayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Username
}

// BoardCache stores computed live boards per workspace
type BoardCache interface {
	Get(ctx context.Context, workspaceID string) (*compliance.Board, bool, error)
	Set(ctx context.Context, workspaceID string, board *compliance.Board, ttl time.Duration) error
	Invalidate(ctx context.Context, workspaceID string) error
}

func newID() string {
	return uuid.NewString()
}

func invalidInput(msg string) error {
	return domain.NewError(domain.CodeInvalidInput, msg)
}

// limitReached builds the error returned when a workspace is at its configured cap
func limitReached(what string, limit int) error {
	return domain.WithMetadata(domain.CodeLimitReached, fmt.Sprintf("%s limit reached", what),
		map[string]string{"limit": fmt.Sprint(limit)})
}
