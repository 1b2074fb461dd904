package audit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/coldtrack/coldtrack/internal/domain"
)

type memAuditRepo struct {
	entries []*domain.AuditEntry
	err     error
}

func (m *memAuditRepo) Append(_ context.Context, e *domain.AuditEntry) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memAuditRepo) ListByWorkspace(context.Context, string, domain.AuditFilter) ([]*domain.AuditEntry, int, error) {
	return m.entries, len(m.entries), nil
}

func TestRecordPersistsEntry(t *testing.T) {
	repo := &memAuditRepo{}
	var buf bytes.Buffer
	al := NewLogger(slog.New(slog.NewJSONHandler(&buf, nil)), repo)

	ctx := WithRequestID(context.Background(), "req-1")
	al.Record(ctx, "ws1", "u1", domain.ActionSignOffCompleted, "Signed off 1ABC123", map[string]any{"date": "2024-03-08"})

	if len(repo.entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(repo.entries))
	}
	e := repo.entries[0]
	if e.ID == "" || e.ActionType != domain.ActionSignOffCompleted || e.Metadata["date"] != "2024-03-08" {
		t.Fatalf("unexpected entry %+v", e)
	}
	if !strings.Contains(buf.String(), "req-1") {
		t.Fatalf("expected request id in log line, got %s", buf.String())
	}
}

func TestRecordSwallowsStorageErrors(t *testing.T) {
	repo := &memAuditRepo{err: errors.New("db down")}
	var buf bytes.Buffer
	al := NewLogger(slog.New(slog.NewJSONHandler(&buf, nil)), repo)

	al.Record(context.Background(), "ws1", "u1", domain.ActionLogin, "login", nil)
	if !strings.Contains(buf.String(), "failed to persist audit entry") {
		t.Fatalf("expected storage failure to be logged, got %s", buf.String())
	}
}

func TestRecordWithoutWorkspaceOnlyLogs(t *testing.T) {
	repo := &memAuditRepo{}
	al := NewLogger(nil, repo)
	al.Record(context.Background(), "", "root", domain.ActionLogin, "portal login", nil)
	if len(repo.entries) != 0 {
		t.Fatalf("platform actions have no workspace log")
	}
}
