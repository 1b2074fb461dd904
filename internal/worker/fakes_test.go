package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/coldtrack/coldtrack/internal/compliance"
	"github.com/coldtrack/coldtrack/internal/domain"
	"github.com/coldtrack/coldtrack/internal/security/audit"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeWorkspaces struct {
	list []*domain.Workspace
	err  error
}

func (f *fakeWorkspaces) List(context.Context) ([]*domain.Workspace, error) {
	return f.list, f.err
}

type fakeLeases struct {
	mu       sync.Mutex
	held     map[string]bool
	released []string
}

func newFakeLeases() *fakeLeases {
	return &fakeLeases{held: map[string]bool{}}
}

func (f *fakeLeases) Acquire(_ context.Context, key string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] {
		return false, nil
	}
	f.held[key] = true
	return true, nil
}

func (f *fakeLeases) Release(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, key)
	f.released = append(f.released, key)
	return nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []*domain.AuditEntry
}

func (f *fakeAudit) Append(_ context.Context, e *domain.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeAudit) ListByWorkspace(context.Context, string, domain.AuditFilter) ([]*domain.AuditEntry, int, error) {
	return nil, 0, nil
}

func (f *fakeAudit) count(action domain.AuditAction) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.entries {
		if e.ActionType == action {
			n++
		}
	}
	return n
}

func newAudit() (*audit.Logger, *fakeAudit) {
	repo := &fakeAudit{}
	return audit.NewLogger(discardLogger, repo), repo
}

// fakeExporter fails for workspaces listed in failFor
type fakeExporter struct {
	mu      sync.Mutex
	plans   map[string][]compliance.ExportPlan
	failFor map[string]int
}

func newFakeExporter() *fakeExporter {
	return &fakeExporter{plans: map[string][]compliance.ExportPlan{}, failFor: map[string]int{}}
}

func (f *fakeExporter) Scheduled(_ context.Context, ws *domain.Workspace, plan compliance.ExportPlan) (*domain.Export, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[ws.ID] > 0 {
		f.failFor[ws.ID]--
		return nil, errors.New("insert export: connection reset")
	}
	f.plans[ws.ID] = append(f.plans[ws.ID], plan)
	return &domain.Export{ID: "exp-" + ws.ID, WorkspaceID: ws.ID, Status: domain.ExportComplete}, nil
}

func (f *fakeExporter) calls(wsID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.plans[wsID])
}

type fakePurger struct {
	mu      sync.Mutex
	cutoffs map[string][]string
	deleted int64
}

func (f *fakePurger) DeleteOlderThan(_ context.Context, wsID, cutoff string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cutoffs == nil {
		f.cutoffs = map[string][]string{}
	}
	f.cutoffs[wsID] = append(f.cutoffs[wsID], cutoff)
	return f.deleted, nil
}

func intPtr(v int) *int { return &v }

// workspace returns a UTC tenant exporting weekly on Mondays with 30 day retention
func workspace(id string) *domain.Workspace {
	return &domain.Workspace{
		ID:     id,
		Slug:   id,
		Status: domain.WorkspaceActive,
		Settings: domain.WorkspaceSettings{
			Timezone:         "UTC",
			RetentionEnabled: true,
			RetentionDays:    intPtr(30),
		},
		ExportSettings: domain.ExportSettings{Frequency: "weekly", ScheduleDay: "monday"},
	}
}
