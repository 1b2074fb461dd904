package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coldtrack/coldtrack/internal/compliance"
	"github.com/coldtrack/coldtrack/internal/domain"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func notFound(what string) error {
	return domain.NewError(domain.CodeNotFound, what+" not found")
}

type memUserRepo struct {
	mu   sync.Mutex
	byID map[string]*domain.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{byID: map[string]*domain.User{}}
}

func (m *memUserRepo) Create(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.byID {
		if other.WorkspaceID == u.WorkspaceID && strings.EqualFold(other.Username, u.Username) {
			return domain.NewError(domain.CodeDuplicate, "username taken")
		}
	}
	c := *u
	m.byID[u.ID] = &c
	return nil
}

func (m *memUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byID[id]; ok {
		c := *u
		return &c, nil
	}
	return nil, notFound("user")
}

func (m *memUserRepo) GetByUsername(_ context.Context, workspaceID, username string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.WorkspaceID == workspaceID && strings.EqualFold(u.Username, username) {
			c := *u
			return &c, nil
		}
	}
	return nil, notFound("user")
}

func (m *memUserRepo) GetSuperadmin(_ context.Context) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Role == domain.RoleSuperadmin {
			c := *u
			return &c, nil
		}
	}
	return nil, notFound("superadmin")
}

func (m *memUserRepo) ListByWorkspace(_ context.Context, workspaceID string) ([]*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.User{}
	for _, u := range m.byID {
		if u.WorkspaceID == workspaceID {
			c := *u
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (m *memUserRepo) CountActive(_ context.Context, workspaceID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, u := range m.byID {
		if u.WorkspaceID == workspaceID && !u.Deactivated {
			n++
		}
	}
	return n, nil
}

func (m *memUserRepo) update(id string, fn func(*domain.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return notFound("user")
	}
	fn(u)
	return nil
}

func (m *memUserRepo) UpdatePassword(_ context.Context, id, hash string, mustChange bool) error {
	return m.update(id, func(u *domain.User) {
		u.PasswordHistory = append([]string{u.PasswordHash}, u.PasswordHistory...)
		if len(u.PasswordHistory) > domain.PasswordHistoryDepth {
			u.PasswordHistory = u.PasswordHistory[:domain.PasswordHistoryDepth]
		}
		u.PasswordHash = hash
		u.MustChangePassword = mustChange
		now := time.Now()
		u.PasswordChangedAt = &now
	})
}

func (m *memUserRepo) SetDeactivated(_ context.Context, id string, deactivated bool) error {
	return m.update(id, func(u *domain.User) { u.Deactivated = deactivated })
}

func (m *memUserRepo) SetRole(_ context.Context, id string, role domain.Role) error {
	return m.update(id, func(u *domain.User) { u.Role = role })
}

func (m *memUserRepo) TransferOwnership(_ context.Context, workspaceID, fromID, toID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	from, ok1 := m.byID[fromID]
	to, ok2 := m.byID[toID]
	if !ok1 || !ok2 || from.WorkspaceID != workspaceID || to.WorkspaceID != workspaceID {
		return notFound("user")
	}
	from.IsOwner = false
	to.IsOwner = true
	return nil
}

func (m *memUserRepo) AcceptConsent(_ context.Context, id string, at time.Time) error {
	return m.update(id, func(u *domain.User) {
		u.ConsentAccepted = true
		u.ConsentAcceptedAt = &at
	})
}

func (m *memUserRepo) ListExpiredTemporary(_ context.Context, now time.Time) ([]*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.User
	for _, u := range m.byID {
		if u.IsTemporary && !u.Deactivated && compliance.ExpiryDue(u.ExpiryDate, now) {
			c := *u
			out = append(out, &c)
		}
	}
	return out, nil
}

type memWorkspaceRepo struct {
	mu   sync.Mutex
	byID map[string]*domain.Workspace
}

func newMemWorkspaceRepo() *memWorkspaceRepo {
	return &memWorkspaceRepo{byID: map[string]*domain.Workspace{}}
}

func (m *memWorkspaceRepo) Create(_ context.Context, ws *domain.Workspace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.byID {
		if other.Slug == ws.Slug {
			return domain.NewError(domain.CodeDuplicate, "slug taken")
		}
	}
	c := *ws
	m.byID[ws.ID] = &c
	return nil
}

func (m *memWorkspaceRepo) GetByID(_ context.Context, id string) (*domain.Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ws, ok := m.byID[id]; ok {
		c := *ws
		return &c, nil
	}
	return nil, notFound("workspace")
}

func (m *memWorkspaceRepo) GetBySlug(_ context.Context, slug string) (*domain.Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ws := range m.byID {
		if ws.Slug == slug {
			c := *ws
			return &c, nil
		}
	}
	return nil, notFound("workspace")
}

func (m *memWorkspaceRepo) List(_ context.Context) ([]*domain.Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.Workspace{}
	for _, ws := range m.byID {
		c := *ws
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (m *memWorkspaceRepo) update(id string, fn func(*domain.Workspace)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.byID[id]
	if !ok {
		return notFound("workspace")
	}
	fn(ws)
	return nil
}

func (m *memWorkspaceRepo) Update(_ context.Context, id, name string) error {
	return m.update(id, func(ws *domain.Workspace) { ws.Name = name })
}

func (m *memWorkspaceRepo) UpdateSettings(_ context.Context, id string, settings domain.WorkspaceSettings) error {
	return m.update(id, func(ws *domain.Workspace) { ws.Settings = settings })
}

func (m *memWorkspaceRepo) UpdateChecklistQuestions(_ context.Context, id string, questions []string) error {
	return m.update(id, func(ws *domain.Workspace) { ws.ChecklistQuestions = append([]string(nil), questions...) })
}

func (m *memWorkspaceRepo) UpdateExportSettings(_ context.Context, id string, settings domain.ExportSettings) error {
	return m.update(id, func(ws *domain.Workspace) { ws.ExportSettings = settings })
}

func (m *memWorkspaceRepo) SetLimits(_ context.Context, id string, maxUsers, maxVehicles, maxQuestions int) error {
	return m.update(id, func(ws *domain.Workspace) {
		ws.MaxUsers, ws.MaxVehicles, ws.MaxQuestions = maxUsers, maxVehicles, maxQuestions
	})
}

func (m *memWorkspaceRepo) SetStatus(_ context.Context, id string, status domain.WorkspaceStatus) error {
	return m.update(id, func(ws *domain.Workspace) { ws.Status = status })
}

type memVehicleRepo struct {
	mu   sync.Mutex
	byID map[string]*domain.Vehicle
}

func newMemVehicleRepo() *memVehicleRepo {
	return &memVehicleRepo{byID: map[string]*domain.Vehicle{}}
}

func (m *memVehicleRepo) Create(_ context.Context, v *domain.Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.byID {
		if other.WorkspaceID == v.WorkspaceID && other.Rego == v.Rego {
			return domain.NewError(domain.CodeDuplicate, "rego taken")
		}
	}
	c := *v
	m.byID[v.ID] = &c
	return nil
}

func (m *memVehicleRepo) GetByID(_ context.Context, workspaceID, id string) (*domain.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.byID[id]; ok && v.WorkspaceID == workspaceID {
		c := *v
		return &c, nil
	}
	return nil, notFound("vehicle")
}

func (m *memVehicleRepo) GetByRego(_ context.Context, workspaceID, rego string) (*domain.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.byID {
		if v.WorkspaceID == workspaceID && v.Rego == rego {
			c := *v
			return &c, nil
		}
	}
	return nil, notFound("vehicle")
}

func (m *memVehicleRepo) ListByWorkspace(_ context.Context, workspaceID string) ([]*domain.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.Vehicle{}
	for _, v := range m.byID {
		if v.WorkspaceID == workspaceID {
			c := *v
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rego < out[j].Rego })
	return out, nil
}

func (m *memVehicleRepo) CountActive(_ context.Context, workspaceID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, v := range m.byID {
		if v.WorkspaceID == workspaceID && !v.Deactivated {
			n++
		}
	}
	return n, nil
}

func (m *memVehicleRepo) SetDeactivated(_ context.Context, workspaceID, id string, deactivated bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.byID[id]
	if !ok || v.WorkspaceID != workspaceID {
		return notFound("vehicle")
	}
	v.Deactivated = deactivated
	return nil
}

func (m *memVehicleRepo) AddServiceRecord(_ context.Context, workspaceID, id string, rec domain.ServiceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.byID[id]
	if !ok || v.WorkspaceID != workspaceID {
		return notFound("vehicle")
	}
	v.ServiceRecords = append(v.ServiceRecords, rec)
	return nil
}

func (m *memVehicleRepo) ListExpiredTemporary(_ context.Context, now time.Time) ([]*domain.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Vehicle
	for _, v := range m.byID {
		if v.IsTemporary && !v.Deactivated && compliance.ExpiryDue(v.ExpiryDate, now) {
			c := *v
			out = append(out, &c)
		}
	}
	return out, nil
}

// memLogRepo enforces the (workspace, vehicle, date) key and the versioned, guarded update
type memLogRepo struct {
	mu    sync.Mutex
	byKey map[string]*domain.Log
	// beforeApply runs once per Apply call before the version check, outside the lock
	beforeApply func()
	applies     int
}

func newMemLogRepo() *memLogRepo {
	return &memLogRepo{byKey: map[string]*domain.Log{}}
}

func logKey(workspaceID, vehicleID, date string) string {
	return workspaceID + "|" + vehicleID + "|" + date
}

func (m *memLogRepo) put(l *domain.Log) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byKey[logKey(l.WorkspaceID, l.VehicleID, l.Date)] = l.Clone()
}

func (m *memLogRepo) CreateOrGet(_ context.Context, l *domain.Log) (*domain.Log, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := logKey(l.WorkspaceID, l.VehicleID, l.Date)
	if existing, ok := m.byKey[k]; ok {
		return existing.Clone(), false, nil
	}
	m.byKey[k] = l.Clone()
	return l.Clone(), true, nil
}

func (m *memLogRepo) GetByKey(_ context.Context, workspaceID, vehicleID, date string) (*domain.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.byKey[logKey(workspaceID, vehicleID, date)]; ok {
		return l.Clone(), nil
	}
	return nil, notFound("log")
}

func (m *memLogRepo) GetByID(_ context.Context, workspaceID, id string) (*domain.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.byKey {
		if l.ID == id && l.WorkspaceID == workspaceID {
			return l.Clone(), nil
		}
	}
	return nil, notFound("log")
}

func (m *memLogRepo) Apply(_ context.Context, l *domain.Log, expectedVersion int, mut domain.Mutation) error {
	if hook := m.beforeApply; hook != nil {
		m.beforeApply = nil
		hook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applies++
	k := logKey(l.WorkspaceID, l.VehicleID, l.Date)
	stored, ok := m.byKey[k]
	if !ok {
		return notFound("log")
	}
	if stored.Version != expectedVersion || compliance.CheckGuard(mut, stored) != nil {
		if err := compliance.CheckGuard(mut, stored); err != nil {
			return err
		}
		return domain.ErrConflict
	}
	l.Version = expectedVersion + 1
	m.byKey[k] = l.Clone()
	return nil
}

func (m *memLogRepo) UpdateComments(_ context.Context, workspaceID, id, comments string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.byKey {
		if l.ID == id && l.WorkspaceID == workspaceID {
			l.Comments = comments
			return nil
		}
	}
	return notFound("log")
}

func (m *memLogRepo) list(keep func(*domain.Log) bool) []*domain.Log {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.Log{}
	for _, l := range m.byKey {
		if keep(l) {
			out = append(out, l.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

func (m *memLogRepo) ListRecent(_ context.Context, workspaceID string, since time.Time) ([]*domain.Log, error) {
	return m.list(func(l *domain.Log) bool {
		return l.WorkspaceID == workspaceID && !l.UpdatedAt.Before(since)
	}), nil
}

func (m *memLogRepo) ListByDateRange(_ context.Context, workspaceID, from, to string) ([]*domain.Log, error) {
	return m.list(func(l *domain.Log) bool {
		return l.WorkspaceID == workspaceID && l.Date >= from && l.Date <= to
	}), nil
}

func (m *memLogRepo) ListByDate(_ context.Context, workspaceID, date string) ([]*domain.Log, error) {
	return m.list(func(l *domain.Log) bool { return l.WorkspaceID == workspaceID && l.Date == date }), nil
}

func (m *memLogRepo) ListByWorkspace(_ context.Context, workspaceID string) ([]*domain.Log, error) {
	return m.list(func(l *domain.Log) bool { return l.WorkspaceID == workspaceID }), nil
}

func (m *memLogRepo) DeleteOlderThan(_ context.Context, workspaceID, cutoff string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, l := range m.byKey {
		if l.WorkspaceID == workspaceID && l.Date < cutoff {
			delete(m.byKey, k)
			n++
		}
	}
	return n, nil
}

type memNotificationRepo struct {
	mu    sync.Mutex
	items []*domain.Notification
}

func (m *memNotificationRepo) Create(_ context.Context, n *domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *n
	m.items = append(m.items, &c)
	return nil
}

func (m *memNotificationRepo) ListByWorkspace(_ context.Context, workspaceID string, limit int) ([]*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.Notification{}
	for i := len(m.items) - 1; i >= 0 && len(out) < limit; i-- {
		if m.items[i].WorkspaceID == workspaceID {
			c := *m.items[i]
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memNotificationRepo) UnreadCount(_ context.Context, workspaceID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, it := range m.items {
		if it.WorkspaceID == workspaceID && !it.Read {
			n++
		}
	}
	return n, nil
}

func (m *memNotificationRepo) HasRecentUnread(_ context.Context, workspaceID string, typ domain.NotificationType, vehicleID string, since time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.WorkspaceID == workspaceID && it.Type == typ && it.VehicleID == vehicleID && !it.Read && !it.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memNotificationRepo) MarkRead(_ context.Context, workspaceID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.ID == id && it.WorkspaceID == workspaceID {
			it.Read = true
			return nil
		}
	}
	return notFound("notification")
}

func (m *memNotificationRepo) MarkAllRead(_ context.Context, workspaceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.WorkspaceID == workspaceID {
			it.Read = true
		}
	}
	return nil
}

func (m *memNotificationRepo) ofType(typ domain.NotificationType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, it := range m.items {
		if it.Type == typ {
			n++
		}
	}
	return n
}

type memAuditRepo struct {
	mu      sync.Mutex
	entries []*domain.AuditEntry
}

func (m *memAuditRepo) Append(_ context.Context, e *domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memAuditRepo) ListByWorkspace(_ context.Context, workspaceID string, f domain.AuditFilter) ([]*domain.AuditEntry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*domain.AuditEntry
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if e.WorkspaceID != workspaceID {
			continue
		}
		if f.ActionType != "" && e.ActionType != f.ActionType {
			continue
		}
		if f.UserID != "" && e.UserID != f.UserID {
			continue
		}
		matched = append(matched, e)
	}
	total := len(matched)
	if f.Offset >= len(matched) {
		return []*domain.AuditEntry{}, total, nil
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

func (m *memAuditRepo) count(action domain.AuditAction) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.ActionType == action {
			n++
		}
	}
	return n
}

type memExportRepo struct {
	mu   sync.Mutex
	byID map[string]*domain.Export
}

func newMemExportRepo() *memExportRepo {
	return &memExportRepo{byID: map[string]*domain.Export{}}
}

func (m *memExportRepo) Create(_ context.Context, e *domain.Export) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *e
	m.byID[e.ID] = &c
	return nil
}

func (m *memExportRepo) Complete(_ context.Context, workspaceID, id string, artifacts []string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok || e.WorkspaceID != workspaceID {
		return notFound("export")
	}
	e.Status = domain.ExportComplete
	e.Artifacts = artifacts
	e.CompletedAt = &at
	return nil
}

func (m *memExportRepo) Fail(_ context.Context, workspaceID, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok || e.WorkspaceID != workspaceID {
		return notFound("export")
	}
	e.Status = domain.ExportFailed
	e.Error = reason
	return nil
}

func (m *memExportRepo) ListByWorkspace(_ context.Context, workspaceID string) ([]*domain.Export, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.Export{}
	for _, e := range m.byID {
		if e.WorkspaceID == workspaceID {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memExportRepo) GetByID(_ context.Context, workspaceID, id string) (*domain.Export, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.byID[id]; ok && e.WorkspaceID == workspaceID {
		c := *e
		return &c, nil
	}
	return nil, notFound("export")
}

type memLeaseRepo struct {
	mu   sync.Mutex
	held map[string]bool
}

func (m *memLeaseRepo) Acquire(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held == nil {
		m.held = map[string]bool{}
	}
	if m.held[key] {
		return false, nil
	}
	m.held[key] = true
	return true, nil
}

func (m *memLeaseRepo) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, key)
	return nil
}

type memBoardCache struct {
	mu          sync.Mutex
	boards      map[string]*compliance.Board
	invalidated int
}

func (m *memBoardCache) Get(_ context.Context, workspaceID string) (*compliance.Board, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.boards[workspaceID]
	return b, ok, nil
}

func (m *memBoardCache) Set(_ context.Context, workspaceID string, board *compliance.Board, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.boards == nil {
		m.boards = map[string]*compliance.Board{}
	}
	m.boards[workspaceID] = board
	return nil
}

func (m *memBoardCache) Invalidate(_ context.Context, workspaceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.boards, workspaceID)
	m.invalidated++
	return nil
}
