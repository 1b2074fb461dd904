package service

import (
	"context"
	"testing"
	"time"

	"github.com/coldtrack/coldtrack/internal/domain"
	"github.com/coldtrack/coldtrack/internal/featureflags"
	"github.com/coldtrack/coldtrack/internal/security/audit"
	"github.com/coldtrack/coldtrack/internal/security/auth"
)

const testPassword = "Secret#2024"

// Wednesday 14 Oct 2026, 10:00 in Perth
var wednesday = time.Date(2026, 10, 14, 2, 0, 0, 0, time.UTC)

// Friday 16 Oct 2026, 10:00 in Perth
var friday = time.Date(2026, 10, 16, 2, 0, 0, 0, time.UTC)

type fixture struct {
	users      *memUserRepo
	workspaces *memWorkspaceRepo
	vehicles   *memVehicleRepo
	logs       *memLogRepo
	notes      *memNotificationRepo
	audits     *memAuditRepo
	exports    *memExportRepo
	board      *memBoardCache

	tokens    *auth.TokenManager
	wsSvc     *WorkspaceService
	authSvc   *AuthService
	userSvc   *UserService
	vehicleSv *VehicleService
	notify    *NotificationService
	logSvc    *LogService
	dash      *DashboardService
	exportSvc *ExportService
	backup    *BackupService

	ws      *domain.Workspace
	owner   *domain.User
	office  *domain.User
	driver  *domain.User
	vehicle *domain.Vehicle
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	f := &fixture{
		users:      newMemUserRepo(),
		workspaces: newMemWorkspaceRepo(),
		vehicles:   newMemVehicleRepo(),
		logs:       newMemLogRepo(),
		notes:      &memNotificationRepo{},
		audits:     &memAuditRepo{},
		exports:    newMemExportRepo(),
		board:      &memBoardCache{},
		tokens:     auth.NewTokenManager("test-secret", "coldtrack"),
	}
	clock := func() time.Time { return now }
	auditLog := audit.NewLogger(discardLogger, f.audits)
	flags := featureflags.Static()

	f.wsSvc = NewWorkspaceService(f.workspaces, f.users, f.vehicles, f.logs, auditLog, discardLogger)
	f.wsSvc.now = clock
	f.authSvc = NewAuthService(f.users, f.workspaces, f.tokens, auditLog, time.Hour, discardLogger)
	f.authSvc.now = clock
	f.userSvc = NewUserService(f.users, f.wsSvc, auditLog, discardLogger)
	f.userSvc.now = clock
	f.vehicleSv = NewVehicleService(f.vehicles, f.wsSvc, auditLog, discardLogger)
	f.vehicleSv.now = clock
	f.notify = NewNotificationService(f.notes, nil, discardLogger)
	f.notify.now = clock
	f.logSvc = NewLogService(f.logs, f.vehicles, f.wsSvc, f.notify, auditLog, f.board, flags, discardLogger)
	f.logSvc.now = clock
	f.dash = NewDashboardService(f.logs, f.vehicles, f.users, f.wsSvc, f.audits, f.board, time.Second, flags, discardLogger)
	f.dash.now = clock
	f.exportSvc = NewExportService(f.exports, f.logs, f.vehicles, f.users, f.wsSvc, NewJSONRenderer(t.TempDir()), auditLog, discardLogger)
	f.exportSvc.now = clock
	f.backup = NewBackupService(f.workspaces, f.users, f.vehicles, f.logs, f.wsSvc, auditLog, discardLogger)
	f.backup.now = clock

	ctx := context.Background()
	res, err := f.wsSvc.Provision(ctx, Caller{UserID: "root", Role: domain.RoleSuperadmin},
		ProvisionInput{Name: "Acme Cold Chain", OwnerFirstName: "Olive", OwnerLastName: "Owner"})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	f.ws = res.Workspace
	f.owner = f.setPassword(t, res.Owner)

	f.office = f.addUser(t, "Oscar", "Office", domain.RoleOffice)
	f.driver = f.addUser(t, "Dana", "Driver", domain.RoleDriver)

	v, err := f.vehicleSv.Create(ctx, f.as(f.owner), CreateVehicleInput{Rego: "1abc 234", TemperatureType: domain.TempTypeChiller})
	if err != nil {
		t.Fatalf("create vehicle: %v", err)
	}
	f.vehicle = v
	return f
}

// setPassword replaces a generated password with testPassword and clears the change flag
func (f *fixture) setPassword(t *testing.T, u *domain.User) *domain.User {
	t.Helper()
	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	f.users.mu.Lock()
	stored := f.users.byID[u.ID]
	stored.PasswordHash = hash
	stored.MustChangePassword = false
	c := *stored
	f.users.mu.Unlock()
	return &c
}

func (f *fixture) addUser(t *testing.T, first, last string, role domain.Role) *domain.User {
	t.Helper()
	created, err := f.userSvc.Create(context.Background(), f.as(f.owner), CreateUserInput{FirstName: first, LastName: last, Role: role})
	if err != nil {
		t.Fatalf("create %s: %v", role, err)
	}
	return f.setPassword(t, created.User)
}

func (f *fixture) as(u *domain.User) Caller {
	return Caller{
		UserID:      u.ID,
		WorkspaceID: u.WorkspaceID,
		Username:    u.Username,
		Name:        u.Name,
		Role:        u.Role,
		IP:          "203.0.113.7",
		UserAgent:   "test",
	}
}

func temps(kv ...any) map[domain.Zone]domain.TempValue {
	out := map[domain.Zone]domain.TempValue{}
	for i := 0; i+1 < len(kv); i += 2 {
		z := kv[i].(domain.Zone)
		switch v := kv[i+1].(type) {
		case float64:
			out[z] = domain.NumberTemp(v)
		case string:
			out[z] = domain.StringTemp(v)
		}
	}
	return out
}

func wantCode(t *testing.T, err error, code domain.Code) {
	t.Helper()
	if got := domain.CodeOf(err); got != code {
		t.Fatalf("expected %s, got %v (%v)", code, got, err)
	}
}
