package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/coldtrack/coldtrack/internal/domain"
)

func TestBackupCarriesCredentials(t *testing.T) {
	f := newFixture(t, wednesday)
	ctx := context.Background()
	if _, err := f.logSvc.Today(ctx, f.as(f.driver), f.vehicle.ID); err != nil {
		t.Fatal(err)
	}

	b, err := f.backup.Backup(ctx, f.as(f.owner), f.ws.ID)
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if b.Version != BackupVersion || len(b.Users) != 3 || len(b.Vehicles) != 1 || len(b.Logs) != 1 {
		t.Fatalf("unexpected backup: version=%d users=%d vehicles=%d logs=%d", b.Version, len(b.Users), len(b.Vehicles), len(b.Logs))
	}

	raw, err := json.Marshal(b)
	if err != nil {
		t.Fatal(err)
	}
	var decoded domain.Backup
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	for _, u := range decoded.Users {
		if u.PasswordHash == "" {
			t.Fatalf("backup user %s lost its password hash", u.Username)
		}
	}
	if f.audits.count(domain.ActionBackupExported) != 1 {
		t.Fatalf("expected backup audit entry")
	}
}

func TestRestoreReimportsMissingRecords(t *testing.T) {
	f := newFixture(t, wednesday)
	ctx := context.Background()
	b, err := f.backup.Backup(ctx, f.as(f.owner), f.ws.ID)
	if err != nil {
		t.Fatal(err)
	}

	f.users.mu.Lock()
	delete(f.users.byID, f.driver.ID)
	f.users.mu.Unlock()
	f.vehicles.mu.Lock()
	delete(f.vehicles.byID, f.vehicle.ID)
	f.vehicles.mu.Unlock()
	if err := f.workspaces.Update(ctx, f.ws.ID, "Renamed"); err != nil {
		t.Fatal(err)
	}

	res, err := f.backup.Restore(ctx, f.as(f.owner), f.ws.ID, b)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if res.UsersRestored != 1 || res.VehiclesRestored != 1 || res.Skipped != 0 {
		t.Fatalf("unexpected restore result: %+v", res)
	}
	ws, _ := f.wsSvc.Get(ctx, f.ws.ID)
	if ws.Name != "Acme Cold Chain" {
		t.Fatalf("workspace name not restored: %q", ws.Name)
	}
	if _, err := f.authSvc.Login(ctx, LoginInput{Workspace: f.ws.Slug, Username: f.driver.Username, Password: testPassword}); err != nil {
		t.Fatalf("restored driver cannot log in: %v", err)
	}
	if f.audits.count(domain.ActionBackupRestored) != 1 {
		t.Fatalf("expected restore audit entry")
	}
}

func TestRestoreRejectsForeignBackup(t *testing.T) {
	f := newFixture(t, wednesday)
	ctx := context.Background()

	_, err := f.backup.Restore(ctx, f.as(f.owner), f.ws.ID, &domain.Backup{Workspace: &domain.Workspace{ID: "other"}})
	wantCode(t, err, domain.CodeInvalidInput)
	_, err = f.backup.Restore(ctx, f.as(f.owner), f.ws.ID, &domain.Backup{})
	wantCode(t, err, domain.CodeInvalidInput)
}
