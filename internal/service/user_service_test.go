package service

import (
	"context"
	"testing"
	"time"

	"github.com/coldtrack/coldtrack/internal/domain"
)

func TestGenerateUsername(t *testing.T) {
	cases := []struct {
		first, last string
		existing    []string
		want        string
	}{
		{"Jane", "Smith", nil, "janes"},
		{"Jane", "Smith", []string{"JaneS"}, "janes2"},
		{"Jane", "Smith", []string{"janes", "janes2"}, "janes3"},
		{"Mary-Ann", "", nil, "maryann"},
		{"", "", nil, "user"},
		{"Zoë", "O'Neil", nil, "zoo"},
	}
	for _, c := range cases {
		if got := GenerateUsername(c.first, c.last, c.existing); got != c.want {
			t.Errorf("GenerateUsername(%q, %q, %v) = %q, want %q", c.first, c.last, c.existing, got, c.want)
		}
	}
}

func TestCreateUserIssuesOneTimePassword(t *testing.T) {
	f := newFixture(t, wednesday)
	ctx := context.Background()

	created, err := f.userSvc.Create(ctx, f.as(f.owner), CreateUserInput{FirstName: "Dana", LastName: "Dunn"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// "danad" is taken by the fixture driver
	if created.User.Username != "danad2" {
		t.Fatalf("expected suffixed username, got %q", created.User.Username)
	}
	if created.User.Role != domain.RoleDriver || !created.User.MustChangePassword {
		t.Fatalf("expected a driver that must change password: %+v", created.User)
	}
	if len(created.Password) != generatedPasswordLength {
		t.Fatalf("expected %d character password, got %q", generatedPasswordLength, created.Password)
	}
	if _, err := f.authSvc.Login(ctx, LoginInput{Workspace: f.ws.Slug, Username: "danad2", Password: created.Password}); err != nil {
		t.Fatalf("login with one-time password: %v", err)
	}
}

func TestCreateUserRespectsRoleHierarchy(t *testing.T) {
	f := newFixture(t, wednesday)
	ctx := context.Background()

	_, err := f.userSvc.Create(ctx, f.as(f.office), CreateUserInput{FirstName: "Amy", Role: domain.RoleAdmin})
	wantCode(t, err, domain.CodeForbidden)

	_, err = f.userSvc.Create(ctx, f.as(f.owner), CreateUserInput{FirstName: "Sam", Role: domain.RoleSuperadmin})
	wantCode(t, err, domain.CodeInvalidInput)

	if _, err := f.userSvc.Create(ctx, f.as(f.owner), CreateUserInput{FirstName: "Amy", Role: domain.RoleAdmin}); err != nil {
		t.Fatalf("owner creating admin: %v", err)
	}
}

func TestCreateUserLimit(t *testing.T) {
	f := newFixture(t, wednesday)
	ctx := context.Background()
	// owner, office and driver are active
	if err := f.workspaces.SetLimits(ctx, f.ws.ID, 3, 5, 10); err != nil {
		t.Fatal(err)
	}
	f.wsSvc.invalidate(f.ws.ID)

	_, err := f.userSvc.Create(ctx, f.as(f.owner), CreateUserInput{FirstName: "Extra"})
	wantCode(t, err, domain.CodeLimitReached)

	// deactivating frees a seat, reactivating needs one
	if err := f.userSvc.SetDeactivated(ctx, f.as(f.owner), f.driver.ID, true); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := f.userSvc.Create(ctx, f.as(f.owner), CreateUserInput{FirstName: "Extra"}); err != nil {
		t.Fatalf("create after freeing a seat: %v", err)
	}
	err = f.userSvc.SetDeactivated(ctx, f.as(f.owner), f.driver.ID, false)
	wantCode(t, err, domain.CodeLimitReached)
}

func TestTemporaryUserExpiresAtOneMinutePastMidnightLocal(t *testing.T) {
	f := newFixture(t, wednesday)
	created, err := f.userSvc.Create(context.Background(), f.as(f.owner),
		CreateUserInput{FirstName: "Tim", IsTemporary: true, ExpiryDate: "2026-11-02"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Perth is UTC+8
	want := time.Date(2026, 11, 1, 16, 1, 0, 0, time.UTC)
	if created.User.ExpiryDate == nil || !created.User.ExpiryDate.Equal(want) {
		t.Fatalf("expiry = %v, want %v", created.User.ExpiryDate, want)
	}

	_, err = f.userSvc.Create(context.Background(), f.as(f.owner), CreateUserInput{FirstName: "Tim", IsTemporary: true})
	wantCode(t, err, domain.CodeInvalidInput)
}

func TestChangeRoleAndDeactivateRules(t *testing.T) {
	f := newFixture(t, wednesday)
	ctx := context.Background()

	_, err := f.userSvc.ChangeRole(ctx, f.as(f.office), f.owner.ID, domain.RoleDriver)
	wantCode(t, err, domain.CodeForbidden)

	_, err = f.userSvc.ChangeRole(ctx, f.as(f.owner), f.owner.ID, domain.RoleOffice)
	wantCode(t, err, domain.CodeForbidden)

	u, err := f.userSvc.ChangeRole(ctx, f.as(f.owner), f.driver.ID, domain.RoleOffice)
	if err != nil {
		t.Fatalf("promote driver: %v", err)
	}
	if u.Role != domain.RoleOffice || f.audits.count(domain.ActionRoleChanged) != 1 {
		t.Fatalf("expected role change to office with audit entry")
	}

	err = f.userSvc.SetDeactivated(ctx, f.as(f.office), f.owner.ID, true)
	wantCode(t, err, domain.CodeForbidden)
	err = f.userSvc.SetDeactivated(ctx, f.as(f.owner), f.owner.ID, true)
	wantCode(t, err, domain.CodeForbidden)
}

func TestResetPasswordNeedsHigherRank(t *testing.T) {
	f := newFixture(t, wednesday)
	ctx := context.Background()

	_, err := f.userSvc.ResetPassword(ctx, f.as(f.office), f.owner.ID)
	wantCode(t, err, domain.CodeForbidden)

	res, err := f.userSvc.ResetPassword(ctx, f.as(f.office), f.driver.ID)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	stored, _ := f.users.GetByID(ctx, f.driver.ID)
	if !stored.MustChangePassword || res.Password == "" {
		t.Fatalf("expected a one-time password that must be changed")
	}
}

func TestTransferOwnership(t *testing.T) {
	f := newFixture(t, wednesday)
	ctx := context.Background()
	admin := f.addUser(t, "Ada", "Admin", domain.RoleAdmin)

	err := f.userSvc.TransferOwnership(ctx, f.as(f.owner), TransferOwnershipInput{NewOwnerID: admin.ID, ConfirmPassword: "nope"})
	wantCode(t, err, domain.CodeForbidden)

	err = f.userSvc.TransferOwnership(ctx, f.as(f.owner), TransferOwnershipInput{NewOwnerID: f.office.ID, ConfirmPassword: testPassword})
	wantCode(t, err, domain.CodeInvalidInput)

	err = f.userSvc.TransferOwnership(ctx, f.as(admin), TransferOwnershipInput{NewOwnerID: f.owner.ID, ConfirmPassword: testPassword})
	wantCode(t, err, domain.CodeForbidden)

	if err := f.userSvc.TransferOwnership(ctx, f.as(f.owner), TransferOwnershipInput{NewOwnerID: admin.ID, ConfirmPassword: testPassword}); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	prev, _ := f.users.GetByID(ctx, f.owner.ID)
	next, _ := f.users.GetByID(ctx, admin.ID)
	if prev.IsOwner || !next.IsOwner || prev.Role != domain.RoleAdmin {
		t.Fatalf("ownership not moved: prev=%+v next=%+v", prev, next)
	}
	if f.audits.count(domain.ActionOwnershipTransferred) != 1 {
		t.Fatalf("expected ownership audit entry")
	}
}

func TestResetOwnerPasswordFromPortal(t *testing.T) {
	f := newFixture(t, wednesday)
	ctx := context.Background()

	_, err := f.userSvc.ResetOwnerPassword(ctx, f.as(f.owner), f.ws.ID)
	wantCode(t, err, domain.CodeForbidden)

	res, err := f.userSvc.ResetOwnerPassword(ctx, Caller{UserID: "root", Role: domain.RoleSuperadmin}, f.ws.ID)
	if err != nil {
		t.Fatalf("reset owner password: %v", err)
	}
	if res.User.ID != f.owner.ID || len(res.Password) != ownerPasswordLength {
		t.Fatalf("unexpected reset result: %+v", res)
	}
}
