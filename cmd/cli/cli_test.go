package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coldtrack/coldtrack/internal/compliance"
	"github.com/coldtrack/coldtrack/internal/domain"
	"github.com/coldtrack/coldtrack/internal/security/auth"
)

type memSuperadmins struct {
	existing *domain.User
	created  *domain.User
}

func (m *memSuperadmins) GetSuperadmin(context.Context) (*domain.User, error) {
	if m.existing == nil {
		return nil, domain.ErrNotFound
	}
	return m.existing, nil
}

func (m *memSuperadmins) Create(_ context.Context, u *domain.User) error {
	m.created = u
	return nil
}

func TestCreateSuperadminGeneratesPassword(t *testing.T) {
	store := &memSuperadmins{}
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	u, password, err := createSuperadmin(context.Background(), store, " Root ", "Platform Admin", "", now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.Username != "root" || u.Role != domain.RoleSuperadmin || u.WorkspaceID != "" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if len(password) != superadminPasswordLength || !u.MustChangePassword {
		t.Fatalf("a generated password must be changed at first login")
	}
	if !auth.CheckPassword(store.created.PasswordHash, password) {
		t.Fatalf("stored hash does not match the printed password")
	}
}

func TestCreateSuperadminRefusesSecond(t *testing.T) {
	store := &memSuperadmins{existing: &domain.User{Username: "root"}}
	if _, _, err := createSuperadmin(context.Background(), store, "other", "", "", time.Now()); err == nil {
		t.Fatalf("expected an error when a superadmin exists")
	}
	if store.created != nil {
		t.Fatalf("nothing should be stored")
	}
}

func TestCreateSuperadminChecksChosenPassword(t *testing.T) {
	store := &memSuperadmins{}
	if _, _, err := createSuperadmin(context.Background(), store, "root", "", "short", time.Now()); err == nil {
		t.Fatalf("weak passwords are rejected")
	}
}

func TestAPIClientSendsTokenAndDecodesErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "missing token", "code": "UNAUTHORIZED"})
			return
		}
		_ = json.NewEncoder(w).Encode(compliance.Board{Active: 2, Overdue: 1, OverdueMinutes: 120, Vehicles: []compliance.Entry{
			{Rego: "COLD01", DriverName: "Dana D", Status: compliance.EntryOverdue, MinutesAgo: 140, HasAlert: true},
		}})
	}))
	defer srv.Close()

	var board compliance.Board
	if err := newAPIClient(srv.URL, "tok").do(context.Background(), http.MethodGet, "/api/live", nil, &board); err != nil {
		t.Fatalf("do: %v", err)
	}
	var out bytes.Buffer
	if err := printBoard(&out, &board); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "COLD01") || !strings.Contains(out.String(), "overdue 1") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}

	err := newAPIClient(srv.URL, "").do(context.Background(), http.MethodGet, "/api/live", nil, &board)
	apiErr, ok := err.(*apiError)
	if !ok || apiErr.Status != http.StatusUnauthorized || apiErr.Code != "UNAUTHORIZED" {
		t.Fatalf("expected a decoded API error, got %v", err)
	}
}
