package handler

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coldtrack/coldtrack/internal/security"
	"github.com/coldtrack/coldtrack/internal/security/middleware"
)

// Handlers groups every HTTP handler of the API
type Handlers struct {
	Health        *HealthHandler
	Auth          *AuthHandler
	Logs          *LogHandler
	Dashboard     *DashboardHandler
	Users         *UserHandler
	Vehicles      *VehicleHandler
	Settings      *SettingsHandler
	Exports       *ExportHandler
	Notifications *NotificationHandler
	Portal        *PortalHandler
	Backup        *BackupHandler
}

// Register mounts the API on mux. Routes that need more than an authenticated
// caller are wrapped with their permission.
func (hs *Handlers) Register(mux *http.ServeMux, authz *security.AuthorizationService) {
	perm := func(p security.Permission, h http.HandlerFunc) http.Handler {
		return middleware.RequirePermission(authz, p)(h)
	}

	mux.HandleFunc("GET /healthz", hs.Health.Health)
	mux.HandleFunc("GET /readyz", hs.Health.Ready)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/auth/login", hs.Auth.Login)
	mux.HandleFunc("GET /api/auth/me", hs.Auth.Me)
	mux.HandleFunc("POST /api/auth/change-password", hs.Auth.ChangePassword)
	mux.HandleFunc("POST /api/auth/consent", hs.Auth.Consent)

	// driver
	mux.Handle("GET /api/trucks/{id}/today", perm(security.PermRecordTemps, hs.Logs.Today))
	mux.Handle("POST /api/trucks/{id}/checklist", perm(security.PermRecordTemps, hs.Logs.Checklist))
	mux.Handle("POST /api/trucks/{id}/temps", perm(security.PermRecordTemps, hs.Logs.AddReading))
	mux.Handle("PUT /api/trucks/{id}/temps/{tempId}", perm(security.PermRecordTemps, hs.Logs.EditReading))
	mux.Handle("POST /api/trucks/{id}/end-shift", perm(security.PermRecordTemps, hs.Logs.EndShift))

	// office
	mux.Handle("POST /api/assets/{id}/admin-sign", perm(security.PermSignOff, hs.Logs.AdminSign))
	mux.Handle("POST /api/assets/{id}/week-note", perm(security.PermAddWeekNote, hs.Logs.WeekNote))
	mux.Handle("GET /api/assets/{id}/week", perm(security.PermViewDashboard, hs.Dashboard.Week))
	mux.Handle("GET /api/live", perm(security.PermViewDashboard, hs.Dashboard.Live))
	mux.Handle("GET /ws/live", perm(security.PermViewDashboard, hs.Dashboard.LiveSocket))
	mux.Handle("GET /api/exceptions", perm(security.PermViewDashboard, hs.Dashboard.Exceptions))
	mux.Handle("GET /api/activity", perm(security.PermViewAuditLog, hs.Dashboard.Activity))

	mux.Handle("GET /api/notifications", perm(security.PermViewDashboard, hs.Notifications.List))
	mux.Handle("GET /api/notifications/unread-count", perm(security.PermViewDashboard, hs.Notifications.UnreadCount))
	mux.Handle("POST /api/notifications/read-all", perm(security.PermViewDashboard, hs.Notifications.MarkAllRead))
	mux.Handle("POST /api/notifications/{id}/read", perm(security.PermViewDashboard, hs.Notifications.MarkRead))

	mux.HandleFunc("GET /api/assets", hs.Vehicles.List)
	mux.Handle("POST /api/assets", perm(security.PermManageVehicles, hs.Vehicles.Create))
	mux.Handle("POST /api/assets/{id}/deactivate", perm(security.PermManageVehicles, hs.Vehicles.Deactivate))
	mux.Handle("POST /api/assets/{id}/reactivate", perm(security.PermManageVehicles, hs.Vehicles.Reactivate))
	mux.Handle("POST /api/assets/{id}/service-records", perm(security.PermServiceVehicles, hs.Vehicles.ServiceRecord))

	mux.HandleFunc("GET /api/settings", hs.Settings.Get)
	mux.Handle("PUT /api/settings/compliance", perm(security.PermManageSettings, hs.Settings.UpdateCompliance))
	mux.Handle("PUT /api/settings/checklist", perm(security.PermManageSettings, hs.Settings.UpdateChecklist))
	mux.Handle("PUT /api/settings/export", perm(security.PermManageSettings, hs.Settings.UpdateExport))

	mux.Handle("GET /api/exports", perm(security.PermManageExports, hs.Exports.List))
	mux.Handle("POST /api/exports", perm(security.PermManageExports, hs.Exports.Create))

	mux.Handle("GET /api/users", perm(security.PermManageUsers, hs.Users.List))
	mux.Handle("POST /api/users", perm(security.PermManageUsers, hs.Users.Create))
	mux.Handle("POST /api/users/transfer-ownership", perm(security.PermManageUsers, hs.Users.TransferOwnership))
	mux.Handle("POST /api/users/{id}/role", perm(security.PermManageUsers, hs.Users.ChangeRole))
	mux.Handle("POST /api/users/{id}/deactivate", perm(security.PermManageUsers, hs.Users.Deactivate))
	mux.Handle("POST /api/users/{id}/reactivate", perm(security.PermManageUsers, hs.Users.Reactivate))
	mux.Handle("POST /api/users/{id}/reset-password", perm(security.PermManageUsers, hs.Users.ResetPassword))

	// portal
	mux.Handle("GET /api/portal/stats", perm(security.PermManagePlatform, hs.Portal.Stats))
	mux.Handle("GET /api/portal/workspaces", perm(security.PermManagePlatform, hs.Portal.List))
	mux.Handle("POST /api/portal/workspaces", perm(security.PermManagePlatform, hs.Portal.Provision))
	mux.Handle("POST /api/portal/workspaces/{id}/suspend", perm(security.PermManagePlatform, hs.Portal.Suspend))
	mux.Handle("POST /api/portal/workspaces/{id}/activate", perm(security.PermManagePlatform, hs.Portal.Activate))
	mux.Handle("POST /api/portal/workspaces/{id}/limits", perm(security.PermManagePlatform, hs.Portal.Limits))
	mux.Handle("POST /api/portal/workspaces/{id}/retention", perm(security.PermManagePlatform, hs.Portal.Retention))
	mux.Handle("POST /api/portal/workspaces/{id}/login-as-owner", perm(security.PermManagePlatform, hs.Portal.LoginAsOwner))
	mux.Handle("POST /api/portal/workspaces/{id}/reset-owner-password", perm(security.PermManagePlatform, hs.Portal.ResetOwnerPassword))
	mux.Handle("GET /api/portal/workspaces/{id}/backup", perm(security.PermManagePlatform, hs.Backup.Backup))
	mux.Handle("POST /api/portal/workspaces/{id}/restore", perm(security.PermManagePlatform, hs.Backup.Restore))
}
