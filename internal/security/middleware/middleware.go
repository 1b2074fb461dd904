package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coldtrack/coldtrack/internal/domain"
	"github.com/coldtrack/coldtrack/internal/security"
	"github.com/coldtrack/coldtrack/internal/security/audit"
	"github.com/coldtrack/coldtrack/internal/security/auth"
	"github.com/coldtrack/coldtrack/internal/security/ratelimit"
)

type WorkspaceContextKey struct{}
type ClaimsContextKey struct{}
type UserContextKey struct{}

var publicPaths = map[string]bool{
	"/healthz":        true,
	"/readyz":         true,
	"/metrics":        true,
	"/api/auth/login": true,
}

func isPublic(path string) bool {
	return publicPaths[path]
}

// writeError writes the same {"error","code"} body the handlers use
func writeError(w http.ResponseWriter, status int, code domain.Code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": string(code)})
}

// JWTMiddleware validates the bearer token. Websocket upgrades may pass it as ?token= instead.
func JWTMiddleware(tm *auth.TokenManager, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublic(r.URL.Path) || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			var tokenString string
			authHeader := r.Header.Get("Authorization")
			switch {
			case authHeader != "":
				t, err := auth.ExtractToken(authHeader)
				if err != nil {
					writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "invalid auth")
					return
				}
				tokenString = t
			case strings.HasPrefix(r.URL.Path, "/ws/") && r.URL.Query().Get("token") != "":
				tokenString = r.URL.Query().Get("token")
			default:
				writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "missing auth")
				return
			}

			claims, err := tm.ValidateToken(tokenString)
			if err != nil {
				log.Debug("token rejected", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
				writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsContextKey{}, claims)
			ctx = context.WithValue(ctx, WorkspaceContextKey{}, claims.WorkspaceID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccessChecker re-validates the account behind a token on every request
type AccessChecker interface {
	CheckAccess(ctx context.Context, claims *auth.Claims) (*domain.User, error)
}

// paths still reachable while a password change is pending
var passwordChangePaths = map[string]bool{
	"/api/auth/change-password": true,
	"/api/auth/consent":         true,
	"/api/auth/me":              true,
}

// AccountGuard rejects tokens of deactivated users, suspended workspaces and
// sessions issued before the last password change. It also holds users with a
// pending password change to the change-password endpoints.
func AccountGuard(checker AccessChecker, auditLog *audit.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaimsFromContext(r.Context())
			if claims == nil {
				next.ServeHTTP(w, r)
				return
			}

			user, err := checker.CheckAccess(r.Context(), claims)
			if err != nil {
				code := domain.CodeOf(err)
				status := http.StatusInternalServerError
				msg := "access check failed"
				switch code {
				case domain.CodeUnauthorized, domain.CodeNotFound:
					status, code, msg = http.StatusUnauthorized, domain.CodeUnauthorized, "session expired"
				case domain.CodeForbidden, domain.CodeWorkspaceSuspended:
					status, msg = http.StatusForbidden, err.Error()
				}
				auditLog.LogDenied(r.Context(), claims.WorkspaceID, claims.UserID, string(code))
				writeError(w, status, code, msg)
				return
			}

			if user.MustChangePassword && claims.Impersonator == "" && !passwordChangePaths[r.URL.Path] {
				writeError(w, http.StatusForbidden, domain.CodeForbidden, "password change required")
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), UserContextKey{}, user)))
		})
	}
}

// RequirePermission allows the request only if the caller's role carries the permission
func RequirePermission(authz *security.AuthorizationService, perm security.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaimsFromContext(r.Context())
			if claims == nil {
				writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "missing auth")
				return
			}
			if err := authz.ValidatePermission(claims.Role, perm); err != nil {
				writeError(w, http.StatusForbidden, domain.CodeForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitMiddleware applies the per-workspace request limit
func RateLimitMiddleware(limiter *ratelimit.Limiter, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublic(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			workspaceID := GetWorkspaceFromContext(r.Context())
			if !limiter.Allow(workspaceID) {
				log.Warn("rate limit exceeded", slog.String("workspace_id", workspaceID))
				writeError(w, http.StatusTooManyRequests, domain.CodeLimitReached, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// LoginRateLimit applies a strict per-IP limit to the login endpoint
func LoginRateLimit(limiter *ratelimit.Limiter, maxAttempts int, window time.Duration, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != "/api/auth/login" {
				next.ServeHTTP(w, r)
				return
			}
			ip := ClientIP(r)
			if !limiter.AllowStrict(ip, maxAttempts, window) {
				log.Warn("login rate limit exceeded", slog.String("ip", ip))
				writeError(w, http.StatusTooManyRequests, domain.CodeLimitReached, "too many login attempts, try again later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the first X-Forwarded-For hop, or the remote address
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// AuditMiddleware logs every mutating API call with the caller's identity
func AuditMiddleware(auditLog *audit.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost, http.MethodPut, http.MethodDelete:
				var userID string
				if claims := GetClaimsFromContext(r.Context()); claims != nil {
					userID = claims.UserID
				}
				auditLog.LogRequest(r.Context(), GetWorkspaceFromContext(r.Context()), userID, r.Method, r.URL.Path)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID attaches a request ID to the context and response headers and logs completion
func RequestID(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", reqID)

			ctx := audit.WithRequestID(r.Context(), reqID)
			start := time.Now()

			next.ServeHTTP(w, r.WithContext(ctx))

			log.Info("request completed",
				slog.String("request_id", reqID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Duration("duration_ms", time.Since(start)),
			)
		})
	}
}

// CORS honours the configured origins
func CORS(allowed []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if originAllowed(allowed, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			} else if len(allowed) > 0 {
				w.Header().Set("Access-Control-Allow-Origin", allowed[0])
			}
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return false
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

func GetWorkspaceFromContext(ctx context.Context) string {
	if t, ok := ctx.Value(WorkspaceContextKey{}).(string); ok {
		return t
	}
	return ""
}

func GetClaimsFromContext(ctx context.Context) *auth.Claims {
	if c, ok := ctx.Value(ClaimsContextKey{}).(*auth.Claims); ok {
		return c
	}
	return nil
}

// GetUserFromContext returns the account loaded by AccountGuard
func GetUserFromContext(ctx context.Context) *domain.User {
	if u, ok := ctx.Value(UserContextKey{}).(*domain.User); ok {
		return u
	}
	return nil
}

// WithClaims stores claims the way JWTMiddleware does. Used by handlers under test.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	ctx = context.WithValue(ctx, ClaimsContextKey{}, claims)
	return context.WithValue(ctx, WorkspaceContextKey{}, claims.WorkspaceID)
}
