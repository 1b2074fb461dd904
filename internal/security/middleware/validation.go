package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/coldtrack/coldtrack/internal/domain"
)

// MaxBodyBytes caps request bodies. Restore payloads are the largest legitimate body.
const MaxBodyBytes = 32 << 20

// ValidateJSONContentType ensures POST/PUT requests with a body are JSON and bounds the body size
func ValidateJSONContentType(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
				next.ServeHTTP(w, r)
				return
			}

			// bodiless actions such as /deactivate
			if r.ContentLength == 0 {
				next.ServeHTTP(w, r)
				return
			}

			contentType := r.Header.Get("Content-Type")
			if !strings.Contains(contentType, "application/json") {
				log.Warn("invalid content type",
					slog.String("path", r.URL.Path),
					slog.String("content_type", contentType),
					slog.String("method", r.Method),
				)
				writeError(w, http.StatusUnsupportedMediaType, domain.CodeInvalidInput, "Content-Type must be application/json")
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// SanitizeInputs rejects markup in query parameters and path traversal patterns
func SanitizeInputs(log *slog.Logger) func(http.Handler) http.Handler {
	dangerousChars := []string{"<", ">", "\"", "'"}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for key, values := range r.URL.Query() {
				if key == "token" {
					continue
				}
				for _, val := range values {
					for _, char := range dangerousChars {
						if strings.Contains(val, char) {
							log.Warn("suspicious input detected",
								slog.String("path", r.URL.Path),
								slog.String("param", key),
								slog.String("pattern", char),
							)
							writeError(w, http.StatusBadRequest, domain.CodeInvalidInput, "invalid input: dangerous characters detected")
							return
						}
					}
				}
			}

			if strings.Contains(r.URL.Path, "..") || strings.Contains(r.URL.Path, "//") {
				log.Warn("suspicious path pattern detected",
					slog.String("path", r.URL.Path),
				)
				writeError(w, http.StatusBadRequest, domain.CodeInvalidInput, "invalid path")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
