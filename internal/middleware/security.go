package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	apperrors "licenselock/internal/errors"
)

// HeaderAdminSecret carries the administrative secret.
const HeaderAdminSecret = "X-Admin-Secret"

// AuthorizeFunc checks a presented secret, returning an error wrapping
// errors.ErrUnauthorized on mismatch.
type AuthorizeFunc func(presented string) error

// PresentedSecret returns the secret from X-Admin-Secret, falling back to an
// Authorization: Bearer header.
func PresentedSecret(r *http.Request) string {
	if secret := r.Header.Get(HeaderAdminSecret); secret != "" {
		return secret
	}
	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// AdminAuth rejects requests whose presented secret fails authorize with a
// 401 problem. The secret itself is never logged.
func AdminAuth(authorize AuthorizeFunc, errorHandler *apperrors.ErrorHandler, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if err := authorize(PresentedSecret(r)); err != nil {
				logger.WarnContext(ctx, "administrative request rejected",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
					slog.String("request_id", GetReqID(ctx)),
				)
				errorHandler.HandleError(w, r, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// AuditLog records who called an administrative endpoint and the outcome
func AuditLog(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.InfoContext(ctx, "audit log",
				slog.String("event_type", "admin_access"),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("user_agent", r.UserAgent()),
				slog.Int("status", ww.Status()),
				slog.String("duration", time.Since(start).String()),
				slog.String("request_id", GetReqID(ctx)),
			)
		})
	}
}
