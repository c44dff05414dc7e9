package handlers

import (
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"

	"github.com/storefrontapp/storefront/internal/observability"
)

// SecurityHeaders sets baseline security headers for all responses.
func (h *Handlers) SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := w.Header()
		headers.Set("X-Content-Type-Options", "nosniff")
		headers.Set("X-Frame-Options", "DENY")
		headers.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		headers.Set("Cross-Origin-Opener-Policy", "same-origin")
		headers.Set("Cross-Origin-Resource-Policy", "same-origin")
		headers.Set("Cache-Control", "no-store")

		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects requests without a valid admin bearer token.
func (h *Handlers) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		meter := observability.MeterFromContext(ctx)
		meter.SetAttributes(attribute.String("component", "security.admin"))

		token, ok := bearerToken(r)
		if !ok {
			meter.Count("security.admin.blocked", 1, sentry.WithAttributes(attribute.String("reason", "missing_token")))
			writeError(ctx, w, http.StatusUnauthorized, codeUnauthorized, "Authorization required")
			return
		}

		claims, err := h.authenticator.VerifyAdmin(token)
		if err != nil {
			meter.Count("security.admin.blocked", 1, sentry.WithAttributes(attribute.String("reason", "invalid_token")))
			h.loggerFromContext(ctx).Warn("rejected admin request", "error", err, "path", r.URL.Path)
			writeError(ctx, w, http.StatusUnauthorized, codeUnauthorized, "Authorization required")
			return
		}

		h.loggerFromContext(ctx).Debug("admin request authorized", "subject", claims.Subject)
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
