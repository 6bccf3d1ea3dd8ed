package admin

import (
	"context"
	"net/http"
	"strings"

	"github.com/wiretap-mcp/wiretap/internal/adapter/outbound/state"
)

type contextKey string

const operatorKeyContextKey contextKey = "admin.apiKey"

// operatorAuthMiddleware requires a valid, non-revoked, non-expired
// operator API key on every request as "Authorization: Bearer <key>".
// The matched key entry is stashed in the request context so downstream
// handlers (and requireWrite) can inspect its ReadOnly flag without a
// second lookup.
func (h *AdminAPIHandler) operatorAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			h.respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		key, err := h.operatorService.VerifyKey(r.Context(), token)
		if err != nil {
			h.respondError(w, http.StatusUnauthorized, "invalid or expired api key")
			return
		}

		ctx := context.WithValue(r.Context(), operatorKeyContextKey, key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireWrite wraps a handler that mutates state, rejecting requests
// made with a read-only API key.
func (h *AdminAPIHandler) requireWrite(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if key, ok := r.Context().Value(operatorKeyContextKey).(*state.APIKeyEntry); ok && key.ReadOnly {
			h.respondError(w, http.StatusForbidden, "read-only api key cannot perform this action")
			return
		}
		next(w, r)
	}
}

// operatorIDFromContext returns the operator id the verified key belongs
// to, used as the rate-limit key so each operator gets its own budget.
func operatorIDFromContext(ctx context.Context) string {
	if key, ok := ctx.Value(operatorKeyContextKey).(*state.APIKeyEntry); ok {
		return key.OperatorID
	}
	return "anonymous"
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, prefix))
}
