package admin

import (
	"fmt"
	"net/http"

	"github.com/wiretap-mcp/wiretap/internal/domain/ratelimit"
)

// apiRateLimitMiddleware throttles admin-API requests per operator using
// the same GCRA limiter the replay engine consults, so an operator's
// admin-API budget and replay budget are governed by the same algorithm
// even though they draw from separate configured rates. A nil limiter
// (rate limiting disabled) makes this a no-op passthrough.
func (h *AdminAPIHandler) apiRateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.rateLimiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		operatorID := operatorIDFromContext(r.Context())
		key := ratelimit.FormatKey(ratelimit.KeyTypeUser, operatorID)

		result, err := h.rateLimiter.Allow(r.Context(), key, h.adminAPIRate)
		if err != nil {
			h.logger.Error("admin api rate limit check failed", "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if !result.Allowed {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(result.RetryAfter.Seconds())+1))
			h.respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}
