package admin

import "net/http"

// cspMiddleware sets security headers on every admin API response. There
// is no browser-rendered admin UI in this surface — every route is JSON
// over a bearer token — so the policy is the strict default-deny a pure
// API needs, not the style/script allowances a rendered page would.
func cspMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}
