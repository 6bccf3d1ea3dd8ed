package admin

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRoutes_UnknownPathIs404(t *testing.T) {
	env := setupTestEnv(t)
	w := httptest.NewRecorder()
	env.handler.Routes().ServeHTTP(w, authedRequest(env, http.MethodGet, "/v1/nope", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestRoutes_SecurityHeadersPresent(t *testing.T) {
	env := setupTestEnv(t)
	w := httptest.NewRecorder()
	env.handler.Routes().ServeHTTP(w, authedRequest(env, http.MethodGet, "/v1/mode", nil))

	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected X-Content-Type-Options: nosniff")
	}
	if w.Header().Get("Content-Security-Policy") == "" {
		t.Error("expected a Content-Security-Policy header")
	}
}

func TestRoutes_InvalidBearerToken(t *testing.T) {
	env := setupTestEnv(t)
	r := httptest.NewRequest(http.MethodGet, "/v1/mode", nil)
	r.Header.Set("Authorization", "Bearer wtap_not-a-real-key")

	w := httptest.NewRecorder()
	env.handler.Routes().ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}
