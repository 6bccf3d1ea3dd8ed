// Package admin provides the operator-facing HTTP control surface: mode
// switching, held-message release, replay, session export, and
// operator/API-key management. Every mutating route requires a bearer
// API key verified against internal/service.OperatorService.
package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/wiretap-mcp/wiretap/internal/domain/capture"
	"github.com/wiretap-mcp/wiretap/internal/domain/proxy"
	"github.com/wiretap-mcp/wiretap/internal/domain/ratelimit"
	"github.com/wiretap-mcp/wiretap/internal/service"
)

// BuildInfo holds build-time version information, injected via
// WithBuildInfo to avoid an import cycle with the cmd package.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// AdminAPIHandler serves the admin control surface JSON API.
type AdminAPIHandler struct {
	engine          *proxy.Engine
	replayEngine    *proxy.ReplayEngine
	captureStore    capture.Store
	operatorService *service.OperatorService
	statsService    *service.StatsService
	rateLimiter     ratelimit.RateLimiter
	adminAPIRate    ratelimit.RateLimitConfig
	sessionID       uuid.UUID
	buildInfo       *BuildInfo
	logger          *slog.Logger
	startTime       time.Time
}

// AdminAPIOption configures an AdminAPIHandler dependency.
type AdminAPIOption func(*AdminAPIHandler)

func WithEngine(e *proxy.Engine) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.engine = e }
}

func WithReplayEngine(r *proxy.ReplayEngine) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.replayEngine = r }
}

func WithCaptureStore(s capture.Store) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.captureStore = s }
}

func WithOperatorService(s *service.OperatorService) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.operatorService = s }
}

func WithStatsService(s *service.StatsService) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.statsService = s }
}

func WithRateLimiter(l ratelimit.RateLimiter, cfg ratelimit.RateLimitConfig) AdminAPIOption {
	return func(h *AdminAPIHandler) {
		h.rateLimiter = l
		h.adminAPIRate = cfg
	}
}

func WithSessionID(id uuid.UUID) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.sessionID = id }
}

func WithBuildInfo(info *BuildInfo) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.buildInfo = info }
}

func WithStartTime(t time.Time) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.startTime = t }
}

func WithLogger(l *slog.Logger) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.logger = l }
}

// NewAdminAPIHandler creates a new AdminAPIHandler with the given options.
func NewAdminAPIHandler(opts ...AdminAPIOption) *AdminAPIHandler {
	h := &AdminAPIHandler{
		logger:    slog.Default(),
		startTime: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns an http.Handler with every admin route registered. All
// routes except the health check require a valid operator bearer token;
// mutating routes additionally reject read-only keys.
func (h *AdminAPIHandler) Routes() http.Handler {
	top := http.NewServeMux()
	top.HandleFunc("GET /v1/healthz", h.handleHealthz)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/system", h.handleSystemInfo)
	mux.HandleFunc("GET /v1/stats", h.handleGetStats)

	mux.HandleFunc("GET /v1/mode", h.handleGetMode)
	mux.HandleFunc("POST /v1/mode", h.requireWrite(h.handleSetMode))

	mux.HandleFunc("GET /v1/held", h.handleListHeld)
	mux.HandleFunc("POST /v1/held/{proxy_id}/release", h.requireWrite(h.handleReleaseHeld))

	mux.HandleFunc("POST /v1/replay", h.requireWrite(h.handleReplay))

	mux.HandleFunc("GET /v1/sessions/{id}", h.handleGetSession)
	mux.HandleFunc("POST /v1/sessions/{id}/save", h.requireWrite(h.handleSaveSession))
	mux.HandleFunc("POST /v1/sessions/load", h.requireWrite(h.handleLoadSession))

	mux.HandleFunc("GET /v1/operators", h.handleListOperators)
	mux.HandleFunc("POST /v1/operators", h.requireWrite(h.handleCreateOperator))
	mux.HandleFunc("DELETE /v1/operators/{id}", h.requireWrite(h.handleDeleteOperator))

	mux.HandleFunc("GET /v1/keys", h.handleListKeys)
	mux.HandleFunc("POST /v1/keys", h.requireWrite(h.handleGenerateKey))
	mux.HandleFunc("DELETE /v1/keys/{id}", h.requireWrite(h.handleRevokeKey))

	limited := h.apiRateLimitMiddleware(mux)
	authed := h.operatorAuthMiddleware(limited)
	top.Handle("/", authed)
	return cspMiddleware(top)
}

// --- JSON helpers ---

func (h *AdminAPIHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

func (h *AdminAPIHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

func (h *AdminAPIHandler) readJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func (h *AdminAPIHandler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
