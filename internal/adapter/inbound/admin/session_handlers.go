package admin

import (
	"errors"
	"net/http"

	"github.com/wiretap-mcp/wiretap/internal/adapter/outbound/capturestore"
	"github.com/wiretap-mcp/wiretap/internal/domain/proxy"
)

// handleGetSession returns the current session's captured messages. The
// running proxy has exactly one active session, so id must match it.
// GET /v1/sessions/{id}
func (h *AdminAPIHandler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id != h.sessionID.String() {
		h.respondError(w, http.StatusNotFound, "no such session")
		return
	}

	snapshot, err := h.captureStore.Snapshot(r.Context())
	if err != nil {
		h.logger.Error("session snapshot failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to read session")
		return
	}

	h.respondJSON(w, http.StatusOK, snapshot)
}

// savePathRequest is the JSON body for save/load endpoints.
type savePathRequest struct {
	Path string `json:"path"`
}

// handleSaveSession persists the current session's capture to the
// operator-supplied file path, atomically.
// POST /v1/sessions/{id}/save
func (h *AdminAPIHandler) handleSaveSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id != h.sessionID.String() {
		h.respondError(w, http.StatusNotFound, "no such session")
		return
	}

	var req savePathRequest
	if err := h.readJSON(r, &req); err != nil || req.Path == "" {
		h.respondError(w, http.StatusBadRequest, "path is required")
		return
	}

	snapshot, err := h.captureStore.Snapshot(r.Context())
	if err != nil {
		h.logger.Error("session snapshot failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to read session")
		return
	}

	store := capturestore.NewFileCapture(req.Path, h.logger)
	if err := store.Save(snapshot); err != nil {
		h.logger.Error("session save failed", "path", req.Path, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to save session")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{"status": "saved", "path": req.Path})
}

// handleLoadSession reads a previously saved session from disk and
// returns it verbatim. It does not replace the running session's
// capture: a proxy already mid-flight cannot safely rewind its
// correlator and sequence counter out from under the forward loops,
// so loading is a read-only inspection operation, not a restore.
// POST /v1/sessions/load
func (h *AdminAPIHandler) handleLoadSession(w http.ResponseWriter, r *http.Request) {
	var req savePathRequest
	if err := h.readJSON(r, &req); err != nil || req.Path == "" {
		h.respondError(w, http.StatusBadRequest, "path is required")
		return
	}

	store := capturestore.NewFileCapture(req.Path, h.logger)
	record, ok, err := store.Load()
	if err != nil {
		var corrupt *proxy.CorruptSession
		if errors.As(err, &corrupt) {
			h.respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		h.logger.Error("session load failed", "path", req.Path, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if !ok {
		h.respondError(w, http.StatusNotFound, "no session file at that path")
		return
	}

	h.respondJSON(w, http.StatusOK, record)
}
