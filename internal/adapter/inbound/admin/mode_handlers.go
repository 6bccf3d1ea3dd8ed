package admin

import (
	"net/http"

	"github.com/wiretap-mcp/wiretap/internal/domain/proxy"
)

// modeResponse reports the engine's current operating mode.
type modeResponse struct {
	Mode string `json:"mode"`
}

// handleGetMode returns the engine's current mode.
// GET /v1/mode
func (h *AdminAPIHandler) handleGetMode(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, modeResponse{Mode: h.engine.Mode().String()})
}

// setModeRequest is the JSON body for POST /v1/mode.
type setModeRequest struct {
	Mode string `json:"mode"`
}

// handleSetMode transitions the engine between passthrough and
// intercept. Switching to passthrough releases every currently held
// message with ActionForward, in insertion order.
// POST /v1/mode
func (h *AdminAPIHandler) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req setModeRequest
	if err := h.readJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var mode proxy.Mode
	switch req.Mode {
	case "passthrough":
		mode = proxy.Passthrough
	case "intercept":
		mode = proxy.Intercept
	default:
		h.respondError(w, http.StatusBadRequest, "mode must be \"passthrough\" or \"intercept\"")
		return
	}

	h.engine.SetMode(mode)
	h.respondJSON(w, http.StatusOK, modeResponse{Mode: h.engine.Mode().String()})
}
