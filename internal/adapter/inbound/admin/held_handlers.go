package admin

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/wiretap-mcp/wiretap/internal/domain/proxy"
)

// heldMessageResponse is the JSON representation of one message waiting
// on an operator decision.
type heldMessageResponse struct {
	ProxyID   string          `json:"proxy_id"`
	Direction string          `json:"direction"`
	Transport string          `json:"transport"`
	Method    *string         `json:"method,omitempty"`
	Raw       json.RawMessage `json:"raw"`
}

func toHeldMessageResponse(h *proxy.HeldMessage) heldMessageResponse {
	return heldMessageResponse{
		ProxyID:   h.Message.ProxyID.String(),
		Direction: h.Message.Direction.String(),
		Transport: string(h.Message.Transport),
		Method:    h.Message.Method,
		Raw:       h.Message.Raw,
	}
}

// handleListHeld returns every message currently waiting on a release
// decision, in the order it was held.
// GET /v1/held
func (h *AdminAPIHandler) handleListHeld(w http.ResponseWriter, r *http.Request) {
	held := h.engine.Held()
	result := make([]heldMessageResponse, 0, len(held))
	for _, hm := range held {
		result = append(result, toHeldMessageResponse(hm))
	}
	h.respondJSON(w, http.StatusOK, result)
}

// releaseRequest is the JSON body for POST /v1/held/{proxy_id}/release.
type releaseRequest struct {
	Action      string          `json:"action"`
	ModifiedRaw json.RawMessage `json:"modified_raw,omitempty"`
}

// handleReleaseHeld resolves one held message with the operator's
// decision: forward, drop, or modify (with a replacement envelope).
// POST /v1/held/{proxy_id}/release
func (h *AdminAPIHandler) handleReleaseHeld(w http.ResponseWriter, r *http.Request) {
	proxyID, err := uuid.Parse(r.PathValue("proxy_id"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid proxy_id")
		return
	}

	var req releaseRequest
	if err := h.readJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	action := proxy.Action(req.Action)
	switch action {
	case proxy.ActionForward, proxy.ActionModify, proxy.ActionDrop:
	default:
		h.respondError(w, http.StatusBadRequest, "action must be \"forward\", \"modify\", or \"drop\"")
		return
	}

	decision := proxy.ReleaseDecision{Action: action, ModifiedRaw: req.ModifiedRaw}
	if err := h.engine.Release(proxyID, decision); err != nil {
		var invalid *proxy.InvalidAction
		if errors.As(err, &invalid) {
			h.respondError(w, http.StatusBadRequest, invalid.Message)
			return
		}
		h.logger.Error("release failed", "proxy_id", proxyID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "release failed")
		return
	}

	// A drop never reaches OnForwarded, so it is invisible to the
	// pipeline's Observer; record it here, at the one place a drop
	// decision is made with certainty, instead of widening Observer's
	// spec-fixed three callbacks.
	if action == proxy.ActionDrop && h.statsService != nil {
		h.statsService.RecordDropped()
	}

	h.respondJSON(w, http.StatusOK, map[string]string{"status": "released"})
}
