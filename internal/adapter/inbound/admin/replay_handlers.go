package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/wiretap-mcp/wiretap/internal/domain/proxy"
)

// replayRequest is the JSON body for POST /v1/replay. Exactly one of
// ProxyID or Envelope identifies the request to reissue; DeadlineMS
// overrides the replay engine's configured timeout for this call when
// positive.
type replayRequest struct {
	ProxyID    string          `json:"proxy_id,omitempty"`
	Envelope   json.RawMessage `json:"envelope,omitempty"`
	DeadlineMS int             `json:"deadline_ms,omitempty"`
}

type replayResponse struct {
	Response json.RawMessage `json:"response"`
}

// handleReplay reissues a captured or supplied request envelope to the
// upstream server and waits for its matching response.
// POST /v1/replay
func (h *AdminAPIHandler) handleReplay(w http.ResponseWriter, r *http.Request) {
	var req replayRequest
	if err := h.readJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	envelope := req.Envelope
	modified := len(envelope) > 0
	if len(envelope) == 0 {
		if req.ProxyID == "" {
			h.respondError(w, http.StatusBadRequest, "one of proxy_id or envelope is required")
			return
		}
		proxyID, err := uuid.Parse(req.ProxyID)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid proxy_id")
			return
		}
		if h.captureStore == nil {
			h.respondError(w, http.StatusServiceUnavailable, "no capture store configured")
			return
		}
		record, ok, err := h.captureStore.ByID(r.Context(), proxyID)
		if err != nil {
			h.logger.Error("replay lookup failed", "proxy_id", proxyID, "error", err)
			h.respondError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		if !ok {
			h.respondError(w, http.StatusNotFound, "no captured message with that proxy_id")
			return
		}
		envelope = record.Raw
	}

	ctx := r.Context()
	if req.DeadlineMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.DeadlineMS)*time.Millisecond)
		defer cancel()
	}

	resp, err := h.replayEngine.Replay(ctx, envelope, modified)
	if err != nil {
		var timeout *proxy.ReplayTimeout
		if errors.As(err, &timeout) || errors.Is(err, context.DeadlineExceeded) {
			h.respondError(w, http.StatusGatewayTimeout, err.Error())
			return
		}
		h.logger.Error("replay failed", "error", err)
		h.respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	h.respondJSON(w, http.StatusOK, replayResponse{Response: resp})
}
