package admin

import "net/http"

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Mode     string `json:"mode"`
	Held     int    `json:"held"`
	Captured int    `json:"captured"`
}

// handleGetStats returns a snapshot of pipeline counters alongside the
// engine's current mode and the number of messages currently held.
// GET /v1/stats
func (h *AdminAPIHandler) handleGetStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{Mode: h.engine.Mode().String(), Held: len(h.engine.Held())}

	if h.captureStore != nil {
		messages, err := h.captureStore.Messages(r.Context())
		if err == nil {
			resp.Captured = len(messages)
		}
	}

	if h.statsService == nil {
		h.respondJSON(w, http.StatusOK, resp)
		return
	}

	h.respondJSON(w, http.StatusOK, struct {
		statsResponse
		Counters interface{} `json:"counters"`
	}{statsResponse: resp, Counters: h.statsService.GetStats()})
}
