package admin

import (
	"errors"
	"net/http"

	"github.com/wiretap-mcp/wiretap/internal/service"
)

// handleListOperators returns every known operator.
// GET /v1/operators
func (h *AdminAPIHandler) handleListOperators(w http.ResponseWriter, r *http.Request) {
	operators, err := h.operatorService.ListOperators(r.Context())
	if err != nil {
		h.logger.Error("failed to list operators", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list operators")
		return
	}
	h.respondJSON(w, http.StatusOK, operators)
}

// handleCreateOperator creates a new operator.
// POST /v1/operators
func (h *AdminAPIHandler) handleCreateOperator(w http.ResponseWriter, r *http.Request) {
	var input service.CreateOperatorInput
	if err := h.readJSON(r, &input); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	operator, err := h.operatorService.CreateOperator(r.Context(), input)
	if err != nil {
		if errors.Is(err, service.ErrDuplicateName) {
			h.respondError(w, http.StatusConflict, "operator name already exists")
			return
		}
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.respondJSON(w, http.StatusCreated, operator)
}

// handleDeleteOperator deletes an operator and cascades to its keys.
// DELETE /v1/operators/{id}
func (h *AdminAPIHandler) handleDeleteOperator(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if _, err := h.operatorService.DeleteOperator(r.Context(), id); err != nil {
		if errors.Is(err, service.ErrOperatorNotFound) {
			h.respondError(w, http.StatusNotFound, "operator not found")
			return
		}
		if errors.Is(err, service.ErrReadOnly) {
			h.respondError(w, http.StatusForbidden, "cannot delete a read-only operator")
			return
		}
		h.logger.Error("failed to delete operator", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to delete operator")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListKeys returns all API keys across all operators. Only key
// hashes are ever stored or returned; cleartext values are not
// recoverable once GenerateKey's response has been shown.
// GET /v1/keys
func (h *AdminAPIHandler) handleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.operatorService.ListAllKeys(r.Context())
	if err != nil {
		h.logger.Error("failed to list keys", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list keys")
		return
	}
	h.respondJSON(w, http.StatusOK, keys)
}

// handleGenerateKey mints a new API key for an operator. The cleartext
// value is returned exactly once and never stored.
// POST /v1/keys
func (h *AdminAPIHandler) handleGenerateKey(w http.ResponseWriter, r *http.Request) {
	var input service.GenerateKeyInput
	if err := h.readJSON(r, &input); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := h.operatorService.GenerateKey(r.Context(), input)
	if err != nil {
		if errors.Is(err, service.ErrOperatorNotFound) {
			h.respondError(w, http.StatusNotFound, "operator not found")
			return
		}
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.respondJSON(w, http.StatusCreated, result)
}

// handleRevokeKey revokes an API key without deleting its record.
// DELETE /v1/keys/{id}
func (h *AdminAPIHandler) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if _, err := h.operatorService.RevokeKey(r.Context(), id); err != nil {
		if errors.Is(err, service.ErrAPIKeyNotFound) {
			h.respondError(w, http.StatusNotFound, "api key not found")
			return
		}
		if errors.Is(err, service.ErrReadOnly) {
			h.respondError(w, http.StatusForbidden, "cannot revoke a read-only key")
			return
		}
		h.logger.Error("failed to revoke key", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to revoke key")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
