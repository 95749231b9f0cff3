package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"clipforge/internal/clipper"
	"clipforge/internal/storage"
)

type createWorkerTokenRequest struct {
	Name string `json:"name"`
}

// WorkerTokens manages bearer credentials for clip workers. The clear token
// is returned exactly once, at creation; only its salted digest is stored.
func (h *Handler) WorkerTokens(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req createWorkerTokenRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("name is required"))
			return
		}
		secret, err := storage.GenerateWorkerSecret()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		digest, err := clipper.HashToken(secret)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		token, err := h.Store.CreateWorkerToken(r.Context(), req.Name, digest)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"id":        token.ID,
			"name":      token.Name,
			"token":     secret,
			"createdAt": token.CreatedAt,
		})
	case http.MethodGet:
		tokens, err := h.Store.ListWorkerTokens(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"tokens": tokens})
	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

// WorkerTokenByID revokes a worker credential.
func (h *Handler) WorkerTokenByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	id := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/api/workers/tokens/"))
	if id == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("token id is required"))
		return
	}
	if err := h.Store.DeleteWorkerToken(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
