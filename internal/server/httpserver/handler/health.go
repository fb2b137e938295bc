package handler

import (
	"net/http"
	"time"

	"github.com/keispace/crdtsync/internal/core/domain"
	"github.com/keispace/crdtsync/internal/core/service"
)

// handleHealth handles GET /health.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady handles GET /ready.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			h.writeError(w, r, http.StatusServiceUnavailable, domain.ErrStorageUnavailable.Code, err.Error())
			return
		}
	}

	h.writeJSON(w, r, http.StatusOK, map[string]string{
		"status": "ready",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus handles GET /v1/status.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ids, err := h.docs.Documents(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	resp := StatusResponse{
		ReplicaID: h.docs.ReplicaID(),
		Documents: make([]*service.DocumentStatus, 0, len(ids)),
	}
	for _, id := range ids {
		st, err := h.docs.Status(r.Context(), id)
		if err != nil {
			h.handleServiceError(w, r, err)
			return
		}
		resp.Documents = append(resp.Documents, st)
	}

	h.writeJSON(w, r, http.StatusOK, resp)
}
