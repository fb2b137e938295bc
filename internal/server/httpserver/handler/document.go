package handler

import (
	"encoding/base64"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keispace/crdtsync/internal/core/domain"
	"github.com/keispace/crdtsync/internal/core/service"
	"github.com/keispace/crdtsync/pkg/doctree"
)

// handleInit handles POST /v1/docs/{doc}/init.
// It resets the document to its initial shape.
func (h *Handler) handleInit(w http.ResponseWriter, r *http.Request) {
	res, err := h.docs.Initialize(r.Context(), docParam(r))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, res)
}

// handleSnapshot handles GET /v1/docs/{doc}/snapshot.
// It renders the last compacted state; pending updates are not included.
func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	docID := docParam(r)

	tree, err := h.docs.GetProjection(r.Context(), docID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	resp := SnapshotResponse{DocID: docID}
	if tree != nil {
		resp.Snapshot = doctree.Render(*tree)
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}

// handleStateVector handles GET /v1/docs/{doc}/sv.
func (h *Handler) handleStateVector(w http.ResponseWriter, r *http.Request) {
	sv, err := h.docs.GetStateVector(r.Context(), docParam(r))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, StateVectorResponse{StateVector: sv})
}

// handleDiff handles POST /v1/docs/{doc}/diff.
func (h *Handler) handleDiff(w http.ResponseWriter, r *http.Request) {
	var req DiffRequest
	if err := decodeBody(r, &req); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	diff, err := h.docs.GetDiff(r.Context(), docParam(r), req.StateVector)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, DiffResponse{Diff: diff})
}

// handleSubmitUpdate handles POST /v1/docs/{doc}/updates.
func (h *Handler) handleSubmitUpdate(w http.ResponseWriter, r *http.Request) {
	var req SubmitUpdateRequest
	if err := decodeBody(r, &req); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	origin, err := domain.ParseOrigin(req.Origin)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	update, err := base64.StdEncoding.DecodeString(req.Update)
	if err != nil {
		h.handleServiceError(w, r, domain.ErrInvalidPayload.WithDetails("update is not valid base64"))
		return
	}

	seq, err := h.docs.SubmitUpdate(r.Context(), docParam(r), update, origin)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusAccepted, SeqResponse{Seq: seq})
}

// handleCompact handles POST /v1/docs/{doc}/compact.
func (h *Handler) handleCompact(w http.ResponseWriter, r *http.Request) {
	res, err := h.docs.Compact(r.Context(), docParam(r))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, res)
}

// handleIncrement handles POST /v1/docs/{doc}/count/increment.
func (h *Handler) handleIncrement(w http.ResponseWriter, r *http.Request) {
	var req IncrementRequest
	if err := decodeBody(r, &req); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	delta := int64(1)
	if req.Delta != nil {
		delta = *req.Delta
	}

	h.mutate(w, r, service.Mutation{
		Kind:  service.MutationIncrement,
		Key:   req.Key,
		Delta: delta,
	})
}

// handleSetField handles PUT /v1/docs/{doc}/fields/{key}.
func (h *Handler) handleSetField(w http.ResponseWriter, r *http.Request) {
	value, ok := h.decodeValue(w, r)
	if !ok {
		return
	}

	h.mutate(w, r, service.Mutation{
		Kind:  service.MutationSet,
		Key:   chi.URLParam(r, "key"),
		Value: value,
	})
}

// handleAppendItem handles POST /v1/docs/{doc}/items.
func (h *Handler) handleAppendItem(w http.ResponseWriter, r *http.Request) {
	value, ok := h.decodeValue(w, r)
	if !ok {
		return
	}

	h.mutate(w, r, service.Mutation{
		Kind:  service.MutationAppend,
		Value: value,
	})
}

func (h *Handler) decodeValue(w http.ResponseWriter, r *http.Request) (doctree.Value, bool) {
	var req ValueRequest
	if err := decodeBody(r, &req); err != nil {
		h.handleServiceError(w, r, err)
		return doctree.Value{}, false
	}

	value, err := doctree.FromNative(req.Value)
	if err != nil {
		h.handleServiceError(w, r, domain.ErrInvalidArgument.WithDetails(err.Error()))
		return doctree.Value{}, false
	}
	return value, true
}

func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, m service.Mutation) {
	seq, err := h.docs.Mutate(r.Context(), docParam(r), m)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, SeqResponse{Seq: seq})
}
