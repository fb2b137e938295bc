package handler

import (
	"net/http"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/keispace/crdtsync/internal/core/domain"
	"github.com/keispace/crdtsync/internal/telemetry/logger"
)

// handleSync handles POST /v1/docs/{doc}/sync.
// It runs one pull-then-push round against the given peer.
func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := decodeBody(r, &req); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	req.Peer = strings.TrimSpace(req.Peer)
	if req.Peer == "" {
		h.handleServiceError(w, r, domain.ErrMissingArgument.WithDetails("peer"))
		return
	}
	if h.dial == nil {
		h.handleServiceError(w, r, domain.ErrInternal.WithDetails("peer client not configured"))
		return
	}

	docID := docParam(r)
	ctx := logger.WithTraceID(r.Context(), newTraceID())

	res, err := h.docs.RunSync(ctx, docID, h.dial(req.Peer, docID))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, SyncResponse{Peer: req.Peer, Result: res})
}

// handleSyncAll handles POST /v1/docs/{doc}/sync/all.
// Peers are synced one after another; a failing peer does not stop the
// others.
func (h *Handler) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	if h.dial == nil {
		h.handleServiceError(w, r, domain.ErrInternal.WithDetails("peer client not configured"))
		return
	}
	if err := domain.ValidateDocID(docParam(r)); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	var addrs []string
	if h.peers != nil {
		addrs = h.peers()
	}

	docID := docParam(r)
	resp := SyncAllResponse{Peers: make([]PeerSyncResult, 0, len(addrs))}
	for _, addr := range addrs {
		ctx := logger.WithTraceID(r.Context(), newTraceID())

		res, err := h.docs.RunSync(ctx, docID, h.dial(addr, docID))
		entry := PeerSyncResult{Peer: addr, Result: res}
		if err != nil {
			entry.Code = domain.GetErrorCode(err)
			entry.Error = err.Error()
			resp.Failed++
		} else {
			resp.Succeeded++
		}
		resp.Peers = append(resp.Peers, entry)
	}

	h.writeJSON(w, r, http.StatusOK, resp)
}

func newTraceID() string {
	return "sync-" + strings.ToLower(ulid.Make().String())
}
