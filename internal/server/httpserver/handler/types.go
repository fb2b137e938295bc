package handler

import (
	"time"

	"github.com/keispace/crdtsync/internal/core/domain"
	"github.com/keispace/crdtsync/internal/core/service"
)

// Response is the standard API response envelope.
// All JSON responses use this format (except /metrics which uses Prometheus format).
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
}

// NewResponse creates a success response.
func NewResponse(requestID string, data any) *Response {
	return &Response{
		Code:      "OK",
		Message:   "Success",
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(requestID, code, message string) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Binary fields ([]byte) are base64 in JSON.

// SnapshotResponse is the response body for GET /v1/docs/{doc}/snapshot.
// Snapshot is nil when the document was never initialized.
type SnapshotResponse struct {
	DocID    string `json:"doc_id"`
	Snapshot any    `json:"snapshot"`
}

// StateVectorResponse is the response body for GET /v1/docs/{doc}/sv.
type StateVectorResponse struct {
	StateVector []byte `json:"state_vector"`
}

// DiffRequest is the request body for POST /v1/docs/{doc}/diff.
type DiffRequest struct {
	StateVector []byte `json:"state_vector"`
}

// DiffResponse is the response body for POST /v1/docs/{doc}/diff.
// Diff is null when the caller is up to date.
type DiffResponse struct {
	Diff []byte `json:"diff"`
}

// SubmitUpdateRequest is the request body for POST /v1/docs/{doc}/updates.
// Update is the base64-encoded update payload.
type SubmitUpdateRequest struct {
	Update string `json:"update"`
	Origin string `json:"origin,omitempty"`
}

// SeqResponse reports the update log sequence assigned to a write.
type SeqResponse struct {
	Seq int64 `json:"seq"`
}

// SyncRequest is the request body for POST /v1/docs/{doc}/sync.
type SyncRequest struct {
	Peer string `json:"peer"`
}

// SyncResponse is the response body for POST /v1/docs/{doc}/sync.
type SyncResponse struct {
	Peer   string             `json:"peer"`
	Result *domain.SyncResult `json:"result"`
}

// PeerSyncResult is one entry of SyncAllResponse.
type PeerSyncResult struct {
	Peer   string             `json:"peer"`
	Result *domain.SyncResult `json:"result,omitempty"`
	Code   string             `json:"code,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// SyncAllResponse is the response body for POST /v1/docs/{doc}/sync/all.
type SyncAllResponse struct {
	Peers     []PeerSyncResult `json:"peers"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
}

// IncrementRequest is the request body for POST /v1/docs/{doc}/count/increment.
// Delta defaults to 1 and Key to "count".
type IncrementRequest struct {
	Key   string `json:"key,omitempty"`
	Delta *int64 `json:"delta,omitempty"`
}

// ValueRequest is the request body for PUT /v1/docs/{doc}/fields/{key}
// and POST /v1/docs/{doc}/items.
type ValueRequest struct {
	Value any `json:"value"`
}

// StatusResponse is the response body for GET /v1/status.
type StatusResponse struct {
	ReplicaID string                    `json:"replica_id"`
	Documents []*service.DocumentStatus `json:"documents"`
}
