package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/keispace/crdtsync/internal/core/domain"
	"github.com/keispace/crdtsync/internal/core/service"
	"github.com/keispace/crdtsync/internal/telemetry/logger"
	"github.com/keispace/crdtsync/pkg/doctree"
)

// maxBodyBytes bounds request bodies. Diffs of large documents travel
// base64-encoded, so this is generous.
const maxBodyBytes = 32 << 20

// DocumentAPI is the document service as seen by the HTTP API.
type DocumentAPI interface {
	ReplicaID() string
	Initialize(ctx context.Context, docID string) (*domain.InitResult, error)
	GetProjection(ctx context.Context, docID string) (*doctree.Node, error)
	GetStateVector(ctx context.Context, docID string) ([]byte, error)
	GetDiff(ctx context.Context, docID string, stateVector []byte) ([]byte, error)
	SubmitUpdate(ctx context.Context, docID string, payload []byte, origin domain.Origin) (int64, error)
	Mutate(ctx context.Context, docID string, m service.Mutation) (int64, error)
	Compact(ctx context.Context, docID string) (*domain.CompactResult, error)
	RunSync(ctx context.Context, docID string, peer service.PeerClient) (*domain.SyncResult, error)
	Documents(ctx context.Context) ([]string, error)
	Status(ctx context.Context, docID string) (*service.DocumentStatus, error)
}

// PeerDialer returns a PeerClient for docID on the node at addr.
type PeerDialer func(addr, docID string) service.PeerClient

// Config wires a Handler.
type Config struct {
	Docs DocumentAPI

	// Dial connects sync requests to peers. Required for the sync routes.
	Dial PeerDialer

	// Peers lists the RPC addresses of live cluster members for
	// POST /v1/docs/{doc}/sync/all. Nil when gossip is disabled.
	Peers func() []string

	// Ready reports whether storage is usable. Nil means always ready.
	Ready func(ctx context.Context) error

	Logger *slog.Logger
}

// Handler serves the HTTP API.
type Handler struct {
	docs   DocumentAPI
	dial   PeerDialer
	peers  func() []string
	ready  func(ctx context.Context) error
	logger *slog.Logger
}

// New creates a new Handler.
func New(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		docs:   cfg.Docs,
		dial:   cfg.Dial,
		peers:  cfg.Peers,
		ready:  cfg.Ready,
		logger: cfg.Logger,
	}
}

// RegisterHealth registers the unthrottled probe routes.
func (h *Handler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)
}

// Register registers the API routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/status", h.handleStatus)

	r.Route("/v1/docs/{doc}", func(r chi.Router) {
		r.Post("/init", h.handleInit)
		r.Get("/snapshot", h.handleSnapshot)
		r.Get("/sv", h.handleStateVector)
		r.Post("/diff", h.handleDiff)
		r.Post("/updates", h.handleSubmitUpdate)
		r.Post("/compact", h.handleCompact)

		r.Post("/sync", h.handleSync)
		r.Post("/sync/all", h.handleSyncAll)

		r.Post("/count/increment", h.handleIncrement)
		r.Put("/fields/{key}", h.handleSetField)
		r.Post("/items", h.handleAppendItem)
	})
}

// writeJSON writes a JSON response with standard envelope format.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	requestID := logger.RequestIDFromContext(r.Context())
	response := NewResponse(requestID, data)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// writeError writes an error response with standard envelope format.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	requestID := logger.RequestIDFromContext(r.Context())
	response := NewErrorResponse(requestID, code, message)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

// handleServiceError converts service errors to HTTP responses.
func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if domain.IsDomainError(err, "") {
		code := domain.GetErrorCode(err)
		status := ErrorCodeToHTTPStatus(code)
		if status >= 500 {
			logger.Enrich(r.Context(), h.logger).Error("request failed", "path", r.URL.Path, "error", err)
		}
		h.writeError(w, r, status, code, err.Error())
		return
	}

	logger.Enrich(r.Context(), h.logger).Error("internal error", "path", r.URL.Path, "error", err)
	h.writeError(w, r, http.StatusInternalServerError, domain.ErrInternal.Code, "internal server error")
}

// ErrorCodeToHTTPStatus maps error codes to HTTP status codes.
func ErrorCodeToHTTPStatus(code string) int {
	switch {
	case strings.HasSuffix(code, "-4040"):
		return http.StatusNotFound
	case strings.HasSuffix(code, "-4090"):
		return http.StatusConflict
	case strings.HasSuffix(code, "-4290"):
		return http.StatusTooManyRequests
	case strings.HasSuffix(code, "-4001"), strings.HasSuffix(code, "-4002"):
		return http.StatusBadRequest
	case strings.HasSuffix(code, "-5020"), strings.HasSuffix(code, "-5021"):
		return http.StatusBadGateway
	case strings.HasPrefix(code, "CS-ARG-"):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes a JSON request body into dst. An empty body leaves
// dst untouched.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return domain.ErrInvalidArgument.WithDetails("malformed request body: " + err.Error())
	}
	return nil
}

func docParam(r *http.Request) string {
	return chi.URLParam(r, "doc")
}
