package clusterserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/keispace/crdtsync/internal/core/domain"
)

// PeerService procedures.
const (
	ServiceName = "crdtsync.peer.v1.PeerService"

	GetDiffProcedure        = "/" + ServiceName + "/GetDiff"
	GetStateVectorProcedure = "/" + ServiceName + "/GetStateVector"
	SubmitUpdateProcedure   = "/" + ServiceName + "/SubmitUpdate"
	CompactProcedure        = "/" + ServiceName + "/Compact"
	PingProcedure           = "/" + ServiceName + "/Ping"
)

// Request headers.
const (
	DocHeader   = "Crdtsync-Doc"
	TraceHeader = "Crdtsync-Trace"

	// ErrorCodeHeader carries the domain error code of a failed call.
	ErrorCodeHeader = "Crdtsync-Error-Code"
)

// DocumentAPI is the part of service.DocumentService served to peers.
type DocumentAPI interface {
	ReplicaID() string
	GetDiff(ctx context.Context, docID string, stateVector []byte) ([]byte, error)
	GetStateVector(ctx context.Context, docID string) ([]byte, error)
	SubmitUpdate(ctx context.Context, docID string, payload []byte, origin domain.Origin) (int64, error)
	Compact(ctx context.Context, docID string) (*domain.CompactResult, error)
}

// Handler implements the PeerService RPC handlers.
type Handler struct {
	docs   DocumentAPI
	logger *slog.Logger
}

// NewHandler creates a new RPC handler.
func NewHandler(docs DocumentAPI, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		docs:   docs,
		logger: logger,
	}
}

// Routes returns the handler for every PeerService procedure, mounted
// under "/"+ServiceName+"/".
func (h *Handler) Routes(opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(GetDiffProcedure, connect.NewUnaryHandler(GetDiffProcedure, h.GetDiff, opts...))
	mux.Handle(GetStateVectorProcedure, connect.NewUnaryHandler(GetStateVectorProcedure, h.GetStateVector, opts...))
	mux.Handle(SubmitUpdateProcedure, connect.NewUnaryHandler(SubmitUpdateProcedure, h.SubmitUpdate, opts...))
	mux.Handle(CompactProcedure, connect.NewUnaryHandler(CompactProcedure, h.Compact, opts...))
	mux.Handle(PingProcedure, connect.NewUnaryHandler(PingProcedure, h.Ping, opts...))
	return "/" + ServiceName + "/", mux
}

// GetDiff returns everything this node knows beyond the caller's state
// vector. An empty value means nothing new.
func (h *Handler) GetDiff(
	ctx context.Context,
	req *connect.Request[wrapperspb.BytesValue],
) (*connect.Response[wrapperspb.BytesValue], error) {
	docID := req.Header().Get(DocHeader)

	diff, err := h.docs.GetDiff(ctx, docID, req.Msg.GetValue())
	if err != nil {
		return nil, toConnectError(err)
	}

	h.logger.Debug("diff served", "doc_id", docID, "size", len(diff))
	return connect.NewResponse(wrapperspb.Bytes(diff)), nil
}

// GetStateVector returns this node's state vector.
func (h *Handler) GetStateVector(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[wrapperspb.BytesValue], error) {
	sv, err := h.docs.GetStateVector(ctx, req.Header().Get(DocHeader))
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(wrapperspb.Bytes(sv)), nil
}

// SubmitUpdate appends a pushed diff with origin remote.
func (h *Handler) SubmitUpdate(
	ctx context.Context,
	req *connect.Request[wrapperspb.BytesValue],
) (*connect.Response[wrapperspb.Int64Value], error) {
	docID := req.Header().Get(DocHeader)

	seq, err := h.docs.SubmitUpdate(ctx, docID, req.Msg.GetValue(), domain.OriginRemote)
	if err != nil {
		return nil, toConnectError(err)
	}

	h.logger.Debug("pushed update stored", "doc_id", docID, "seq", seq)
	return connect.NewResponse(wrapperspb.Int64(seq)), nil
}

// Compact compacts this node's copy of the document.
func (h *Handler) Compact(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	res, err := h.docs.Compact(ctx, req.Header().Get(DocHeader))
	if err != nil {
		return nil, toConnectError(err)
	}

	msg, err := encodeCompactResult(res)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// Ping returns this node's replica ID.
func (h *Handler) Ping(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[wrapperspb.StringValue], error) {
	return connect.NewResponse(wrapperspb.String(h.docs.ReplicaID())), nil
}

func encodeCompactResult(res *domain.CompactResult) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"applied":         res.Applied,
		"deleted":         res.Deleted,
		"before_last_seq": res.BeforeWatermark,
		"after_last_seq":  res.AfterWatermark,
		"snapshot_bytes":  res.SnapshotSize,
	})
}

func decodeCompactResult(s *structpb.Struct) (*domain.CompactResult, error) {
	fields := s.GetFields()
	num := func(name string) (float64, error) {
		v, ok := fields[name]
		if !ok {
			return 0, fmt.Errorf("compact result: missing %s", name)
		}
		if _, ok := v.GetKind().(*structpb.Value_NumberValue); !ok {
			return 0, fmt.Errorf("compact result: %s is not a number", name)
		}
		return v.GetNumberValue(), nil
	}

	var vals [5]float64
	for i, name := range []string{"applied", "deleted", "before_last_seq", "after_last_seq", "snapshot_bytes"} {
		v, err := num(name)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}

	return &domain.CompactResult{
		Applied:         int(vals[0]),
		Deleted:         int(vals[1]),
		BeforeWatermark: int64(vals[2]),
		AfterWatermark:  int64(vals[3]),
		SnapshotSize:    int(vals[4]),
	}, nil
}

// toConnectError maps a domain error to a connect error carrying the
// domain code in ErrorCodeHeader.
func toConnectError(err error) error {
	code := connect.CodeInternal
	switch {
	case errors.Is(err, domain.ErrInvalidPayload),
		errors.Is(err, domain.ErrInvalidDocID),
		errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrMissingArgument):
		code = connect.CodeInvalidArgument
	case errors.Is(err, domain.ErrDocNotInitialized):
		code = connect.CodeNotFound
	case errors.Is(err, domain.ErrLockTimeout):
		code = connect.CodeAborted
	case errors.Is(err, domain.ErrStorageUnavailable):
		code = connect.CodeInternal
	}

	cerr := connect.NewError(code, err)
	if dc := domain.GetErrorCode(err); dc != "" {
		cerr.Meta().Set(ErrorCodeHeader, dc)
	}
	return cerr
}
