package clusterserver

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/keispace/crdtsync/internal/core/domain"
	"github.com/keispace/crdtsync/internal/core/service"
	"github.com/keispace/crdtsync/internal/telemetry/logger"
)

// Client calls a remote node's PeerService.
type Client struct {
	baseURL string

	getDiff        *connect.Client[wrapperspb.BytesValue, wrapperspb.BytesValue]
	getStateVector *connect.Client[emptypb.Empty, wrapperspb.BytesValue]
	submitUpdate   *connect.Client[wrapperspb.BytesValue, wrapperspb.Int64Value]
	compact        *connect.Client[emptypb.Empty, structpb.Struct]
	ping           *connect.Client[emptypb.Empty, wrapperspb.StringValue]
}

// NewClient creates a client for the node at baseURL. A bare host:port is
// treated as http://host:port.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	baseURL = NormalizeURL(baseURL)

	return &Client{
		baseURL:        baseURL,
		getDiff:        connect.NewClient[wrapperspb.BytesValue, wrapperspb.BytesValue](httpClient, baseURL+GetDiffProcedure, opts...),
		getStateVector: connect.NewClient[emptypb.Empty, wrapperspb.BytesValue](httpClient, baseURL+GetStateVectorProcedure, opts...),
		submitUpdate:   connect.NewClient[wrapperspb.BytesValue, wrapperspb.Int64Value](httpClient, baseURL+SubmitUpdateProcedure, opts...),
		compact:        connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+CompactProcedure, opts...),
		ping:           connect.NewClient[emptypb.Empty, wrapperspb.StringValue](httpClient, baseURL+PingProcedure, opts...),
	}
}

// NormalizeURL turns host:port into http://host:port and strips any
// trailing slash.
func NormalizeURL(addr string) string {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return strings.TrimRight(addr, "/")
}

// BaseURL returns the peer's base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Ping returns the peer's replica ID.
func (c *Client) Ping(ctx context.Context) (string, error) {
	resp, err := c.ping.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return "", classifyError(err)
	}
	return resp.Msg.GetValue(), nil
}

// ForDoc binds the client to one document.
func (c *Client) ForDoc(docID string) service.PeerClient {
	return &docPeer{client: c, docID: docID}
}

// docPeer implements service.PeerClient for a single document.
type docPeer struct {
	client *Client
	docID  string
}

func (p *docPeer) prepare(ctx context.Context, h http.Header) {
	h.Set(DocHeader, p.docID)
	if traceID := logger.TraceIDFromContext(ctx); traceID != "" {
		h.Set(TraceHeader, traceID)
	}
}

func (p *docPeer) RequestDiff(ctx context.Context, stateVector []byte) ([]byte, error) {
	req := connect.NewRequest(wrapperspb.Bytes(stateVector))
	p.prepare(ctx, req.Header())

	resp, err := p.client.getDiff.CallUnary(ctx, req)
	if err != nil {
		return nil, classifyError(err)
	}
	return resp.Msg.GetValue(), nil
}

func (p *docPeer) RequestStateVector(ctx context.Context) ([]byte, error) {
	req := connect.NewRequest(&emptypb.Empty{})
	p.prepare(ctx, req.Header())

	resp, err := p.client.getStateVector.CallUnary(ctx, req)
	if err != nil {
		return nil, classifyError(err)
	}
	return resp.Msg.GetValue(), nil
}

func (p *docPeer) SendUpdate(ctx context.Context, payload []byte) (int64, error) {
	req := connect.NewRequest(wrapperspb.Bytes(payload))
	p.prepare(ctx, req.Header())

	resp, err := p.client.submitUpdate.CallUnary(ctx, req)
	if err != nil {
		return 0, classifyError(err)
	}
	return resp.Msg.GetValue(), nil
}

func (p *docPeer) RequestCompact(ctx context.Context) (*domain.CompactResult, error) {
	req := connect.NewRequest(&emptypb.Empty{})
	p.prepare(ctx, req.Header())

	resp, err := p.client.compact.CallUnary(ctx, req)
	if err != nil {
		return nil, classifyError(err)
	}

	res, err := decodeCompactResult(resp.Msg)
	if err != nil {
		return nil, domain.ErrPeerProtocol.Wrap(err)
	}
	return res, nil
}

// classifyError maps a call failure to ErrPeerUnreachable (transport,
// deadline, cancellation) or ErrPeerProtocol (the peer answered with an
// error).
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.ErrPeerUnreachable.Wrap(err)
	}

	var cerr *connect.Error
	if !errors.As(err, &cerr) {
		return domain.ErrPeerUnreachable.Wrap(err)
	}

	switch cerr.Code() {
	case connect.CodeUnavailable, connect.CodeDeadlineExceeded, connect.CodeCanceled:
		return domain.ErrPeerUnreachable.Wrap(err)
	}

	if code := cerr.Meta().Get(ErrorCodeHeader); code != "" {
		return domain.ErrPeerProtocol.WithDetails("peer error " + code + ": " + cerr.Message())
	}
	return domain.ErrPeerProtocol.Wrap(err)
}
