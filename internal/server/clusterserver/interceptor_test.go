package clusterserver

import (
	"context"
	"errors"
	"testing"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/keispace/crdtsync/internal/core/domain"
	"github.com/keispace/crdtsync/internal/telemetry/logger"
)

func TestRecoveryInterceptor(t *testing.T) {
	panicking := func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		panic("boom")
	}

	_, err := NewRecoveryInterceptor(nil).WrapUnary(panicking)(context.Background(), connect.NewRequest(&emptypb.Empty{}))

	var cerr *connect.Error
	if !errors.As(err, &cerr) {
		t.Fatalf("expected connect error, got %v", err)
	}
	if cerr.Code() != connect.CodeInternal {
		t.Errorf("code = %v, want internal", cerr.Code())
	}
}

func TestTraceInterceptor(t *testing.T) {
	var got string
	next := func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		got = logger.TraceIDFromContext(ctx)
		return nil, nil
	}

	req := connect.NewRequest(&emptypb.Empty{})
	req.Header().Set(TraceHeader, "sync-01J")
	if _, err := NewTraceInterceptor().WrapUnary(next)(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "sync-01J" {
		t.Errorf("trace id = %q, want sync-01J", got)
	}
}

func TestLoggingInterceptor_PassesThrough(t *testing.T) {
	want := errors.New("handler failed")
	next := func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		return nil, want
	}

	_, err := NewLoggingInterceptor(nil).WrapUnary(next)(context.Background(), connect.NewRequest(&emptypb.Empty{}))
	if !errors.Is(err, want) {
		t.Errorf("error = %v, want %v", err, want)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		unreachable bool
	}{
		{"unavailable", connect.NewError(connect.CodeUnavailable, errors.New("dial")), true},
		{"deadline", connect.NewError(connect.CodeDeadlineExceeded, errors.New("slow")), true},
		{"context", context.DeadlineExceeded, true},
		{"plain", errors.New("reset by peer"), true},
		{"invalid argument", connect.NewError(connect.CodeInvalidArgument, errors.New("bad")), false},
		{"not found", connect.NewError(connect.CodeNotFound, errors.New("missing")), false},
		{"aborted", connect.NewError(connect.CodeAborted, errors.New("lock")), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyError(tt.err)
			if tt.unreachable && !errors.Is(err, domain.ErrPeerUnreachable) {
				t.Errorf("classifyError() = %v, want unreachable", err)
			}
			if !tt.unreachable && !errors.Is(err, domain.ErrPeerProtocol) {
				t.Errorf("classifyError() = %v, want protocol", err)
			}
		})
	}
}
