package clusterserver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"connectrpc.com/connect"

	"github.com/keispace/crdtsync/internal/telemetry/logger"
)

// LoggingInterceptor logs all peer RPC requests and responses.
type LoggingInterceptor struct {
	logger *slog.Logger
}

// NewLoggingInterceptor creates a new logging interceptor.
func NewLoggingInterceptor(logger *slog.Logger) *LoggingInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingInterceptor{logger: logger}
}

// WrapUnary implements connect.Interceptor.
func (i *LoggingInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		start := time.Now()

		resp, err := next(ctx, req)

		attrs := []any{
			"method", req.Spec().Procedure,
			"doc_id", req.Header().Get(DocHeader),
			"peer", req.Peer().Addr,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		log := logger.Enrich(ctx, i.logger)
		if err != nil {
			log.Warn("peer rpc error", append(attrs, "error", err)...)
		} else {
			log.Debug("peer rpc", attrs...)
		}

		return resp, err
	}
}

// WrapStreamingClient implements connect.Interceptor.
func (i *LoggingInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next // No-op for server-side
}

// WrapStreamingHandler implements connect.Interceptor.
func (i *LoggingInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next // PeerService is unary only
}

// TraceInterceptor copies the caller's sync trace ID from TraceHeader into
// the handler context.
type TraceInterceptor struct{}

// NewTraceInterceptor creates a new trace interceptor.
func NewTraceInterceptor() *TraceInterceptor {
	return &TraceInterceptor{}
}

// WrapUnary implements connect.Interceptor.
func (i *TraceInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if traceID := req.Header().Get(TraceHeader); traceID != "" {
			ctx = logger.WithTraceID(ctx, traceID)
		}
		return next(ctx, req)
	}
}

// WrapStreamingClient implements connect.Interceptor.
func (i *TraceInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

// WrapStreamingHandler implements connect.Interceptor.
func (i *TraceInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next
}

// RecoveryInterceptor recovers from panics.
type RecoveryInterceptor struct {
	logger *slog.Logger
}

// NewRecoveryInterceptor creates a new recovery interceptor.
func NewRecoveryInterceptor(logger *slog.Logger) *RecoveryInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecoveryInterceptor{logger: logger}
}

// WrapUnary implements connect.Interceptor.
func (i *RecoveryInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (resp connect.AnyResponse, err error) {
		defer func() {
			if r := recover(); r != nil {
				i.logger.Error("peer rpc panic recovered",
					"method", req.Spec().Procedure,
					"panic", r)

				err = connect.NewError(connect.CodeInternal,
					fmt.Errorf("internal server error: panic recovered"))
			}
		}()

		return next(ctx, req)
	}
}

// WrapStreamingClient implements connect.Interceptor.
func (i *RecoveryInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next // No-op for server-side
}

// WrapStreamingHandler implements connect.Interceptor.
func (i *RecoveryInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next
}

// DefaultInterceptors returns the default set of interceptors for peer RPC.
func DefaultInterceptors(logger *slog.Logger) []connect.Interceptor {
	return []connect.Interceptor{
		NewRecoveryInterceptor(logger),
		NewTraceInterceptor(),
		NewLoggingInterceptor(logger),
	}
}
