package httpserver

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/keispace/crdtsync/internal/server/httpserver/handler"
)

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	// Handler serves the health and document API.
	Handler *handler.Handler

	// Logger for request logging.
	Logger *slog.Logger

	// GlobalRateLimit is the rate limit per client IP (requests/second).
	// Zero disables it.
	GlobalRateLimit int

	// EnableAccessLog logs every request.
	EnableAccessLog bool

	// Recorder counts requests per route. Optional.
	Recorder RequestRecorder

	// MetricsHandler serves GET /metrics. Optional.
	MetricsHandler http.Handler

	// PeerPath and PeerHandler mount the peer RPC service on this router.
	// Both are empty when the service runs on its own listener.
	PeerPath    string
	PeerHandler http.Handler
}

// NewRouter creates and configures the HTTP router with all routes and middleware.
//
// Order: Recover -> RequestID -> AccessLog -> Metrics -> RateLimit -> Handler.
// Probes and /metrics skip rate limiting; peer RPC traffic skips the access
// log because its interceptors log every call.
func NewRouter(cfg *RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(Recover(cfg.Logger), RequestID())
	if cfg.Recorder != nil {
		r.Use(Metrics(cfg.Recorder))
	}

	cfg.Handler.RegisterHealth(r)

	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	if cfg.PeerHandler != nil && cfg.PeerPath != "" {
		r.Handle(strings.TrimSuffix(cfg.PeerPath, "/")+"/*", cfg.PeerHandler)
	}

	r.Group(func(r chi.Router) {
		if cfg.EnableAccessLog {
			r.Use(AccessLog(cfg.Logger))
		}
		if cfg.GlobalRateLimit > 0 {
			r.Use(RateLimit(cfg.GlobalRateLimit))
		}
		cfg.Handler.Register(r)
	})

	return r
}

// DefaultRouterConfig returns default router configuration.
func DefaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		GlobalRateLimit: 1000,
		EnableAccessLog: true,
	}
}
