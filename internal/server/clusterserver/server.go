package clusterserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"connectrpc.com/connect"
)

// Server hosts the PeerService. It can run its own listener or be
// mounted on another router through Path and Handler.
type Server struct {
	path    string
	handler http.Handler
	logger  *slog.Logger

	httpServer *http.Server
	listener   net.Listener
}

// New creates a peer server for the given handler, with the default
// interceptors installed.
func New(h *Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	path, handler := h.Routes(connect.WithInterceptors(DefaultInterceptors(logger)...))
	return &Server{
		path:    path,
		handler: handler,
		logger:  logger,
	}
}

// Path returns the URL prefix the PeerService is served under.
func (s *Server) Path() string {
	return s.path
}

// Handler returns the PeerService http.Handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Listen binds addr. Use Addr to read the bound address when addr has
// port 0.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle(s.path, s.handler)

	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// Addr returns the bound address, or "" before Listen.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve serves peer RPCs until Shutdown. It returns nil after a graceful
// shutdown.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("peer server: Listen not called")
	}

	s.logger.Info("peer rpc server listening", "addr", s.Addr())
	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe combines Listen and Serve.
func (s *Server) ListenAndServe(addr string) error {
	if err := s.Listen(addr); err != nil {
		return err
	}
	return s.Serve()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
