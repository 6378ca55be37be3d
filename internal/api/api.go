// Package api exposes the IntakePipe conversation orchestrator over HTTP.
//
// Every endpoint answers with a models.APIResponse envelope. Turn results are
// carried as kind-tagged outbound messages so clients can render each kind
// (assistant prompt, progress, validation hint, crisis alert) on its own.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/flow"
)

// Default server settings
const (
	// DefaultAddr is the listen address used when none is configured
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown
	DefaultShutdownTimeout = 10 * time.Second
	// maxBodyBytes caps request bodies; replies are far smaller than this
	maxBodyBytes = 64 << 10
)

// Opts holds API server configuration.
type Opts struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithShutdownTimeout sets how long Run waits for in-flight requests on shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.ShutdownTimeout = d
	}
}

// Server routes HTTP requests to the orchestrator.
type Server struct {
	orch *flow.Orchestrator
	opts Opts
	mux  *http.ServeMux
}

// NewServer creates a server over orch.
func NewServer(orch *flow.Orchestrator, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, ShutdownTimeout: DefaultShutdownTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	s := &Server{orch: orch, opts: cfg, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.healthHandler)
	s.mux.HandleFunc("POST /sessions", s.startSessionHandler)
	s.mux.HandleFunc("GET /sessions/{id}", s.sessionStateHandler)
	s.mux.HandleFunc("POST /sessions/{id}/responses", s.responseHandler)
	s.mux.HandleFunc("POST /sessions/{id}/pause", s.pauseHandler)
	s.mux.HandleFunc("POST /sessions/{id}/resume", s.resumeHandler)
	s.mux.HandleFunc("POST /sessions/{id}/complete", s.completeHandler)
	s.mux.HandleFunc("POST /sessions/{id}/abandon", s.abandonHandler)
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.opts.Addr
}

// Serve accepts connections on ln until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Serve: IntakePipe API listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		slog.Error("Server.Serve: server stopped unexpectedly", "error", err)
		return err
	case <-ctx.Done():
	}

	slog.Info("Server.Serve: shutting down", "timeout", s.opts.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server.Serve: graceful shutdown failed", "error", err)
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	slog.Info("Server.Serve: shutdown complete")
	return nil
}

// Run listens on the configured address and serves until ctx is canceled.
func Run(ctx context.Context, orch *flow.Orchestrator, opts ...Option) error {
	s := NewServer(orch, opts...)
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		slog.Error("Run: failed to listen", "addr", s.opts.Addr, "error", err)
		return err
	}
	return s.Serve(ctx, ln)
}
