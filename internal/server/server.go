// Package server is the local development backend: the mock LINE Login
// endpoints and the websocket relay that lets separate processes share
// storage changes like browser tabs do.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ivi39c/speaka-sub000/internal/core/observability/log"
)

// Server serves the mock backend and the storage relay.
type Server struct {
	router http.Handler
	hub    *Hub

	httpServer *http.Server
	listener   net.Listener
	mu         sync.Mutex // guards httpServer and listener

	// Server state
	running int32 // atomic bool
	closed  int32 // atomic bool

	config Config
	logger log.Log

	serveErr chan error
}

// Config holds server configuration
type Config struct {
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration

	// Relay settings
	MaxRelayClients int
	MaxMessageSize  int64
	WriteTimeout    time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() Config {
	return Config{
		ListenAddr:        "127.0.0.1:8787",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		MaxRelayClients:   64,
		MaxMessageSize:    64 << 10,
		WriteTimeout:      5 * time.Second,
	}
}

// NewServer builds a server; nothing listens until Start.
func NewServer(config Config, logger log.Log) (*Server, error) {
	if config.ListenAddr == "" || config.MaxRelayClients <= 0 || config.MaxMessageSize <= 0 {
		return nil, ErrInvalidConfig
	}
	s := &Server{
		config: config,
		logger: logger.With(log.String("component", "server")),
	}
	s.hub = NewHub(HubConfig{
		MaxClients:     config.MaxRelayClients,
		MaxMessageSize: config.MaxMessageSize,
		WriteTimeout:   config.WriteTimeout,
	}, logger)
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Route("/api/auth/line", func(r chi.Router) {
		r.Post("/token", handleToken)
		r.With(requireBearer).Get("/profile", handleProfile)
	})
	r.Get("/ws/storage", s.hub.ServeHTTP)
	return r
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Hub exposes the relay hub.
func (s *Server) Hub() *Hub { return s.hub }

// Start listens on the configured address and serves in the background.
func (s *Server) Start(_ context.Context) error {
	if atomic.LoadInt32(&s.closed) == 1 {
		return ErrServerClosed
	}
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return ErrServerAlreadyRunning
	}

	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		atomic.StoreInt32(&s.running, 0)
		return fmt.Errorf("%w: %v", ErrListenerFailed, err)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.listener = ln
	s.serveErr = make(chan error, 1)
	errCh := s.serveErr
	s.mu.Unlock()

	go func() {
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server stopped unexpectedly", log.Error(err))
			errCh <- err
		}
		close(errCh)
	}()

	s.logger.Info("Server started", log.String("addr", ln.Addr().String()))
	return nil
}

// Addr is the bound address while running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Wait blocks until the server stops and returns the serve error, if any.
func (s *Server) Wait() error {
	s.mu.Lock()
	errCh := s.serveErr
	s.mu.Unlock()
	if errCh == nil {
		return ErrServerNotRunning
	}
	return <-errCh
}

// Stop stops the server
func (s *Server) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return ErrServerNotRunning
	}

	s.logger.Info("Stopping server")

	// Relay connections are hijacked; Shutdown does not wait for them.
	s.hub.Close()

	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.listener = nil
	s.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok && s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("Server stopped")
	return nil
}

// Close closes the server and releases all resources
func (s *Server) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil // Already closed
	}

	s.logger.Info("Closing server")

	// Stop if running
	if atomic.LoadInt32(&s.running) == 1 {
		_ = s.Stop(context.Background())
	}
	return nil
}

// IsRunning reports whether Start succeeded and Stop has not been called.
func (s *Server) IsRunning() bool {
	return atomic.LoadInt32(&s.running) == 1
}
