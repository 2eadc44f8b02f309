package rest

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/KilimcininKorOglu/raftd/internal/logging"
)

// ServerConfig holds REST server configuration.
type ServerConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	QueryTimeout time.Duration // Bounds queries routed through the node's event loop
}

// DefaultServerConfig returns default configuration.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:      ":8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		QueryTimeout: 2 * time.Second,
	}
}

// Server is the REST API server.
type Server struct {
	config   *ServerConfig
	logger   logging.Logger
	handlers *Handlers
	router   *mux.Router
	server   *http.Server
	listener net.Listener
}

// NewServer creates a new REST server for node.
func NewServer(cfg *ServerConfig, node NodeView, logger logging.Logger) *Server {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultServerConfig().QueryTimeout
	}
	s := &Server{
		config:   cfg,
		logger:   logger,
		handlers: NewHandlers(node, cfg.QueryTimeout),
		router:   mux.NewRouter(),
	}

	s.setupRoutes()
	s.setupMiddleware()

	return s
}

const apiPrefix = "/api/v1"

func (s *Server) setupRoutes() {
	// Subrouters do not inherit the root's NotFound and MethodNotAllowed
	// handlers, so routes are registered on the root with full paths.
	s.router.HandleFunc(apiPrefix+"/health", s.handlers.HandleHealth).Methods(http.MethodGet)
	s.router.HandleFunc(apiPrefix+"/status", s.handlers.HandleStatus).Methods(http.MethodGet)
	s.router.HandleFunc(apiPrefix+"/peers", s.handlers.HandlePeers).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no such endpoint")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
}

func (s *Server) setupMiddleware() {
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(RequestIDMiddleware())
	s.router.Use(LoggingMiddleware(s.logger))
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the address the server listens on once started.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Address
}

// Start starts the REST server.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.config.Address)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	s.logger.Info("REST server started", "address", listener.Addr().String())

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("REST server failed", "error", err)
		}
	}()
	return nil
}

// Stop gracefully stops the REST server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "shutdown REST server")
	}
	s.logger.Info("REST server stopped")
	return nil
}
