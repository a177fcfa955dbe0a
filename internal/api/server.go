package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"riptide/internal/logging"
)

// Server wraps the HTTP server with its gin router, grounded on
// tractstack's internal/presentation/http/server.Server.
type Server struct {
	httpServer *http.Server
}

// New builds a Server listening on addr (e.g. ":8080") serving deps'
// handler groups.
func New(addr string, deps Deps) *Server {
	router := SetupRouter(deps)
	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  90 * time.Second,
		},
	}
}

// Start begins listening for HTTP requests. It blocks until Stop is
// called or the listener fails.
func (s *Server) Start() error {
	logging.Get(logging.CategoryAPI).Info("starting HTTP server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("riptide api: listen on %s: %w", s.httpServer.Addr, err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	logging.Get(logging.CategoryAPI).Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
