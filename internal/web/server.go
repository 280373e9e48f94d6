// Package web exposes the task operations over HTTP. It is a thin
// transport: request decoding, error mapping and SSE framing live here,
// everything else is delegated to the handlers layer.
package web

import (
	"fmt"
	"net/http"

	"github.com/hegna/taskcore/internal/handlers"
)

// Server is the HTTP server for the task API
type Server struct {
	handlers *handlers.Handlers
	mux      *http.ServeMux
	host     string
	port     int
}

// NewServer creates a new API server
func NewServer(h *handlers.Handlers, host string, port int) *Server {
	s := &Server{
		handlers: h,
		mux:      http.NewServeMux(),
		host:     host,
		port:     port,
	}

	s.registerRoutes()

	return s
}

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /tasks", s.handleSubmit)
	s.mux.HandleFunc("GET /tasks/{id}", s.handleGet)
	s.mux.HandleFunc("POST /tasks/{id}/input", s.handleInput)
	s.mux.HandleFunc("POST /tasks/{id}/cancel", s.handleCancel)
	s.mux.HandleFunc("POST /tasks/{id}/pause", s.handlePause)
	s.mux.HandleFunc("POST /tasks/{id}/resume", s.handleResume)
	s.mux.HandleFunc("GET /tasks/{id}/stream", s.handleStream)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return http.ListenAndServe(fmt.Sprintf("%s:%d", s.host, s.port), s.mux)
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("http://%s:%d", s.host, s.port)
}

// Handler exposes the mux, used by tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}
