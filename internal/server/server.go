// Package server provides the HTTP control surface of vistrain: the JSON
// API, the MJPEG preview streams and the detection event websocket.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ayusman/vistrain/internal/app"
	"github.com/ayusman/vistrain/internal/server/api"
)

// Config holds the server configuration.
type Config struct {
	StaticDir string
	App       *app.App
	// Events is registered at /api/events when set.
	Events *EventHub
}

// Server represents the HTTP server for the vistrain application.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if a := s.config.App; a != nil {
		classifiers := api.NewClassifierHandler(a)
		s.mux.Handle("/api/classifiers", classifiers)
		s.mux.Handle("/api/classifiers/", classifiers)

		pipeline := api.NewPipelineHandler(a)
		s.mux.Handle("/api/pipeline", pipeline)
		s.mux.Handle("/api/pipeline/", pipeline)

		s.mux.Handle("/api/detections", api.NewDetectionsHandler(a))
		s.mux.Handle("/api/stream", NewStreamHandler(a.Pipeline()))
	}

	if s.config.Events != nil {
		s.mux.Handle("/api/events", s.config.Events)
	}

	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	}
	if a := s.config.App; a != nil {
		response["pipeline"] = a.Pipeline().State().String()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s)
}
