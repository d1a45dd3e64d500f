// Package server exposes the gateway's HTTP surface: a health endpoint
// and the WebSocket upgrade for editor sessions.
package server

import (
	"context"
	"encoding/json"
	"net/http"

	"interviewlab/lsp-gateway/session"
)

// Server is the HTTP front of the gateway.
type Server struct {
	cfg      *Config
	registry *session.Registry
	resolve  session.CommandResolver
	httpSrv  *http.Server
}

// New wires the routes onto a Server.
func New(cfg *Config, registry *session.Registry, resolve session.CommandResolver) *Server {
	s := &Server{
		cfg:      cfg,
		registry: registry,
		resolve:  resolve,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHealth)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws/", s.handleWebSocket)

	s.httpSrv = &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}

	return s
}

// ListenAndServe blocks serving HTTP until Shutdown or a listener
// error.
func (s *Server) ListenAndServe() error {
	return s.httpSrv.ListenAndServe()
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/health" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"connections": s.registry.Count(),
	})
}
