// Package httpapi exposes the daemon's minimal HTTP surface: health,
// Prometheus metrics, and the websocket upgrade handoff to
// internal/broker. A full CRUD router sits outside the core (spec §1
// names the HTTP surface as an out-of-scope collaborator); everything
// else is reached through the broker or embedded directly by a CLI/MCP
// front end linking this module. Grounded on the teacher's
// internal/server.setupRoutes mux wiring, trimmed to this surface.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/overseer-dev/overseer/internal/broker"
	"github.com/overseer-dev/overseer/internal/metrics"
)

// Server owns the mux.Router and its net/http.Server lifecycle.
type Server struct {
	router *mux.Router
	http   *http.Server
}

func New(addr string, hub *broker.Hub) *Server {
	s := &Server{router: mux.NewRouter()}
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", hub.ServeWS)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) ListenAndServe() error {
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
