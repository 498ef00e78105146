// internal/realtime/server.go
package realtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// Server exposes the hub on a WebSocket endpoint.
type Server struct {
	hub    *Hub
	srv    *http.Server
	logger *slog.Logger
}

// NewServer creates an HTTP server serving the hub at /ws.
func NewServer(hub *Hub, addr string, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)

	return &Server{
		hub: hub,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("Realtime server listening", "addr", s.srv.Addr)
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and drains existing ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
