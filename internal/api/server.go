package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/formatninja/transformd/internal/blob"
	"github.com/formatninja/transformd/internal/config"
	"github.com/formatninja/transformd/internal/jobs"
	"github.com/formatninja/transformd/internal/logger"
	"github.com/formatninja/transformd/internal/websocket"
)

type Server struct {
	httpServer *http.Server
}

func NewServer(
	cfg config.ServerConfig,
	orchestrator *jobs.Orchestrator,
	files *blob.FileStore,
	hub *websocket.Hub,
) *Server {
	mux := http.NewServeMux()
	AddRoutes(mux, orchestrator, files, hub)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%s", cfg.Port),
			Handler:      mux,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	logger.Logger.Info().Str("addr", s.httpServer.Addr).Msg("Starting HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
