// Package server assembles the sync server: routing, middleware, timeouts.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/kiosklab/posbox/internal/server/handlers"
	"github.com/kiosklab/posbox/internal/server/middleware"
)

// Config holds the server parameters.
type Config struct {
	Addr    string
	Version string
}

// New builds an http.Server serving the sync protocol.
func New(cfg Config, storage handlers.SyncStorage, logger *slog.Logger) *http.Server {
	syncHandler := handlers.NewSyncHandler(logger, storage)
	healthHandler := handlers.NewHealthHandler(logger, cfg.Version)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sync/push", syncHandler.HandlePush)
	mux.HandleFunc("GET /sync/pull", syncHandler.HandlePull)
	mux.HandleFunc("GET /health", healthHandler.Health)

	var handler http.Handler = mux
	handler = middleware.LoggingWithSkip(logger, []string{"/health"})(handler)
	handler = middleware.Recovery(logger)(handler)

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}
