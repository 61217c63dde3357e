package handlers

import (
	"log/slog"
	"net/http"
)

// HealthHandler обрабатывает health check запросы
type HealthHandler struct {
	logger  *slog.Logger
	version string
}

// NewHealthHandler creates a new handler for health checks.
func NewHealthHandler(logger *slog.Logger, version string) *HealthHandler {
	return &HealthHandler{
		logger:  logger,
		version: version,
	}
}

// HealthResponse представляет ответ health check
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// Health обрабатывает GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: h.version,
	})
}
