package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/anstrom/portprobe/internal/logging"
)

// DatabasePinger defines the interface for database health checking.
type DatabasePinger interface {
	Ping(ctx context.Context) error
}

const healthCheckTimeout = 5 * time.Second

// Status constants.
const (
	StatusHealthy       = "healthy"
	StatusUnhealthy     = "unhealthy"
	StatusNotConfigured = "not configured"
)

// HealthHandler serves the health endpoint.
type HealthHandler struct {
	database  DatabasePinger
	version   string
	logger    *logging.Logger
	startTime time.Time
}

// NewHealthHandler creates a new health handler. database may be nil.
func NewHealthHandler(database DatabasePinger, version string, logger *logging.Logger) *HealthHandler {
	return &HealthHandler{
		database:  database,
		version:   version,
		logger:    logger.WithComponent("health"),
		startTime: time.Now(),
	}
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks"`
}

// Health reports service health, including database connectivity when one
// is configured.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	response := HealthResponse{
		Status:    StatusHealthy,
		Version:   h.version,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Checks:    make(map[string]string),
	}

	if h.database != nil {
		if err := h.database.Ping(ctx); err != nil {
			response.Status = StatusUnhealthy
			response.Checks["database"] = "failed"
			h.logger.Warn("Database health check failed", "error", err)
		} else {
			response.Checks["database"] = "ok"
		}
	} else {
		response.Checks["database"] = StatusNotConfigured
	}

	statusCode := http.StatusOK
	if response.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, r, statusCode, response)
}
