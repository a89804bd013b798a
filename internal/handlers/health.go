// Package handlers holds the HTTP endpoints that are not part of the webhook
// transport.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const healthCheckTimeout = 5 * time.Second

// Dependency is one named health-checkable collaborator.
type Dependency struct {
	Name string
	Ping func(ctx context.Context) error
}

// HealthHandler handles health check requests
type HealthHandler struct {
	logger       *slog.Logger
	dependencies []Dependency
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(logger *slog.Logger, dependencies ...Dependency) *HealthHandler {
	return &HealthHandler{logger: logger, dependencies: dependencies}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status       string            `json:"status"`
	Timestamp    string            `json:"timestamp"`
	Version      string            `json:"version"`
	Dependencies map[string]string `json:"dependencies"`
}

// Health handles GET /health requests
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	overall := "healthy"
	statuses := make(map[string]string, len(h.dependencies))
	for _, dep := range h.dependencies {
		if err := dep.Ping(ctx); err != nil {
			h.logger.Error("Dependency health check failed", "dependency", dep.Name, "error", err)
			statuses[dep.Name] = "unhealthy"
			overall = "degraded"
		} else {
			statuses[dep.Name] = "healthy"
		}
	}

	response := HealthResponse{
		Status:       overall,
		Timestamp:    time.Now().Format(time.RFC3339),
		Version:      "1.0.0",
		Dependencies: statuses,
	}

	statusCode := http.StatusOK
	if overall != "healthy" {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, response)
}
