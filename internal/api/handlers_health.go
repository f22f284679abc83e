// handlers_health.go - Health check handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version string
	backend string
	runs    RunManager
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version, backend string, runs RunManager) HealthHandler {
	return &HealthHandlerImpl{
		version: version,
		backend: backend,
		runs:    runs,
	}
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	busy := false
	if h.runs != nil {
		busy = h.runs.Busy()
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": h.version,
		"backend": h.backend,
		"busy":    busy,
	})
}
