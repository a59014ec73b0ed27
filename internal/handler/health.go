// Package handler contains the Echo route handlers for the gateway.
package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/AhmadAlbader/BCards/internal/service"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	resolver *service.Resolver
	version  Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(r *service.Resolver, v Version) *HealthHandler {
	return &HealthHandler{resolver: r, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns gateway status information, including the upstream base
// address currently in effect.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":       "ok",
		"version":      string(h.version),
		"upstream_url": h.resolver.Base(),
	})
}
