package handler

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, gw *GatewayHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/gateway/status", health.Status)

	e.GET("/card", gw.Card)
	e.GET("/vcard", gw.VCard)

	e.GET("/proxy", gw.Proxy)
	e.POST("/proxy", gw.Proxy)
	e.PUT("/proxy", gw.Proxy)
	e.DELETE("/proxy", gw.Proxy)
}
