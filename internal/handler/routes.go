package handler

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
// Only the four relayer verbs are routed on the wildcard path; anything else
// (PATCH included) falls through to Echo's 405 handling.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	e.GET("/api/relayer/*", proxy.Handle)
	e.POST("/api/relayer/*", proxy.Handle)
	e.PUT("/api/relayer/*", proxy.Handle)
	e.DELETE("/api/relayer/*", proxy.Handle)
}
