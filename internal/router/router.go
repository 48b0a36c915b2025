// Package router mounts the HTTP handlers on an Echo instance.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/event-seat-booking/internal/handler"
)

// RegisterRoutes registers the unauthenticated operational endpoints:
// liveness and Prometheus metrics.
func RegisterRoutes(e *echo.Echo, checks map[string]handler.Check) {
	e.GET("/healthz", handler.Health(checks))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterPublic registers endpoints that need no token.  The
// availability view sits behind the per-event response cache; the webhook
// authenticates itself by signature.
func RegisterPublic(e *echo.Echo, ev *handler.EventHandler, p *handler.PaymentHandler, eventCache echo.MiddlewareFunc) {
	e.GET("/v1/events/:id/availability", ev.Availability, eventCache)
	e.POST("/v1/webhooks/payments", p.Webhook)
}
