package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-seat-booking/internal/handler"
	"github.com/iliyamo/event-seat-booking/internal/middleware"
)

// RegisterAdmin registers ADMIN-only endpoints under /v1/admin.
func RegisterAdmin(e *echo.Echo, a *handler.AdminHandler, jwtSecret string) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleAdmin),
	)
	g.POST("/bookings/:id/refund", a.Refund)
	g.POST("/bookings/:id/cancel", a.Cancel)
	g.POST("/reaper/run", a.RunReaper)
}
