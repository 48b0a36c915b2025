package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-seat-booking/internal/handler"
	"github.com/iliyamo/event-seat-booking/internal/middleware"
)

// RegisterCustomer registers the booking and checkout endpoints under
// /v1.  Every route needs a valid JWT.  Booking and paying need the
// CUSTOMER role; reading and cancelling a booking are open to any
// authenticated caller and checked for ownership by the service.
// limiter throttles the endpoints that take seats or open orders.
func RegisterCustomer(e *echo.Echo, b *handler.BookingHandler, p *handler.PaymentHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group("/v1", middleware.JWTAuth(jwtSecret))
	g.GET("/bookings/:id", b.Get)
	g.POST("/bookings/:id/cancel", b.Cancel)

	c := g.Group("", middleware.RequireRole(middleware.RoleCustomer))
	c.POST("/events/:id/bookings", b.Create, limiter)
	c.GET("/my-bookings", b.ListMine)
	c.POST("/bookings/:id/payment-order", p.CreateOrder, limiter)
	c.POST("/bookings/:id/payment/verify", p.Verify)
}
