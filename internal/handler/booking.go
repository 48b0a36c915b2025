package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/event-seat-booking/internal/middleware"
	"github.com/iliyamo/event-seat-booking/internal/service"
)

// BookingHandler serves the customer booking endpoints.  JWT
// authentication has already run when its methods are called.
type BookingHandler struct {
	bookings BookingAPI
	log      logrus.FieldLogger
}

// NewBookingHandler returns a BookingHandler.
func NewBookingHandler(bookings BookingAPI, log logrus.FieldLogger) *BookingHandler {
	return &BookingHandler{bookings: bookings, log: log}
}

// Create handles POST /v1/events/:id/bookings with body {"seats": n}.
// It answers 201 with the PENDING booking.
func (h *BookingHandler) Create(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	eventID, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	var body struct {
		Seats int `json:"seats"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	b, err := h.bookings.CreateBooking(c.Request().Context(), service.CreateBookingInput{
		EventID:   eventID,
		UserID:    userID,
		Seats:     body.Seats,
		ClientIP:  c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	})
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, viewOf(b))
}

// Get handles GET /v1/bookings/:id.  Customers see only their own
// bookings; admins see any.
func (h *BookingHandler) Get(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	b, err := h.bookings.GetBooking(c.Request().Context(), id, userID, middleware.IsAdmin(c))
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(http.StatusOK, viewOf(b))
}

// ListMine handles GET /v1/my-bookings.
func (h *BookingHandler) ListMine(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	list, err := h.bookings.ListUserBookings(c.Request().Context(), userID)
	if err != nil {
		return fail(c, h.log, err)
	}
	out := make([]bookingView, 0, len(list))
	for i := range list {
		out = append(out, viewOf(&list[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"bookings": out})
}

// Cancel handles POST /v1/bookings/:id/cancel with an optional
// {"reason": "..."}.  A paid booking is refunded in full.
func (h *BookingHandler) Cancel(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	return h.cancel(c, userID, middleware.IsAdmin(c))
}

func (h *BookingHandler) cancel(c echo.Context, actorID uint64, admin bool) error {
	id, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&body); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
		}
	}
	b, err := h.bookings.CancelBooking(c.Request().Context(), service.CancelInput{
		BookingID: id,
		ActorID:   actorID,
		IsAdmin:   admin,
		Reason:    body.Reason,
	})
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(http.StatusOK, viewOf(b))
}
