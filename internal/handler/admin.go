package handler

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/event-seat-booking/internal/middleware"
	"github.com/iliyamo/event-seat-booking/internal/service"
)

// AdminHandler serves the ADMIN-only operations.
type AdminHandler struct {
	bookings *BookingHandler
	payments PaymentAPI
	reaper   Sweeper
	log      logrus.FieldLogger
}

// NewAdminHandler returns an AdminHandler.
func NewAdminHandler(bookings BookingAPI, payments PaymentAPI, reaper Sweeper, log logrus.FieldLogger) *AdminHandler {
	return &AdminHandler{
		bookings: NewBookingHandler(bookings, log),
		payments: payments,
		reaper:   reaper,
		log:      log,
	}
}

// Refund handles POST /v1/admin/bookings/:id/refund with an optional
// {"amount": "120.00", "reason": "..."}.  Without an amount the whole
// remaining paid amount is refunded.
func (h *AdminHandler) Refund(c echo.Context) error {
	id, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	var body struct {
		Amount json.Number `json:"amount"`
		Reason string      `json:"reason"`
	}
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&body); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
		}
	}
	amount, err := parseAmount(body.Amount)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid amount"})
	}
	res, err := h.payments.Refund(c.Request().Context(), service.RefundInput{
		BookingID: id,
		Amount:    amount,
		Reason:    body.Reason,
	})
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"refund_id":      res.RefundID,
		"amount":         res.Amount,
		"payment_status": res.PaymentStatus,
		"booking":        viewOf(res.Booking),
	})
}

// Cancel handles POST /v1/admin/bookings/:id/cancel.
func (h *AdminHandler) Cancel(c echo.Context) error {
	adminID, _ := middleware.UserID(c)
	return h.bookings.cancel(c, adminID, true)
}

// RunReaper handles POST /v1/admin/reaper/run.
func (h *AdminHandler) RunReaper(c echo.Context) error {
	res, err := h.reaper.RunOnce(c.Request().Context())
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(http.StatusOK, res)
}
