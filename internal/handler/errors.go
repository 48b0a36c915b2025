package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/event-seat-booking/internal/gateway"
	"github.com/iliyamo/event-seat-booking/internal/lock"
	"github.com/iliyamo/event-seat-booking/internal/repository"
	"github.com/iliyamo/event-seat-booking/internal/service"
)

// statusOf maps a core error to its HTTP status.  Unknown errors are 500.
func statusOf(err error) int {
	switch {
	case errors.Is(err, lock.ErrContention):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrInvalidSignature):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrEventNotFound), errors.Is(err, service.ErrBookingNotFound),
		errors.Is(err, repository.ErrEventNotFound), errors.Is(err, repository.ErrBookingNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrEventNotBookable), errors.Is(err, service.ErrInsufficientSeats),
		errors.Is(err, service.ErrAlreadyTerminal), errors.Is(err, service.ErrBookingNotPayable),
		errors.Is(err, service.ErrAlreadyPaid):
		return http.StatusConflict
	case errors.Is(err, service.ErrNotRefundable), errors.Is(err, service.ErrRefundExceedsTotal):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrPaymentVerificationFailed):
		return http.StatusPaymentRequired
	case errors.Is(err, gateway.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// fail writes the JSON error response for err.  Dependency failures are
// logged with their cause and reported with a generic message.
func fail(c echo.Context, log logrus.FieldLogger, err error) error {
	status := statusOf(err)
	body := echo.Map{"error": err.Error()}
	switch {
	case errors.Is(err, lock.ErrContention):
		body["retryable"] = true
	case errors.Is(err, service.ErrPaymentVerificationFailed):
		body["error"] = service.ErrPaymentVerificationFailed.Error()
	case status == http.StatusServiceUnavailable, status == http.StatusBadGateway, status == http.StatusGatewayTimeout:
		log.WithError(err).WithField("path", c.Path()).Error("dependency failure")
		body["error"] = "payment gateway unavailable"
		body["retryable"] = true
	case status >= http.StatusInternalServerError:
		log.WithError(err).WithField("path", c.Path()).Error("request failed")
		body["error"] = "internal error"
	}
	return c.JSON(status, body)
}
