package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/event-seat-booking/internal/middleware"
	"github.com/iliyamo/event-seat-booking/internal/service"
)

// maxWebhookBytes bounds a webhook body.
const maxWebhookBytes = 1 << 20

// SignatureHeader carries the gateway's HMAC of the webhook body.
const SignatureHeader = "X-Payment-Signature"

// PaymentHandler serves checkout and the gateway webhook.
type PaymentHandler struct {
	payments PaymentAPI
	log      logrus.FieldLogger
}

// NewPaymentHandler returns a PaymentHandler.
func NewPaymentHandler(payments PaymentAPI, log logrus.FieldLogger) *PaymentHandler {
	return &PaymentHandler{payments: payments, log: log}
}

// CreateOrder handles POST /v1/bookings/:id/payment-order.
func (h *PaymentHandler) CreateOrder(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	order, err := h.payments.CreatePaymentOrder(c.Request().Context(), id, userID)
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(http.StatusOK, order)
}

// Verify handles POST /v1/bookings/:id/payment/verify with the checkout
// proof {"order_id", "payment_id", "signature"}.
func (h *PaymentHandler) Verify(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	var body struct {
		OrderID   string `json:"order_id"`
		PaymentID string `json:"payment_id"`
		Signature string `json:"signature"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	b, err := h.payments.VerifyPayment(c.Request().Context(), service.VerifyInput{
		BookingID: id,
		UserID:    userID,
		OrderID:   body.OrderID,
		PaymentID: body.PaymentID,
		Signature: body.Signature,
	})
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(http.StatusOK, viewOf(b))
}

// Webhook handles POST /v1/webhooks/payments.  The body is read raw and
// handed over untouched so the signature is checked over the exact bytes
// the gateway signed.  The reply never reveals more than ok or invalid
// signature.
func (h *PaymentHandler) Webhook(c echo.Context) error {
	r := c.Request()
	body, err := io.ReadAll(http.MaxBytesReader(c.Response(), r.Body, maxWebhookBytes))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	err = h.payments.HandleWebhook(r.Context(), body, r.Header.Get(SignatureHeader))
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	case errors.Is(err, service.ErrInvalidSignature):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid signature"})
	default:
		// the gateway retries on 5xx
		h.log.WithError(err).Error("webhook processing failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}
