// Package handler exposes the booking and payment services over HTTP.
// Handlers bind and validate the request, call one service operation and
// translate its result or error into JSON.
package handler

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/event-seat-booking/internal/model"
	"github.com/iliyamo/event-seat-booking/internal/service"
)

// BookingAPI is the booking side of the core.
type BookingAPI interface {
	CreateBooking(ctx context.Context, in service.CreateBookingInput) (*model.Booking, error)
	CancelBooking(ctx context.Context, in service.CancelInput) (*model.Booking, error)
	GetBooking(ctx context.Context, id, userID uint64, isAdmin bool) (*model.Booking, error)
	ListUserBookings(ctx context.Context, userID uint64) ([]model.Booking, error)
}

// PaymentAPI is the payment side of the core.
type PaymentAPI interface {
	CreatePaymentOrder(ctx context.Context, bookingID, userID uint64) (*service.PaymentOrder, error)
	VerifyPayment(ctx context.Context, in service.VerifyInput) (*model.Booking, error)
	HandleWebhook(ctx context.Context, body []byte, signature string) error
	Refund(ctx context.Context, in service.RefundInput) (*service.RefundResult, error)
}

// Sweeper runs one expiry sweep on demand.
type Sweeper interface {
	RunOnce(ctx context.Context) (service.ReapResult, error)
}

// AvailabilityReader loads the public seat view of an event.
type AvailabilityReader interface {
	Availability(ctx context.Context, eventID uint64) (*model.EventAvailability, error)
}

// paramID parses a positive numeric path parameter.
func paramID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id != 0
}

// bookingView is the JSON shape of a booking.  Money is rendered with two
// decimals.
type bookingView struct {
	*model.Booking
	TotalPrice   string `json:"total_price"`
	RefundAmount string `json:"refund_amount"`
}

func viewOf(b *model.Booking) bookingView {
	return bookingView{
		Booking:      b,
		TotalPrice:   b.TotalPrice.StringFixed(2),
		RefundAmount: b.RefundAmount.StringFixed(2),
	}
}

// parseAmount reads an optional decimal amount sent as a JSON string or
// number.
func parseAmount(raw json.Number) (*decimal.Decimal, error) {
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw.String())
	if err != nil {
		return nil, err
	}
	return &d, nil
}
