package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "PENDING"
	BookingStatusConfirmed BookingStatus = "CONFIRMED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
	BookingStatusExpired   BookingStatus = "EXPIRED"
	BookingStatusRefunded  BookingStatus = "REFUNDED"
)

// PaymentStatus is the payment sub-lifecycle of a booking.
type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "PENDING"
	PaymentStatusProcessing        PaymentStatus = "PROCESSING"
	PaymentStatusCompleted         PaymentStatus = "COMPLETED"
	PaymentStatusFailed            PaymentStatus = "FAILED"
	PaymentStatusRefunded          PaymentStatus = "REFUNDED"
	PaymentStatusPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
)

// transitions lists the legal next states for every booking status.
// Terminal states map to nothing.
var transitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:   {BookingStatusConfirmed, BookingStatusCancelled, BookingStatusExpired},
	BookingStatusConfirmed: {BookingStatusCancelled, BookingStatusRefunded},
}

// CanTransition reports whether a booking may move from one status to
// another.
func CanTransition(from, to BookingStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status can no longer change.
func (s BookingStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

// HoldsSeats reports whether a booking in this status counts against the
// event's inventory.
func (s BookingStatus) HoldsSeats() bool {
	return s == BookingStatusPending || s == BookingStatusConfirmed
}

// Booking is a user's reservation of one or more seats for an event,
// together with the correlation data needed to reconcile its payment.
//
// Fields:
//  ID                 – primary key identifier.
//  Reference          – unique, human-shareable code (BK-<base36>-<hex>).
//  EventID / UserID   – what was booked and by whom.
//  SeatsBooked        – number of seats, at least one.
//  TotalPrice         – PricePerSeat × SeatsBooked at booking time.
//  Status             – lifecycle state.
//  PaymentStatus      – payment sub-state.
//  PaymentOrderID     – gateway order id, set when an order is created.
//  PaymentIntentID    – gateway payment id, set once a payment is seen.
//  PaymentMethod      – method reported by the gateway (card, upi, ...).
//  RefundAmount       – cumulative amount refunded so far.
//  CancellationReason – free text supplied on cancel/expiry/failure.
//  ClientIP/UserAgent – audit data captured at creation.
type Booking struct {
	ID                 uint64          `json:"id"`
	Reference          string          `json:"booking_reference"`
	EventID            uint64          `json:"event_id"`
	UserID             uint64          `json:"user_id"`
	SeatsBooked        int             `json:"seats_booked"`
	TotalPrice         decimal.Decimal `json:"total_price"`
	Currency           string          `json:"currency"`
	Status             BookingStatus   `json:"status"`
	PaymentStatus      PaymentStatus   `json:"payment_status"`
	PaymentOrderID     *string         `json:"payment_order_id,omitempty"`
	PaymentIntentID    *string         `json:"payment_intent_id,omitempty"`
	PaymentMethod      *string         `json:"payment_method,omitempty"`
	RefundAmount       decimal.Decimal `json:"refund_amount"`
	CancellationReason *string         `json:"cancellation_reason,omitempty"`
	ClientIP           string          `json:"-"`
	UserAgent          string          `json:"-"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty"`
	PaidAt             *time.Time      `json:"paid_at,omitempty"`
	RefundedAt         *time.Time      `json:"refunded_at,omitempty"`
}

// Refundable returns the amount that may still be refunded.
func (b *Booking) Refundable() decimal.Decimal {
	rem := b.TotalPrice.Sub(b.RefundAmount)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

// Refund is one entry of a booking's refund trail.
type Refund struct {
	ID              uint64          `json:"id"`
	BookingID       uint64          `json:"booking_id"`
	GatewayRefundID string          `json:"gateway_refund_id"`
	Amount          decimal.Decimal `json:"amount"`
	CreatedAt       time.Time       `json:"created_at"`
}
