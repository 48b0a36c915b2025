package model

import "time"

// BookingEventType names a booking lifecycle transition that downstream
// consumers are told about.
type BookingEventType string

const (
	BookingCreated       BookingEventType = "booking.created"
	BookingConfirmed     BookingEventType = "booking.confirmed"
	BookingCancelled     BookingEventType = "booking.cancelled"
	BookingRefunded      BookingEventType = "booking.refunded"
	BookingExpired       BookingEventType = "booking.expired"
	BookingPaymentFailed BookingEventType = "booking.payment_failed"
)

// BookingEvent is the fire-and-forget message emitted after a booking
// changes state.  It carries enough for consumers to notify the booker
// and the event owner without querying the primary database.
type BookingEvent struct {
	Type          BookingEventType `json:"type"`
	BookingID     uint64           `json:"booking_id"`
	Reference     string           `json:"booking_reference"`
	EventID       uint64           `json:"event_id"`
	EventTitle    string           `json:"event_title,omitempty"`
	UserID        uint64           `json:"user_id"`
	OwnerID       uint64           `json:"owner_id,omitempty"`
	Seats         int              `json:"seats"`
	Amount        string           `json:"amount"`
	Currency      string           `json:"currency"`
	Status        BookingStatus    `json:"status"`
	PaymentStatus PaymentStatus    `json:"payment_status"`
	Reason        string           `json:"reason,omitempty"`
	OccurredAt    time.Time        `json:"occurred_at"`
}

// NewBookingEvent builds the message for b.  e may be nil when the event
// could not be loaded; owner and title are then left empty.
func NewBookingEvent(t BookingEventType, b *Booking, e *Event, at time.Time) BookingEvent {
	ev := BookingEvent{
		Type:          t,
		BookingID:     b.ID,
		Reference:     b.Reference,
		EventID:       b.EventID,
		UserID:        b.UserID,
		Seats:         b.SeatsBooked,
		Amount:        b.TotalPrice.StringFixed(2),
		Currency:      b.Currency,
		Status:        b.Status,
		PaymentStatus: b.PaymentStatus,
		OccurredAt:    at.UTC(),
	}
	if b.CancellationReason != nil {
		ev.Reason = *b.CancellationReason
	}
	if e != nil {
		ev.OwnerID = e.OwnerID
		ev.EventTitle = e.Title
	}
	return ev
}
