package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventStatus is the publication state of an event as seen by the
// booking core.  Only PUBLISHED events accept new bookings.
type EventStatus string

const (
	EventStatusDraft     EventStatus = "DRAFT"
	EventStatusPublished EventStatus = "PUBLISHED"
	EventStatusSoldOut   EventStatus = "SOLD_OUT"
	EventStatusCancelled EventStatus = "CANCELLED"
)

// Event holds the subset of an event record that the booking core reads
// and writes.  The catalog owns every other column; this service only
// touches AvailableSeats and Status.
//
// Fields:
//  ID             – primary key identifier.
//  OwnerID        – user who organises the event (receives notifications).
//  Title          – display title, copied into notifications.
//  EventDate      – when the event takes place (UTC).
//  PricePerSeat   – price of a single seat.
//  TotalSeats     – capacity of the event.
//  AvailableSeats – unsold seats; 0 ≤ AvailableSeats ≤ TotalSeats.
//  Status         – publication state.
type Event struct {
	ID             uint64          // events.id
	OwnerID        uint64          // events.owner_id
	Title          string          // events.title
	EventDate      time.Time       // events.event_date
	PricePerSeat   decimal.Decimal // events.price_per_seat
	Currency       string          // events.currency
	TotalSeats     int             // events.total_seats
	AvailableSeats int             // events.available_seats
	Status         EventStatus     // events.status
	CreatedAt      time.Time       // events.created_at
	UpdatedAt      time.Time       // events.updated_at
}

// Bookable reports whether the event accepts new bookings at the given
// instant.
func (e *Event) Bookable(now time.Time) bool {
	return e.Status == EventStatusPublished && e.EventDate.After(now)
}

// EventAvailability is the public, cacheable view of an event's seats.
type EventAvailability struct {
	EventID        uint64      `json:"event_id"`
	Title          string      `json:"title"`
	EventDate      time.Time   `json:"event_date"`
	PricePerSeat   string      `json:"price_per_seat"`
	Currency       string      `json:"currency"`
	TotalSeats     int         `json:"total_seats"`
	AvailableSeats int         `json:"available_seats"`
	Status         EventStatus `json:"status"`
}
