package service

import (
	"context"
	"time"

	"github.com/iliyamo/event-seat-booking/internal/gateway"
	"github.com/iliyamo/event-seat-booking/internal/model"
	"github.com/iliyamo/event-seat-booking/internal/repository"
)

// The interfaces below are what the services need from their
// collaborators.  cmd/server wires the concrete MySQL, Redis, gateway and
// broker implementations; tests substitute in-memory fakes.

// TxRunner runs fn in one database transaction carried by ctx.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// EventStore reads events and mutates their seat counters.
type EventStore interface {
	GetByID(ctx context.Context, id uint64) (*model.Event, error)
	GetForUpdate(ctx context.Context, id uint64) (*model.Event, error)
	ReserveSeats(ctx context.Context, id uint64, seats int) error
	ReleaseSeats(ctx context.Context, id uint64, seats int) error
}

// BookingStore persists bookings.  Transition and AddRefund are
// conditional and report whether the row changed.
type BookingStore interface {
	Create(ctx context.Context, b *model.Booking) error
	GetByID(ctx context.Context, id uint64) (*model.Booking, error)
	GetByOrderID(ctx context.Context, orderID string) (*model.Booking, error)
	ListByUser(ctx context.Context, userID uint64) ([]model.Booking, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]model.Booking, error)
	Transition(ctx context.Context, id uint64, cond repository.Cond, upd repository.BookingUpdate) (bool, error)
	AddRefund(ctx context.Context, ref *model.Refund, cond repository.Cond, upd repository.BookingUpdate) (bool, error)
}

// Locker serialises work on a key.  WithLock fails fast with
// lock.ErrContention when the key is held.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// Gateway is the payment gateway adapter.
type Gateway interface {
	KeyID() string
	CreateOrder(ctx context.Context, req gateway.OrderRequest) (*gateway.Order, error)
	FetchPayment(ctx context.Context, paymentID string) (*gateway.Payment, error)
	FetchOrderPayments(ctx context.Context, orderID string) ([]gateway.Payment, error)
	RefundPayment(ctx context.Context, paymentID string, req gateway.RefundRequest) (*gateway.Refund, error)
	VerifyPaymentSignature(orderID, paymentID, sig string) bool
	VerifyWebhookSignature(body []byte, sig string) bool
}

// Notifier delivers booking lifecycle events.  Delivery is best effort;
// errors are logged by the caller and never fail the operation.
type Notifier interface {
	Notify(ctx context.Context, ev model.BookingEvent) error
}

// CacheInvalidator drops cached views of an event after its inventory
// changes.
type CacheInvalidator interface {
	InvalidateEvent(ctx context.Context, eventID uint64) error
}
