package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/event-seat-booking/internal/gateway"
	"github.com/iliyamo/event-seat-booking/internal/lock"
	"github.com/iliyamo/event-seat-booking/internal/model"
	"github.com/iliyamo/event-seat-booking/internal/repository"
)

// Deps are the collaborators shared by BookingService and PaymentService.
// Notifier, Cache and Now are optional.
type Deps struct {
	Tx       TxRunner
	Events   EventStore
	Bookings BookingStore
	Locks    Locker
	Gateway  Gateway
	Notifier Notifier
	Cache    CacheInvalidator
	Log      logrus.FieldLogger
	Now      func() time.Time
	LockTTL  time.Duration
}

// base holds the operations both services build on: the locked inventory
// transactions and the post-commit side effects.
type base struct {
	Deps
}

func newBase(d Deps) base {
	if d.Notifier == nil {
		d.Notifier = nopNotifier{}
	}
	if d.Cache == nil {
		d.Cache = nopInvalidator{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		d.Log = l
	}
	if d.LockTTL <= 0 {
		d.LockTTL = lock.DefaultTTL
	}
	return base{Deps: d}
}

func (s *base) now() time.Time { return s.Now().UTC() }

// load fetches a booking, translating the repository's not-found error.
func (s *base) load(ctx context.Context, id uint64) (*model.Booking, error) {
	b, err := s.Bookings.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return b, nil
}

// inEventTx runs fn in a transaction while holding the event's inventory
// lock.  Every change to an event's seat counter goes through here.
func (s *base) inEventTx(ctx context.Context, eventID uint64, fn func(ctx context.Context) error) error {
	return s.Locks.WithLock(ctx, lock.EventKey(eventID), s.LockTTL, func(ctx context.Context) error {
		return s.Tx.WithTx(ctx, fn)
	})
}

// failBooking moves an unpaid or in-flight booking to CANCELLED with a
// FAILED payment and returns its seats.  It reports false when the
// booking had already left that state, for instance because a capture
// confirmed it first.
func (s *base) failBooking(ctx context.Context, b *model.Booking, reason string) (bool, error) {
	now := s.now()
	cancelled := model.BookingStatusCancelled
	failed := model.PaymentStatusFailed
	why := "payment failed: " + reason
	var moved bool
	err := s.inEventTx(ctx, b.EventID, func(ctx context.Context) error {
		ok, err := s.Bookings.Transition(ctx, b.ID, repository.Cond{
			Statuses:        []model.BookingStatus{model.BookingStatusPending},
			PaymentStatuses: []model.PaymentStatus{model.PaymentStatusPending, model.PaymentStatusProcessing},
		}, repository.BookingUpdate{
			Status:             &cancelled,
			PaymentStatus:      &failed,
			CancellationReason: &why,
			CancelledAt:        &now,
		})
		if err != nil || !ok {
			return err
		}
		moved = true
		return s.Events.ReleaseSeats(ctx, b.EventID, b.SeatsBooked)
	})
	if err != nil {
		return false, err
	}
	if moved {
		seatsReleased.WithLabelValues("payment_failed").Add(float64(b.SeatsBooked))
		b.Status, b.PaymentStatus, b.CancellationReason, b.CancelledAt = cancelled, failed, &why, &now
		s.afterInventoryChange(ctx, model.BookingPaymentFailed, b)
	}
	return moved, nil
}

// confirmBooking records a successful payment.  The update only applies
// while the booking is PENDING and its payment not yet COMPLETED, so a
// synchronous verification racing a webhook confirms exactly once.  It
// reports whether this call made the change.
func (s *base) confirmBooking(ctx context.Context, b *model.Booking, p *gateway.Payment) (bool, error) {
	now := s.now()
	confirmed := model.BookingStatusConfirmed
	completed := model.PaymentStatusCompleted
	upd := repository.BookingUpdate{
		Status:        &confirmed,
		PaymentStatus: &completed,
		PaidAt:        &now,
	}
	if p != nil && p.ID != "" {
		upd.PaymentIntentID = &p.ID
	}
	if p != nil && p.Method != "" {
		upd.PaymentMethod = &p.Method
	}
	ok, err := s.Bookings.Transition(ctx, b.ID, repository.Cond{
		Statuses:        []model.BookingStatus{model.BookingStatusPending},
		PaymentStatuses: []model.PaymentStatus{model.PaymentStatusPending, model.PaymentStatusProcessing},
	}, upd)
	if err != nil {
		return false, fmt.Errorf("confirm booking %d: %w", b.ID, err)
	}
	if !ok {
		return false, nil
	}
	b.Status, b.PaymentStatus, b.PaidAt = confirmed, completed, &now
	if upd.PaymentIntentID != nil {
		b.PaymentIntentID = upd.PaymentIntentID
	}
	if upd.PaymentMethod != nil {
		b.PaymentMethod = upd.PaymentMethod
	}
	bookingsTotal.WithLabelValues("confirm", "ok").Inc()
	s.emit(ctx, model.BookingConfirmed, b, nil)
	return true, nil
}

// refundResult describes a refund applied by refundLocked.
type refundResult struct {
	Refund *model.Refund
	Full   bool
}

// refundLocked refunds amount of a paid booking through the gateway and
// records it.  A refund that covers the remaining paid amount moves the
// booking to REFUNDED and returns its seats; anything less leaves it
// PARTIALLY_REFUNDED.  The caller holds the booking lock; the event lock
// is taken here before the gateway is called so that contention fails
// the operation before any money moves.
func (s *base) refundLocked(ctx context.Context, b *model.Booking, amount decimal.Decimal, reason string) (*refundResult, error) {
	if b.PaymentIntentID == nil || *b.PaymentIntentID == "" {
		return nil, ErrNotRefundable
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidInput
	}
	remaining := b.Refundable()
	if amount.GreaterThan(remaining) {
		return nil, ErrRefundExceedsTotal
	}
	full := amount.Equal(remaining)

	var res *refundResult
	err := s.Locks.WithLock(ctx, lock.EventKey(b.EventID), s.LockTTL, func(ctx context.Context) error {
		gr, err := s.Gateway.RefundPayment(ctx, *b.PaymentIntentID, gateway.RefundRequest{
			Amount: gateway.ToMinor(amount),
			Notes:  map[string]string{"booking_reference": b.Reference, "reason": reason},
		})
		if err != nil {
			return fmt.Errorf("gateway refund: %w", err)
		}

		now := s.now()
		ref := &model.Refund{BookingID: b.ID, GatewayRefundID: gr.ID, Amount: amount, CreatedAt: now}
		upd := repository.BookingUpdate{RefundedAt: &now}
		if full {
			st, ps := model.BookingStatusRefunded, model.PaymentStatusRefunded
			upd.Status, upd.PaymentStatus = &st, &ps
			if reason != "" {
				upd.CancellationReason = &reason
			}
		} else {
			ps := model.PaymentStatusPartiallyRefunded
			upd.PaymentStatus = &ps
		}
		cond := repository.Cond{
			Statuses:        []model.BookingStatus{b.Status},
			PaymentStatuses: []model.PaymentStatus{b.PaymentStatus},
		}
		err = s.Tx.WithTx(ctx, func(ctx context.Context) error {
			ok, err := s.Bookings.AddRefund(ctx, ref, cond, upd)
			if err != nil {
				return err
			}
			if !ok {
				return ErrRefundExceedsTotal
			}
			if full && b.Status.HoldsSeats() {
				return s.Events.ReleaseSeats(ctx, b.EventID, b.SeatsBooked)
			}
			return nil
		})
		if err != nil {
			// the gateway already paid out; the ledger must be fixed by hand
			s.Log.WithError(err).WithFields(logrus.Fields{
				"booking_id":        b.ID,
				"gateway_refund_id": gr.ID,
				"amount":            amount.StringFixed(2),
			}).Error("refund issued but not recorded")
			return err
		}
		res = &refundResult{Refund: ref, Full: full}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if full && b.Status.HoldsSeats() {
		seatsReleased.WithLabelValues("refund").Add(float64(b.SeatsBooked))
	}
	bookingsTotal.WithLabelValues("refund", "ok").Inc()
	return res, nil
}

// afterInventoryChange notifies about b and drops cached views of its event.
func (s *base) afterInventoryChange(ctx context.Context, t model.BookingEventType, b *model.Booking) {
	s.emit(ctx, t, b, nil)
	s.invalidate(ctx, b.EventID)
}

func (s *base) invalidate(ctx context.Context, eventID uint64) {
	if err := s.Cache.InvalidateEvent(detach(ctx), eventID); err != nil {
		s.Log.WithError(err).WithField("event_id", eventID).Warn("cache invalidation failed")
	}
}

// emit sends a lifecycle notification.  Failures are logged only.
func (s *base) emit(ctx context.Context, t model.BookingEventType, b *model.Booking, e *model.Event) {
	ctx, cancel := context.WithTimeout(detach(ctx), 5*time.Second)
	defer cancel()
	if e == nil {
		e, _ = s.Events.GetByID(ctx, b.EventID)
	}
	if err := s.Notifier.Notify(ctx, model.NewBookingEvent(t, b, e, s.now())); err != nil {
		s.Log.WithError(err).WithFields(logrus.Fields{
			"type":       string(t),
			"booking_id": b.ID,
		}).Warn("notification failed")
	}
}

// detach keeps ctx values but not its cancellation, so post-commit side
// effects still run when the request context ends.
func detach(ctx context.Context) context.Context { return context.WithoutCancel(ctx) }

func mapRepoErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrBookingNotFound):
		return ErrBookingNotFound
	case errors.Is(err, repository.ErrEventNotFound):
		return ErrEventNotFound
	case errors.Is(err, repository.ErrNotEnoughSeats):
		return ErrInsufficientSeats
	}
	return err
}
