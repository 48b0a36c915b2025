// Package service implements the booking core: seat inventory, the
// booking state machine, payment reconciliation and the expiry sweep.
// Handlers call into it with plain inputs; it talks to storage, locks and
// the gateway only through the interfaces in ports.go.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/event-seat-booking/internal/lock"
	"github.com/iliyamo/event-seat-booking/internal/model"
	"github.com/iliyamo/event-seat-booking/internal/repository"
)

// BookingConfig tunes BookingService.
type BookingConfig struct {
	MaxSeatsPerBooking int
	ExpiryGrace        time.Duration
	ReapBatchSize      int
}

// BookingService creates, cancels and expires bookings.
type BookingService struct {
	base
	cfg BookingConfig
}

// NewBookingService returns a BookingService.  Zero config values fall
// back to 10 seats per booking, a 30 minute grace window and batches of
// 100.
func NewBookingService(d Deps, cfg BookingConfig) *BookingService {
	if cfg.MaxSeatsPerBooking <= 0 {
		cfg.MaxSeatsPerBooking = 10
	}
	if cfg.ExpiryGrace <= 0 {
		cfg.ExpiryGrace = 30 * time.Minute
	}
	if cfg.ReapBatchSize <= 0 {
		cfg.ReapBatchSize = 100
	}
	return &BookingService{base: newBase(d), cfg: cfg}
}

// CreateBookingInput is the request to reserve seats.
type CreateBookingInput struct {
	EventID   uint64
	UserID    uint64
	Seats     int
	ClientIP  string
	UserAgent string
}

// CreateBooking reserves seats for a user and returns the PENDING
// booking.  The availability check and the decrement happen in one
// transaction under the event lock, so concurrent callers can never both
// take the last seats.  lock.ErrContention is returned unchanged when
// another operation holds the event.
func (s *BookingService) CreateBooking(ctx context.Context, in CreateBookingInput) (*model.Booking, error) {
	if in.EventID == 0 || in.UserID == 0 || in.Seats < 1 || in.Seats > s.cfg.MaxSeatsPerBooking {
		bookingsTotal.WithLabelValues("create", "invalid").Inc()
		return nil, ErrInvalidInput
	}

	var (
		b     *model.Booking
		event *model.Event
	)
	err := s.inEventTx(ctx, in.EventID, func(ctx context.Context) error {
		e, err := s.Events.GetForUpdate(ctx, in.EventID)
		if err != nil {
			return mapRepoErr(err)
		}
		now := s.now()
		if !e.Bookable(now) {
			return ErrEventNotBookable
		}
		if e.AvailableSeats < in.Seats {
			return ErrInsufficientSeats
		}

		nb := &model.Booking{
			EventID:       e.ID,
			UserID:        in.UserID,
			SeatsBooked:   in.Seats,
			TotalPrice:    e.PricePerSeat.Mul(decimal.NewFromInt(int64(in.Seats))),
			Currency:      e.Currency,
			Status:        model.BookingStatusPending,
			PaymentStatus: model.PaymentStatusPending,
			RefundAmount:  decimal.Zero,
			ClientIP:      in.ClientIP,
			UserAgent:     in.UserAgent,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.insert(ctx, nb); err != nil {
			return err
		}
		if err := s.Events.ReserveSeats(ctx, e.ID, in.Seats); err != nil {
			return mapRepoErr(err)
		}
		e.AvailableSeats -= in.Seats
		b, event = nb, e
		return nil
	})
	if err != nil {
		bookingsTotal.WithLabelValues("create", outcome(err)).Inc()
		return nil, err
	}

	bookingsTotal.WithLabelValues("create", "ok").Inc()
	seatsReserved.Add(float64(b.SeatsBooked))
	s.Log.WithFields(logrus.Fields{
		"booking_id": b.ID,
		"reference":  b.Reference,
		"event_id":   b.EventID,
		"user_id":    b.UserID,
		"seats":      b.SeatsBooked,
	}).Info("booking created")
	s.emit(ctx, model.BookingCreated, b, event)
	s.invalidate(ctx, b.EventID)
	return b, nil
}

// insert stores b under a fresh reference, retrying the rare collision.
func (s *BookingService) insert(ctx context.Context, b *model.Booking) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		b.Reference = NewBookingReference(s.now())
		if err = s.Bookings.Create(ctx, b); !errors.Is(err, repository.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("allocate booking reference: %w", err)
}

// CancelInput is the request to cancel a booking.
type CancelInput struct {
	BookingID uint64
	ActorID   uint64
	IsAdmin   bool
	Reason    string
}

// CancelBooking cancels a booking on behalf of its owner or an admin.  A
// booking with a completed payment has its remaining paid amount
// refunded and ends REFUNDED; any other live booking ends CANCELLED.  In
// both cases the seats go back to the event.  The booking lock orders
// this against other changes to the same booking and the event lock
// orders the inventory step against bookings on the same event.
func (s *BookingService) CancelBooking(ctx context.Context, in CancelInput) (*model.Booking, error) {
	reason := in.Reason
	if reason == "" {
		reason = "cancelled by user"
		if in.IsAdmin {
			reason = "cancelled by admin"
		}
	}

	var (
		b     *model.Booking
		event model.BookingEventType
	)
	err := s.Locks.WithLock(ctx, lock.BookingKey(in.BookingID), s.LockTTL, func(ctx context.Context) error {
		cur, err := s.load(ctx, in.BookingID)
		if err != nil {
			return err
		}
		if !in.IsAdmin && cur.UserID != in.ActorID {
			return ErrForbidden
		}
		if cur.Status.Terminal() {
			return ErrAlreadyTerminal
		}

		if paid(cur.PaymentStatus) {
			if _, err := s.refundLocked(ctx, cur, cur.Refundable(), reason); err != nil {
				return err
			}
			event = model.BookingRefunded
		} else {
			if err := s.cancelUnpaid(ctx, cur, reason); err != nil {
				return err
			}
			event = model.BookingCancelled
		}
		b, err = s.load(ctx, in.BookingID)
		return err
	})
	if err != nil {
		bookingsTotal.WithLabelValues("cancel", outcome(err)).Inc()
		return nil, err
	}

	bookingsTotal.WithLabelValues("cancel", "ok").Inc()
	s.Log.WithFields(logrus.Fields{
		"booking_id": b.ID,
		"status":     string(b.Status),
		"actor_id":   in.ActorID,
		"admin":      in.IsAdmin,
	}).Info("booking cancelled")
	s.afterInventoryChange(ctx, event, b)
	return b, nil
}

func (s *BookingService) cancelUnpaid(ctx context.Context, b *model.Booking, reason string) error {
	now := s.now()
	cancelled := model.BookingStatusCancelled
	return s.inEventTx(ctx, b.EventID, func(ctx context.Context) error {
		ok, err := s.Bookings.Transition(ctx, b.ID, repository.Cond{
			Statuses:        []model.BookingStatus{b.Status},
			PaymentStatuses: []model.PaymentStatus{b.PaymentStatus},
		}, repository.BookingUpdate{
			Status:             &cancelled,
			CancellationReason: &reason,
			CancelledAt:        &now,
		})
		if err != nil {
			return err
		}
		if !ok {
			// a webhook or the reaper moved it after we read it
			return ErrAlreadyTerminal
		}
		if err := s.Events.ReleaseSeats(ctx, b.EventID, b.SeatsBooked); err != nil {
			return mapRepoErr(err)
		}
		seatsReleased.WithLabelValues("cancel").Add(float64(b.SeatsBooked))
		return nil
	})
}

// GetBooking returns a booking visible to the caller.
func (s *BookingService) GetBooking(ctx context.Context, id, userID uint64, isAdmin bool) (*model.Booking, error) {
	b, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isAdmin && b.UserID != userID {
		return nil, ErrForbidden
	}
	return b, nil
}

// ListUserBookings returns the caller's bookings, newest first.
func (s *BookingService) ListUserBookings(ctx context.Context, userID uint64) ([]model.Booking, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	return s.Bookings.ListByUser(ctx, userID)
}

// ReapResult summarises one expiry sweep.
type ReapResult struct {
	Scanned int `json:"scanned"`
	Expired int `json:"expired"`
	Failed  int `json:"failed"`
}

// ExpireStale expires PENDING bookings whose payment never started and
// that are older than the grace window, returning their seats.  Each
// booking is handled on its own: a failure is counted and logged and the
// sweep moves on.  The expiry is a conditional update, so two sweeps
// running at once release each booking's seats exactly once.
func (s *BookingService) ExpireStale(ctx context.Context) (ReapResult, error) {
	start := time.Now()
	defer func() { reaperDuration.Observe(time.Since(start).Seconds()) }()

	var res ReapResult
	cutoff := s.now().Add(-s.cfg.ExpiryGrace)
	stale, err := s.Bookings.ListStalePending(ctx, cutoff, s.cfg.ReapBatchSize)
	if err != nil {
		return res, fmt.Errorf("list stale bookings: %w", err)
	}
	res.Scanned = len(stale)

	for i := range stale {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		b := &stale[i]
		expired, err := s.expire(ctx, b)
		switch {
		case err != nil:
			res.Failed++
			reaperFailures.Inc()
			s.Log.WithError(err).WithField("booking_id", b.ID).Warn("reaper: expire failed")
		case expired:
			res.Expired++
			reaperExpired.Inc()
		}
	}
	if res.Scanned > 0 {
		s.Log.WithFields(logrus.Fields{
			"scanned": res.Scanned,
			"expired": res.Expired,
			"failed":  res.Failed,
		}).Info("reaper sweep finished")
	}
	return res, nil
}

func (s *BookingService) expire(ctx context.Context, b *model.Booking) (bool, error) {
	now := s.now()
	expired := model.BookingStatusExpired
	reason := "payment window expired"
	var moved bool
	err := s.inEventTx(ctx, b.EventID, func(ctx context.Context) error {
		ok, err := s.Bookings.Transition(ctx, b.ID, repository.Cond{
			Statuses:        []model.BookingStatus{model.BookingStatusPending},
			PaymentStatuses: []model.PaymentStatus{model.PaymentStatusPending},
		}, repository.BookingUpdate{
			Status:             &expired,
			CancellationReason: &reason,
			CancelledAt:        &now,
		})
		if err != nil || !ok {
			return err
		}
		moved = true
		return s.Events.ReleaseSeats(ctx, b.EventID, b.SeatsBooked)
	})
	if err != nil || !moved {
		return false, err
	}
	seatsReleased.WithLabelValues("expired").Add(float64(b.SeatsBooked))
	b.Status, b.CancellationReason, b.CancelledAt = expired, &reason, &now
	s.afterInventoryChange(ctx, model.BookingExpired, b)
	return true, nil
}

func paid(ps model.PaymentStatus) bool {
	return ps == model.PaymentStatusCompleted || ps == model.PaymentStatusPartiallyRefunded
}

// outcome labels an error for the bookings_total metric.
func outcome(err error) string {
	switch {
	case errors.Is(err, lock.ErrContention):
		return "contention"
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrEventNotFound), errors.Is(err, ErrBookingNotFound),
		errors.Is(err, ErrEventNotBookable), errors.Is(err, ErrInsufficientSeats), errors.Is(err, ErrForbidden),
		errors.Is(err, ErrAlreadyTerminal), errors.Is(err, ErrRefundExceedsTotal), errors.Is(err, ErrNotRefundable):
		return "rejected"
	}
	return "error"
}
