package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/event-seat-booking/internal/gateway"
	"github.com/iliyamo/event-seat-booking/internal/lock"
	"github.com/iliyamo/event-seat-booking/internal/model"
	"github.com/iliyamo/event-seat-booking/internal/repository"
)

// PaymentService reconciles bookings with the payment gateway.  A booking
// is confirmed only after the gateway itself reports the payment as
// successful; client-supplied proof is never trusted on its own.
type PaymentService struct {
	base
}

// NewPaymentService returns a PaymentService.
func NewPaymentService(d Deps) *PaymentService {
	return &PaymentService{base: newBase(d)}
}

// PaymentOrder is what a client needs to open the gateway checkout.
type PaymentOrder struct {
	BookingID uint64 `json:"booking_id"`
	OrderID   string `json:"order_id"`
	Amount    int64  `json:"amount"` // minor units
	Currency  string `json:"currency"`
	Reference string `json:"booking_reference"`
	KeyID     string `json:"key_id"`
}

// CreatePaymentOrder opens a gateway order for the booking's total and
// moves its payment to PROCESSING.  Asking again while the payment is
// still processing returns the order already opened.
func (s *PaymentService) CreatePaymentOrder(ctx context.Context, bookingID, userID uint64) (*PaymentOrder, error) {
	var order *PaymentOrder
	err := s.Locks.WithLock(ctx, lock.BookingKey(bookingID), s.LockTTL, func(ctx context.Context) error {
		b, err := s.load(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.UserID != userID {
			return ErrForbidden
		}
		if paid(b.PaymentStatus) {
			return ErrAlreadyPaid
		}
		if b.Status != model.BookingStatusPending {
			return ErrBookingNotPayable
		}
		amount := gateway.ToMinor(b.TotalPrice)
		if b.PaymentStatus == model.PaymentStatusProcessing && b.PaymentOrderID != nil {
			order = s.paymentOrder(b, *b.PaymentOrderID, amount)
			return nil
		}

		o, err := s.Gateway.CreateOrder(ctx, gateway.OrderRequest{
			Amount:   amount,
			Currency: b.Currency,
			Receipt:  b.Reference,
			Notes:    map[string]string{"booking_id": strconv.FormatUint(b.ID, 10)},
		})
		if err != nil {
			return fmt.Errorf("create gateway order: %w", err)
		}
		processing := model.PaymentStatusProcessing
		ok, err := s.Bookings.Transition(ctx, b.ID, repository.Cond{
			Statuses:        []model.BookingStatus{model.BookingStatusPending},
			PaymentStatuses: []model.PaymentStatus{model.PaymentStatusPending},
		}, repository.BookingUpdate{PaymentOrderID: &o.ID, PaymentStatus: &processing})
		if err != nil {
			return err
		}
		if !ok {
			// expired by the reaper between the read and the update
			return ErrBookingNotPayable
		}
		order = s.paymentOrder(b, o.ID, amount)
		return nil
	})
	if err != nil {
		bookingsTotal.WithLabelValues("payment_order", outcome(err)).Inc()
		return nil, err
	}
	bookingsTotal.WithLabelValues("payment_order", "ok").Inc()
	s.Log.WithFields(logrus.Fields{"booking_id": bookingID, "order_id": order.OrderID}).Info("payment order created")
	return order, nil
}

func (s *PaymentService) paymentOrder(b *model.Booking, orderID string, amount int64) *PaymentOrder {
	return &PaymentOrder{
		BookingID: b.ID,
		OrderID:   orderID,
		Amount:    amount,
		Currency:  b.Currency,
		Reference: b.Reference,
		KeyID:     s.Gateway.KeyID(),
	}
}

// VerifyInput is the checkout proof a client submits after paying.
type VerifyInput struct {
	BookingID uint64
	UserID    uint64
	OrderID   string
	PaymentID string
	Signature string
}

// VerifyPayment confirms a booking from a client checkout proof.  The
// signature over orderID|paymentID must match and the gateway must report
// the payment captured or authorized; otherwise the booking is failed,
// its seats are returned and ErrPaymentVerificationFailed is returned.
// Verifying an already paid booking is a no-op.
func (s *PaymentService) VerifyPayment(ctx context.Context, in VerifyInput) (*model.Booking, error) {
	b, err := s.load(ctx, in.BookingID)
	if err != nil {
		return nil, err
	}
	if b.UserID != in.UserID {
		return nil, ErrForbidden
	}
	if b.PaymentStatus == model.PaymentStatusCompleted {
		return b, nil
	}
	if b.Status != model.BookingStatusPending {
		return nil, ErrBookingNotPayable
	}
	if in.OrderID == "" || in.PaymentID == "" || in.Signature == "" {
		return nil, ErrInvalidInput
	}

	log := s.Log.WithFields(logrus.Fields{"booking_id": b.ID, "order_id": in.OrderID, "payment_id": in.PaymentID})
	if b.PaymentOrderID == nil || *b.PaymentOrderID != in.OrderID {
		return nil, s.rejectProof(ctx, b, "order mismatch", log)
	}
	if !s.Gateway.VerifyPaymentSignature(in.OrderID, in.PaymentID, in.Signature) {
		return nil, s.rejectProof(ctx, b, "signature mismatch", log)
	}

	p, err := s.Gateway.FetchPayment(ctx, in.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("fetch payment: %w", err)
	}
	if p.OrderID != in.OrderID {
		return nil, s.rejectProof(ctx, b, "payment belongs to another order", log)
	}
	if !gateway.Successful(p.Status) {
		return nil, s.rejectProof(ctx, b, p.Status, log)
	}

	ok, err := s.confirmBooking(ctx, b, p)
	if err != nil {
		return nil, err
	}
	if ok {
		log.Info("payment verified")
		return b, nil
	}
	// lost the race: either a webhook confirmed it or it is no longer live
	cur, err := s.load(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	if cur.PaymentStatus == model.PaymentStatusCompleted {
		return cur, nil
	}
	log.WithField("status", string(cur.Status)).Error("payment captured for inactive booking, needs manual reconciliation")
	return nil, ErrBookingNotPayable
}

func (s *PaymentService) rejectProof(ctx context.Context, b *model.Booking, reason string, log logrus.FieldLogger) error {
	log.WithField("reason", reason).Warn("payment verification failed")
	if _, err := s.failBooking(ctx, b, reason); err != nil {
		// nothing changed; the caller retries and the proof is checked again
		bookingsTotal.WithLabelValues("verify", outcome(err)).Inc()
		log.WithError(err).Warn("could not fail booking after rejected payment")
		return fmt.Errorf("fail booking %d: %w", b.ID, err)
	}
	bookingsTotal.WithLabelValues("verify", "rejected").Inc()
	return fmt.Errorf("%w: %s", ErrPaymentVerificationFailed, reason)
}

// HandleWebhook reconciles a signed gateway notification.  The signature
// is checked over the exact bytes received; a mismatch returns
// ErrInvalidSignature and changes nothing.  Every other outcome,
// including unknown orders and ignored event types, returns nil so the
// gateway stops retrying.  Deliveries may repeat or arrive out of order:
// a capture confirms at most once and a failure never undoes a
// confirmation.
func (s *PaymentService) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if !s.Gateway.VerifyWebhookSignature(body, signature) {
		webhooksTotal.WithLabelValues("unknown", "bad_signature").Inc()
		s.Log.Warn("webhook rejected: invalid signature")
		return ErrInvalidSignature
	}
	ev, err := gateway.DecodeWebhook(body)
	if err != nil {
		webhooksTotal.WithLabelValues("unknown", "malformed").Inc()
		s.Log.WithError(err).Warn("webhook ignored: malformed payload")
		return nil
	}
	log := s.Log.WithFields(logrus.Fields{"event": ev.Event, "order_id": ev.OrderID()})

	switch ev.Event {
	case gateway.EventPaymentCaptured, gateway.EventOrderPaid:
		return s.webhookCaptured(ctx, ev, log)
	case gateway.EventPaymentFailed:
		return s.webhookFailed(ctx, ev, log)
	case gateway.EventRefundProcessed:
		if r := ev.Payload.Refund; r != nil {
			log = log.WithFields(logrus.Fields{"refund_id": r.Entity.ID, "payment_id": r.Entity.PaymentID})
		}
		log.Info("refund processed by gateway")
		webhooksTotal.WithLabelValues(ev.Event, "logged").Inc()
		return nil
	default:
		log.Debug("webhook event ignored")
		webhooksTotal.WithLabelValues("other", "ignored").Inc()
		return nil
	}
}

// webhookBooking resolves the booking an event refers to.  A nil booking
// with a nil error means there is nothing to do.
func (s *PaymentService) webhookBooking(ctx context.Context, ev *gateway.WebhookEvent, log logrus.FieldLogger) (*model.Booking, error) {
	orderID := ev.OrderID()
	if orderID == "" {
		log.Warn("webhook without order id")
		webhooksTotal.WithLabelValues(ev.Event, "no_order").Inc()
		return nil, nil
	}
	b, err := s.Bookings.GetByOrderID(ctx, orderID)
	if errors.Is(err, repository.ErrBookingNotFound) {
		log.Info("webhook for unknown order")
		webhooksTotal.WithLabelValues(ev.Event, "unknown_order").Inc()
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup order %s: %w", orderID, err)
	}
	return b, nil
}

func (s *PaymentService) webhookCaptured(ctx context.Context, ev *gateway.WebhookEvent, log logrus.FieldLogger) error {
	b, err := s.webhookBooking(ctx, ev, log)
	if err != nil || b == nil {
		return err
	}
	log = log.WithField("booking_id", b.ID)
	if paid(b.PaymentStatus) {
		webhooksTotal.WithLabelValues(ev.Event, "duplicate").Inc()
		log.Debug("booking already paid")
		return nil
	}
	p, err := s.capturedPayment(ctx, ev)
	if err != nil {
		webhooksTotal.WithLabelValues(ev.Event, "unresolved").Inc()
		log.WithError(err).Warn("captured payment not resolved, leaving booking for redelivery")
		return err
	}
	ok, err := s.confirmBooking(ctx, b, p)
	if err != nil {
		return err
	}
	if ok {
		webhooksTotal.WithLabelValues(ev.Event, "confirmed").Inc()
		log.Info("booking confirmed by webhook")
		return nil
	}
	cur, err := s.load(ctx, b.ID)
	if err != nil {
		return err
	}
	if paid(cur.PaymentStatus) {
		webhooksTotal.WithLabelValues(ev.Event, "duplicate").Inc()
		return nil
	}
	webhooksTotal.WithLabelValues(ev.Event, "inactive_booking").Inc()
	log.WithField("status", string(cur.Status)).Error("payment captured for inactive booking, needs manual reconciliation")
	return nil
}

// capturedPayment returns the payment a capture event settles.  Events
// such as order.paid carry only the order, so the paid payment is looked
// up at the gateway; without its id the booking could never be refunded.
func (s *PaymentService) capturedPayment(ctx context.Context, ev *gateway.WebhookEvent) (*gateway.Payment, error) {
	if p := ev.Payment(); p != nil && p.ID != "" {
		return p, nil
	}
	payments, err := s.Gateway.FetchOrderPayments(ctx, ev.OrderID())
	if err != nil {
		return nil, fmt.Errorf("fetch order payments: %w", err)
	}
	p := gateway.SuccessfulPayment(payments)
	if p == nil {
		return nil, fmt.Errorf("order %s has no successful payment yet", ev.OrderID())
	}
	return p, nil
}

func (s *PaymentService) webhookFailed(ctx context.Context, ev *gateway.WebhookEvent, log logrus.FieldLogger) error {
	b, err := s.webhookBooking(ctx, ev, log)
	if err != nil || b == nil {
		return err
	}
	log = log.WithField("booking_id", b.ID)
	if b.Status != model.BookingStatusPending ||
		(b.PaymentStatus != model.PaymentStatusPending && b.PaymentStatus != model.PaymentStatusProcessing) {
		webhooksTotal.WithLabelValues(ev.Event, "stale").Inc()
		log.WithField("status", string(b.Status)).Info("payment failure ignored for settled booking")
		return nil
	}
	reason := "failed"
	if p := ev.Payment(); p != nil && p.ErrorDescription != "" {
		reason = p.ErrorDescription
	}
	moved, err := s.failBooking(ctx, b, reason)
	if err != nil {
		return err
	}
	if moved {
		webhooksTotal.WithLabelValues(ev.Event, "failed").Inc()
		log.Info("booking failed by webhook")
	} else {
		webhooksTotal.WithLabelValues(ev.Event, "stale").Inc()
	}
	return nil
}

// RefundInput is an admin refund request.  A nil Amount refunds whatever
// is still refundable.
type RefundInput struct {
	BookingID uint64
	Amount    *decimal.Decimal
	Reason    string
}

// RefundResult describes an applied refund.
type RefundResult struct {
	RefundID      string              `json:"refund_id"`
	Amount        string              `json:"amount"`
	PaymentStatus model.PaymentStatus `json:"payment_status"`
	Booking       *model.Booking      `json:"booking"`
}

// Refund returns money for a paid booking.  Cumulative refunds never
// exceed the booking's total: requests beyond what remains fail with
// ErrRefundExceedsTotal.  Refunding the remainder moves the booking to
// REFUNDED and returns its seats.
func (s *PaymentService) Refund(ctx context.Context, in RefundInput) (*RefundResult, error) {
	var out *RefundResult
	var full bool
	err := s.Locks.WithLock(ctx, lock.BookingKey(in.BookingID), s.LockTTL, func(ctx context.Context) error {
		b, err := s.load(ctx, in.BookingID)
		if err != nil {
			return err
		}
		if !paid(b.PaymentStatus) {
			return ErrNotRefundable
		}
		amount := b.Refundable()
		if in.Amount != nil {
			amount = *in.Amount
		}
		reason := in.Reason
		if reason == "" {
			reason = "refunded by admin"
		}
		res, err := s.refundLocked(ctx, b, amount, reason)
		if err != nil {
			return err
		}
		full = res.Full
		cur, err := s.load(ctx, b.ID)
		if err != nil {
			return err
		}
		out = &RefundResult{
			RefundID:      res.Refund.GatewayRefundID,
			Amount:        res.Refund.Amount.StringFixed(2),
			PaymentStatus: cur.PaymentStatus,
			Booking:       cur,
		}
		return nil
	})
	if err != nil {
		bookingsTotal.WithLabelValues("refund", outcome(err)).Inc()
		return nil, err
	}
	s.Log.WithFields(logrus.Fields{
		"booking_id": in.BookingID,
		"refund_id":  out.RefundID,
		"amount":     out.Amount,
		"full":       full,
	}).Info("booking refunded")
	if full {
		s.afterInventoryChange(ctx, model.BookingRefunded, out.Booking)
	}
	return out, nil
}
