package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/event-seat-booking/internal/model"
)

// BookingRepo provides persistence for bookings and their refund trail.
// State changes are conditional updates: the caller states which
// statuses the row must currently be in, and the returned boolean tells
// whether the row actually moved.  This makes every transition safe to
// attempt more than once.  All timestamp fields are stored in UTC.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a new BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

// Cond restricts a transition to rows currently in one of the listed
// statuses.  Empty slices do not restrict.
type Cond struct {
	Statuses        []model.BookingStatus
	PaymentStatuses []model.PaymentStatus
}

// BookingUpdate lists the columns a transition writes.  Nil fields are
// left untouched.
type BookingUpdate struct {
	Status             *model.BookingStatus
	PaymentStatus      *model.PaymentStatus
	PaymentOrderID     *string
	PaymentIntentID    *string
	PaymentMethod      *string
	CancellationReason *string
	CancelledAt        *time.Time
	PaidAt             *time.Time
	RefundedAt         *time.Time
}

const bookingColumns = `id, booking_reference, event_id, user_id, seats_booked, total_price, currency,
                        status, payment_status, payment_order_id, payment_intent_id, payment_method,
                        refund_amount, cancellation_reason, client_ip, user_agent,
                        created_at, updated_at, cancelled_at, paid_at, refunded_at`

func scanBooking(row interface{ Scan(...any) error }) (*model.Booking, error) {
	var b model.Booking
	var status, payStatus string
	var orderID, intentID, method, reason sql.NullString
	var cancelledAt, paidAt, refundedAt sql.NullTime
	err := row.Scan(
		&b.ID, &b.Reference, &b.EventID, &b.UserID, &b.SeatsBooked, &b.TotalPrice, &b.Currency,
		&status, &payStatus, &orderID, &intentID, &method,
		&b.RefundAmount, &reason, &b.ClientIP, &b.UserAgent,
		&b.CreatedAt, &b.UpdatedAt, &cancelledAt, &paidAt, &refundedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	b.Status = model.BookingStatus(status)
	b.PaymentStatus = model.PaymentStatus(payStatus)
	b.PaymentOrderID = nullString(orderID)
	b.PaymentIntentID = nullString(intentID)
	b.PaymentMethod = nullString(method)
	b.CancellationReason = nullString(reason)
	b.CancelledAt = nullTime(cancelledAt)
	b.PaidAt = nullTime(paidAt)
	b.RefundedAt = nullTime(refundedAt)
	return &b, nil
}

// Create inserts a new booking and populates its generated ID.  A
// duplicated booking reference yields ErrConflict.
func (r *BookingRepo) Create(ctx context.Context, b *model.Booking) error {
	const q = `INSERT INTO bookings
               (booking_reference, event_id, user_id, seats_booked, total_price, currency,
                status, payment_status, refund_amount, client_ip, user_agent, created_at, updated_at)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := conn(ctx, r.db).ExecContext(ctx, q,
		b.Reference, b.EventID, b.UserID, b.SeatsBooked, b.TotalPrice, b.Currency,
		string(b.Status), string(b.PaymentStatus), b.RefundAmount, b.ClientIP, b.UserAgent,
		b.CreatedAt.UTC(), b.UpdatedAt.UTC(),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrConflict
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = uint64(id)
	return nil
}

// GetByID returns a booking or ErrBookingNotFound.
func (r *BookingRepo) GetByID(ctx context.Context, id uint64) (*model.Booking, error) {
	q := forUpdate(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`)
	return scanBooking(conn(ctx, r.db).QueryRowContext(ctx, q, id))
}

// GetByOrderID resolves a booking from the gateway order id recorded
// when the payment order was created.
func (r *BookingRepo) GetByOrderID(ctx context.Context, orderID string) (*model.Booking, error) {
	q := forUpdate(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE payment_order_id = ?`)
	return scanBooking(conn(ctx, r.db).QueryRowContext(ctx, q, orderID))
}

// ListByUser returns the user's bookings, newest first.
func (r *BookingRepo) ListByUser(ctx context.Context, userID uint64) ([]model.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings WHERE user_id = ? ORDER BY created_at DESC`
	return r.list(ctx, q, userID)
}

// ListStalePending returns up to limit bookings that are still PENDING
// with an untouched payment and were created before the cutoff.
func (r *BookingRepo) ListStalePending(ctx context.Context, before time.Time, limit int) ([]model.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings
          WHERE status = 'PENDING' AND payment_status = 'PENDING' AND created_at < ?
          ORDER BY created_at ASC LIMIT ?`
	return r.list(ctx, q, before.UTC(), limit)
}

func (r *BookingRepo) list(ctx context.Context, q string, args ...any) ([]model.Booking, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Transition applies upd to the booking when it satisfies cond.  It
// reports whether a row changed; false means the booking had already
// moved on (or does not exist), which callers treat as "someone else got
// there first".
func (r *BookingRepo) Transition(ctx context.Context, id uint64, cond Cond, upd BookingUpdate) (bool, error) {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if upd.Status != nil {
		add("status", string(*upd.Status))
	}
	if upd.PaymentStatus != nil {
		add("payment_status", string(*upd.PaymentStatus))
	}
	if upd.PaymentOrderID != nil {
		add("payment_order_id", *upd.PaymentOrderID)
	}
	if upd.PaymentIntentID != nil {
		add("payment_intent_id", *upd.PaymentIntentID)
	}
	if upd.PaymentMethod != nil {
		add("payment_method", *upd.PaymentMethod)
	}
	if upd.CancellationReason != nil {
		add("cancellation_reason", *upd.CancellationReason)
	}
	if upd.CancelledAt != nil {
		add("cancelled_at", upd.CancelledAt.UTC())
	}
	if upd.PaidAt != nil {
		add("paid_at", upd.PaidAt.UTC())
	}
	if upd.RefundedAt != nil {
		add("refunded_at", upd.RefundedAt.UTC())
	}
	q := `UPDATE bookings SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	args = append(args, id)
	where, wargs := cond.sql()
	q += where
	args = append(args, wargs...)

	res, err := conn(ctx, r.db).ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AddRefund records a refund against the booking and raises its
// cumulative refund_amount.  The update only applies while the new
// total stays within total_price, so concurrent refunds can never
// exceed what was paid.  The refund row is written in the same
// transaction when ctx carries one, and the sum of refund rows is then
// checked against refund_amount; a disagreement returns
// ErrLedgerMismatch so the caller's transaction rolls back.
func (r *BookingRepo) AddRefund(ctx context.Context, ref *model.Refund, cond Cond, upd BookingUpdate) (bool, error) {
	q := conn(ctx, r.db)
	sets := []string{"refund_amount = refund_amount + ?", "updated_at = ?"}
	args := []any{ref.Amount, time.Now().UTC()}
	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*upd.Status))
	}
	if upd.PaymentStatus != nil {
		sets = append(sets, "payment_status = ?")
		args = append(args, string(*upd.PaymentStatus))
	}
	if upd.RefundedAt != nil {
		sets = append(sets, "refunded_at = ?")
		args = append(args, upd.RefundedAt.UTC())
	}
	if upd.CancellationReason != nil {
		sets = append(sets, "cancellation_reason = ?", "cancelled_at = ?")
		args = append(args, *upd.CancellationReason, time.Now().UTC())
	}
	stmt := `UPDATE bookings SET ` + strings.Join(sets, ", ") +
		` WHERE id = ? AND refund_amount + ? <= total_price`
	args = append(args, ref.BookingID, ref.Amount)
	where, wargs := cond.sql()
	stmt += where
	args = append(args, wargs...)

	res, err := q.ExecContext(ctx, stmt, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	const ins = `INSERT INTO booking_refunds (booking_id, gateway_refund_id, amount, created_at) VALUES (?, ?, ?, ?)`
	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = time.Now().UTC()
	}
	out, err := q.ExecContext(ctx, ins, ref.BookingID, ref.GatewayRefundID, ref.Amount, ref.CreatedAt.UTC())
	if err != nil {
		return false, err
	}
	if id, err := out.LastInsertId(); err == nil {
		ref.ID = uint64(id)
	}

	// the refund trail and the running total must agree
	ledger, err := r.RefundTotal(ctx, ref.BookingID)
	if err != nil {
		return false, err
	}
	var recorded decimal.Decimal
	if err := q.QueryRowContext(ctx, `SELECT refund_amount FROM bookings WHERE id = ?`, ref.BookingID).Scan(&recorded); err != nil {
		return false, err
	}
	if !ledger.Equal(recorded) {
		return false, fmt.Errorf("%w: booking %d ledger %s, recorded %s",
			ErrLedgerMismatch, ref.BookingID, ledger.StringFixed(2), recorded.StringFixed(2))
	}
	return true, nil
}

// RefundTotal sums the refund trail of a booking.
func (r *BookingRepo) RefundTotal(ctx context.Context, bookingID uint64) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT SUM(amount) FROM booking_refunds WHERE booking_id = ?`, bookingID,
	).Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

func (c Cond) sql() (string, []any) {
	var b strings.Builder
	var args []any
	if len(c.Statuses) > 0 {
		b.WriteString(" AND status IN (" + placeholders(len(c.Statuses)) + ")")
		for _, s := range c.Statuses {
			args = append(args, string(s))
		}
	}
	if len(c.PaymentStatuses) > 0 {
		b.WriteString(" AND payment_status IN (" + placeholders(len(c.PaymentStatuses)) + ")")
		for _, s := range c.PaymentStatuses {
			args = append(args, string(s))
		}
	}
	return b.String(), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
