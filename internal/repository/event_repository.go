package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/event-seat-booking/internal/model"
)

// EventRepo reads events and mutates their seat counters.  The catalog
// owns the rest of the events table; this repository only ever writes
// available_seats and status.  Seat mutations are expected to run inside
// a transaction started by TxManager.
type EventRepo struct {
	db *sql.DB
}

// NewEventRepo returns a new EventRepo bound to the given database.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

const eventColumns = `id, owner_id, title, event_date, price_per_seat, currency,
                      total_seats, available_seats, status, created_at, updated_at`

func scanEvent(row interface{ Scan(...any) error }) (*model.Event, error) {
	var e model.Event
	var status string
	err := row.Scan(
		&e.ID, &e.OwnerID, &e.Title, &e.EventDate, &e.PricePerSeat, &e.Currency,
		&e.TotalSeats, &e.AvailableSeats, &status, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	e.Status = model.EventStatus(status)
	return &e, nil
}

// GetByID returns the event with the given ID or ErrEventNotFound.
func (r *EventRepo) GetByID(ctx context.Context, id uint64) (*model.Event, error) {
	q := `SELECT ` + eventColumns + ` FROM events WHERE id = ?`
	return scanEvent(conn(ctx, r.db).QueryRowContext(ctx, q, id))
}

// GetForUpdate loads the event and, inside a transaction, locks its row
// until the transaction ends.
func (r *EventRepo) GetForUpdate(ctx context.Context, id uint64) (*model.Event, error) {
	q := forUpdate(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`)
	return scanEvent(conn(ctx, r.db).QueryRowContext(ctx, q, id))
}

// ReserveSeats removes seats from the event's inventory.  The update is
// guarded on available_seats so that the counter can never go negative
// even if the advisory lock was lost; in that case ErrNotEnoughSeats is
// returned and the caller's transaction must roll back.  Reaching zero
// flips a published event to SOLD_OUT.
func (r *EventRepo) ReserveSeats(ctx context.Context, id uint64, seats int) error {
	const q = `UPDATE events
               SET available_seats = available_seats - ?,
                   status = CASE WHEN available_seats = 0 AND status = 'PUBLISHED' THEN 'SOLD_OUT' ELSE status END
               WHERE id = ? AND available_seats >= ?`
	res, err := conn(ctx, r.db).ExecContext(ctx, q, seats, id, seats)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotEnoughSeats
	}
	return nil
}

// ReleaseSeats returns seats to the event's inventory, clamped to the
// event's capacity.  A SOLD_OUT event becomes PUBLISHED again.
func (r *EventRepo) ReleaseSeats(ctx context.Context, id uint64, seats int) error {
	const q = `UPDATE events
               SET available_seats = LEAST(total_seats, available_seats + ?),
                   status = CASE WHEN status = 'SOLD_OUT' THEN 'PUBLISHED' ELSE status END
               WHERE id = ?`
	res, err := conn(ctx, r.db).ExecContext(ctx, q, seats, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// MySQL reports zero affected rows when nothing changed, so
		// distinguish a missing event from an already-full one.
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Availability returns the public seat view of an event.
func (r *EventRepo) Availability(ctx context.Context, id uint64) (*model.EventAvailability, error) {
	e, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &model.EventAvailability{
		EventID:        e.ID,
		Title:          e.Title,
		EventDate:      e.EventDate,
		PricePerSeat:   e.PricePerSeat.StringFixed(2),
		Currency:       e.Currency,
		TotalSeats:     e.TotalSeats,
		AvailableSeats: e.AvailableSeats,
		Status:         e.Status,
	}, nil
}
