// Package repository is the MySQL store for events, bookings and refunds.
// Lookups that match no row return the sentinels below rather than
// sql.ErrNoRows.
package repository

import "errors"

var (
	ErrEventNotFound   = errors.New("event not found")
	ErrBookingNotFound = errors.New("booking not found")

	// ErrConflict means an insert hit a unique key, such as a reused
	// booking reference.
	ErrConflict = errors.New("conflict")

	// ErrNotEnoughSeats is returned by the guarded seat decrement.
	ErrNotEnoughSeats = errors.New("not enough available seats")

	// ErrLedgerMismatch means booking_refunds no longer sums to the
	// booking's refund_amount.
	ErrLedgerMismatch = errors.New("refund ledger mismatch")
)
