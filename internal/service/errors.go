package service

import "errors"

// Domain errors.  They describe expected business outcomes and are
// mapped to 4xx responses by the HTTP layer; none of them is retried.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrEventNotFound      = errors.New("event not found")
	ErrEventNotBookable   = errors.New("event is not open for booking")
	ErrInsufficientSeats  = errors.New("not enough seats available")
	ErrBookingNotFound    = errors.New("booking not found")
	ErrForbidden          = errors.New("forbidden")
	ErrAlreadyTerminal    = errors.New("booking is already cancelled, expired or refunded")
	ErrBookingNotPayable  = errors.New("booking cannot be paid")
	ErrAlreadyPaid        = errors.New("booking is already paid")
	ErrNotRefundable      = errors.New("booking has no completed payment to refund")
	ErrRefundExceedsTotal = errors.New("refund exceeds the amount paid")
)

// Integrity errors.  The input is treated as hostile: it is rejected and
// logged and nothing is mutated beyond failing the booking it names.
var (
	ErrPaymentVerificationFailed = errors.New("payment verification failed")
	ErrInvalidSignature          = errors.New("invalid signature")
)
