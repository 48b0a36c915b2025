package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	bookingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookings_total",
			Help: "Booking operations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	seatsReserved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "booking_seats_reserved_total",
			Help: "Seats taken from inventory by new bookings",
		},
	)

	seatsReleased = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_seats_released_total",
			Help: "Seats returned to inventory by reason",
		},
		[]string{"reason"},
	)

	webhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhooks_total",
			Help: "Gateway webhooks by event and outcome",
		},
		[]string{"event", "outcome"},
	)

	reaperExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reaper_expired_total",
			Help: "Bookings expired by the reaper",
		},
	)

	reaperFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reaper_failures_total",
			Help: "Bookings the reaper failed to expire",
		},
	)

	reaperDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reaper_sweep_duration_seconds",
			Help:    "Duration of one expiry sweep",
			Buckets: prometheus.DefBuckets,
		},
	)
)
