// Package worker holds background jobs started by cmd/server.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/event-seat-booking/internal/service"
)

// Sweeper runs one expiry sweep.  *service.BookingService satisfies it.
type Sweeper interface {
	ExpireStale(ctx context.Context) (service.ReapResult, error)
}

// Reaper periodically expires bookings whose payment window has passed.
type Reaper struct {
	sweeper  Sweeper
	interval time.Duration
	log      logrus.FieldLogger

	// one sweep at a time per process; other replicas are ordered by the
	// per-booking conditional update
	mu sync.Mutex
}

// NewReaper returns a Reaper that sweeps every interval.
func NewReaper(s Sweeper, interval time.Duration, log logrus.FieldLogger) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{sweeper: s, interval: interval, log: log.WithField("worker", "reaper")}
}

// Run sweeps on every tick until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.WithField("interval", r.interval.String()).Info("reaper started")
	for {
		select {
		case <-ctx.Done():
			r.log.Info("reaper stopped")
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.log.WithError(err).Error("reaper sweep failed")
			}
		}
	}
}

// RunOnce performs a single sweep and returns its counts.
func (r *Reaper) RunOnce(ctx context.Context) (service.ReapResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweeper.ExpireStale(ctx)
}
