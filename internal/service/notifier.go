package service

import (
	"context"
	"errors"

	"github.com/iliyamo/event-seat-booking/internal/model"
)

// MultiNotifier fans an event out to several notifiers.  Every notifier
// is tried; their errors are joined.
type MultiNotifier []Notifier

// Notify implements Notifier.
func (m MultiNotifier) Notify(ctx context.Context, ev model.BookingEvent) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, model.BookingEvent) error { return nil }

type nopInvalidator struct{}

func (nopInvalidator) InvalidateEvent(context.Context, uint64) error { return nil }
