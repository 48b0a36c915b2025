// Package realtime pushes booking events to connected clients over
// PubNub.  The booker listens on user-<id>, the event organiser on
// owner-<id>.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	pubnub "github.com/pubnub/go/v7"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/event-seat-booking/internal/model"
)

// Config holds the PubNub keys.
type Config struct {
	PublishKey   string
	SubscribeKey string
	UserID       string
}

// Publisher sends one message to one channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) error
}

// PubNubPublisher publishes through the PubNub SDK.
type PubNubPublisher struct {
	pn *pubnub.PubNub
}

// NewPubNubPublisher builds a PubNub client for server-side publishing.
func NewPubNubPublisher(cfg Config) *PubNubPublisher {
	userID := cfg.UserID
	if userID == "" {
		userID = "event-seat-booking"
	}
	pnConfig := pubnub.NewConfigWithUserId(pubnub.UserId(userID))
	pnConfig.PublishKey = cfg.PublishKey
	pnConfig.SubscribeKey = cfg.SubscribeKey
	return &PubNubPublisher{pn: pubnub.NewPubNub(pnConfig)}
}

// Publish implements Publisher.
func (p *PubNubPublisher) Publish(ctx context.Context, channel string, message any) error {
	_, status, err := p.pn.PublishWithContext(ctx).
		Channel(channel).
		Message(message).
		Execute()
	if err != nil {
		return fmt.Errorf("pubnub publish %s: %w", channel, err)
	}
	if status.StatusCode >= 300 {
		return fmt.Errorf("pubnub publish %s: status %d", channel, status.StatusCode)
	}
	return nil
}

// Notifier turns booking events into client pushes.
type Notifier struct {
	pub Publisher
	log logrus.FieldLogger
}

// NewNotifier returns a Notifier publishing through pub.
func NewNotifier(pub Publisher, log logrus.FieldLogger) *Notifier {
	return &Notifier{pub: pub, log: log.WithField("component", "realtime")}
}

// UserChannel is the channel a booker subscribes to.
func UserChannel(userID uint64) string { return "user-" + strconv.FormatUint(userID, 10) }

// OwnerChannel is the channel an event organiser subscribes to.
func OwnerChannel(ownerID uint64) string { return "owner-" + strconv.FormatUint(ownerID, 10) }

// Notify pushes ev to the booker and, when known, the organiser.
func (n *Notifier) Notify(ctx context.Context, ev model.BookingEvent) error {
	msg := map[string]any{
		"type":              string(ev.Type),
		"booking_id":        ev.BookingID,
		"booking_reference": ev.Reference,
		"event_id":          ev.EventID,
		"seats":             ev.Seats,
		"status":            string(ev.Status),
		"payment_status":    string(ev.PaymentStatus),
		"occurred_at":       ev.OccurredAt,
	}
	if ev.EventTitle != "" {
		msg["event_title"] = ev.EventTitle
	}

	var errs []error
	if err := n.pub.Publish(ctx, UserChannel(ev.UserID), msg); err != nil {
		errs = append(errs, err)
	}
	if ev.OwnerID != 0 {
		if err := n.pub.Publish(ctx, OwnerChannel(ev.OwnerID), msg); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		n.log.WithError(err).WithField("booking_id", ev.BookingID).Debug("push failed")
		return err
	}
	return nil
}
