package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// AuditConsumer binds a durable queue to every booking routing key and
// writes one structured log entry per event.  Run keeps reconnecting with
// exponential backoff until its context ends.
type AuditConsumer struct {
	url      string
	exchange string
	queue    string
	log      logrus.FieldLogger
}

// NewAuditConsumer returns an AuditConsumer reading queue, bound to
// exchange.
func NewAuditConsumer(url, exchange, queue string, log logrus.FieldLogger) *AuditConsumer {
	return &AuditConsumer{
		url:      url,
		exchange: exchange,
		queue:    queue,
		log:      log.WithField("component", "booking-audit"),
	}
}

// Run consumes until ctx is cancelled.  Broker failures are logged and
// retried; the returned error is always ctx.Err().
func (c *AuditConsumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.WithError(err).WithField("retry_in", backoff.String()).Warn("failed to dial broker")
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.WithError(err).Warn("consume loop ended, reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *AuditConsumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.log.WithError(err).Warn("set QoS failed")
	}
	if err := declareExchange(ch, c.exchange); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	if err := ch.QueueBind(c.queue, BindingAll, c.exchange, false, nil); err != nil {
		return fmt.Errorf("queue bind: %w", err)
	}

	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	c.log.WithField("queue", c.queue).Info("booking audit consumer started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handle(d.Body); err != nil {
				c.log.WithError(err).Warn("handle message failed")
				_ = d.Nack(false, false) // no requeue, avoids a poison loop
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// handle writes one audit entry for a delivered event.
func (c *AuditConsumer) handle(body []byte) error {
	ev, err := Decode(body)
	if err != nil {
		return err
	}
	entry := c.log.WithFields(logrus.Fields{
		"type":              string(ev.Type),
		"booking_id":        ev.BookingID,
		"booking_reference": ev.Reference,
		"event_id":          ev.EventID,
		"user_id":           ev.UserID,
		"seats":             ev.Seats,
		"amount":            ev.Amount,
		"currency":          ev.Currency,
		"status":            string(ev.Status),
		"payment_status":    string(ev.PaymentStatus),
		"occurred_at":       ev.OccurredAt.Format(time.RFC3339),
	})
	if ev.Reason != "" {
		entry = entry.WithField("reason", ev.Reason)
	}
	entry.Info("booking event")
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
