// Package queue carries booking lifecycle events over RabbitMQ: a
// publisher that emits every event to a topic exchange and a consumer
// that writes them to the audit log.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/event-seat-booking/internal/model"
)

// BindingAll matches every booking lifecycle routing key.
const BindingAll = "booking.#"

// RoutingKey is the topic key an event is published under, e.g.
// "booking.confirmed".
func RoutingKey(t model.BookingEventType) string {
	return string(t)
}

// Encode builds the persistent AMQP message for ev.
func Encode(ev model.BookingEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal %s: %w", ev.Type, err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         string(ev.Type),
		MessageId:    fmt.Sprintf("%s:%d:%d", ev.Type, ev.BookingID, ev.OccurredAt.UnixNano()),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}, nil
}

// Decode parses a delivered message body.
func Decode(body []byte) (model.BookingEvent, error) {
	var ev model.BookingEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return ev, fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Type == "" || ev.BookingID == 0 {
		return ev, fmt.Errorf("unmarshal: missing type or booking id")
	}
	return ev, nil
}
