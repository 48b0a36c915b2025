package gateway

import (
	"encoding/json"
	"fmt"
)

// Webhook event names the service reacts to.
const (
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
	EventOrderPaid       = "order.paid"
	EventRefundProcessed = "refund.processed"
)

// WebhookEvent is the envelope of a gateway push notification.
type WebhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity Payment `json:"entity"`
		} `json:"payment,omitempty"`
		Order *struct {
			Entity Order `json:"entity"`
		} `json:"order,omitempty"`
		Refund *struct {
			Entity Refund `json:"entity"`
		} `json:"refund,omitempty"`
	} `json:"payload"`
}

// DecodeWebhook parses a webhook body.  Signature checks happen before
// this on the raw bytes.
func DecodeWebhook(body []byte) (*WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}
	if ev.Event == "" {
		return nil, fmt.Errorf("decode webhook: missing event name")
	}
	return &ev, nil
}

// OrderID returns the order the event refers to, taken from the order
// entity when present and otherwise from the payment.
func (e *WebhookEvent) OrderID() string {
	if e.Payload.Order != nil && e.Payload.Order.Entity.ID != "" {
		return e.Payload.Order.Entity.ID
	}
	if e.Payload.Payment != nil {
		return e.Payload.Payment.Entity.OrderID
	}
	return ""
}

// Payment returns the payment entity, or nil.
func (e *WebhookEvent) Payment() *Payment {
	if e.Payload.Payment == nil {
		return nil
	}
	return &e.Payload.Payment.Entity
}
