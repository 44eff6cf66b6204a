package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	EventPaymentCaptured   = "payment.captured"
	EventPaymentFailed     = "payment.failed"
	EventPaymentAuthorized = "payment.authorized"
	EventOrderPaid         = "order.paid"
)

// WebhookEvent is the gateway's webhook envelope:
// {"event": ..., "contains": [...], "payload": {"<type>": {"entity": {...}}}}.
type WebhookEvent struct {
	ID        string                   `json:"-"`
	Entity    string                   `json:"entity"`
	AccountID string                   `json:"account_id"`
	Event     string                   `json:"event"`
	Contains  []string                 `json:"contains"`
	Payload   map[string]WebhookEntity `json:"payload"`
	CreatedAt int64                    `json:"created_at"`
}

type WebhookEntity struct {
	Entity json.RawMessage `json:"entity"`
}

func ParseWebhookEvent(body []byte) (WebhookEvent, error) {
	var evt WebhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return WebhookEvent{}, fmt.Errorf("decode webhook: %w", err)
	}
	if evt.Event == "" {
		return WebhookEvent{}, fmt.Errorf("decode webhook: missing event name")
	}
	return evt, nil
}

func (e WebhookEvent) entity(kind string, dst any) error {
	wrapped, ok := e.Payload[kind]
	if !ok || len(wrapped.Entity) == 0 {
		return fmt.Errorf("%s event has no %s entity", e.Event, kind)
	}
	if err := json.Unmarshal(wrapped.Entity, dst); err != nil {
		return fmt.Errorf("decode %s entity: %w", kind, err)
	}
	return nil
}

func (e WebhookEvent) Payment() (GatewayPayment, error) {
	var p GatewayPayment
	if err := e.entity("payment", &p); err != nil {
		return GatewayPayment{}, err
	}
	if p.ID == "" {
		return GatewayPayment{}, fmt.Errorf("%s payment entity has no id", e.Event)
	}
	return p, nil
}

func (e WebhookEvent) Order() (GatewayOrder, error) {
	var o GatewayOrder
	if err := e.entity("order", &o); err != nil {
		return GatewayOrder{}, err
	}
	if o.ID == "" {
		return GatewayOrder{}, fmt.Errorf("%s order entity has no id", e.Event)
	}
	return o, nil
}

// EntityID returns the id of the first contained entity, used to build a
// dedupe key when the delivery carries no event id.
func (e WebhookEvent) EntityID() string {
	for _, kind := range e.Contains {
		wrapped, ok := e.Payload[kind]
		if !ok {
			continue
		}
		var ref struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(wrapped.Entity, &ref) == nil && ref.ID != "" {
			return ref.ID
		}
	}
	return ""
}

const (
	OrderEventCreated       = "order.created"
	OrderEventStatusChanged = "order.status_changed"
)

// OrderEvent is published for downstream consumers such as the
// notification service that sends confirmation email.
type OrderEvent struct {
	Type          string        `json:"event_type"`
	OrderID       string        `json:"order_id"`
	OrderNumber   string        `json:"order_number"`
	PaymentID     string        `json:"payment_id"`
	CustomerEmail string        `json:"customer_email,omitempty"`
	Status        OrderStatus   `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	Total         string        `json:"total,omitempty"`
	Trigger       string        `json:"trigger,omitempty"`
	OccurredAt    time.Time     `json:"occurred_at"`
}
