package notification

import (
	"context"
	"encoding/json"
)

// Envelope wraps a notification on the message bus.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// MessagePublisher is satisfied by kafka.Producer.
type MessagePublisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// Publisher hands notifications to the bus for the notifier service to
// deliver. Messages are keyed by order number.
type Publisher struct {
	bus MessagePublisher
}

func NewPublisher(bus MessagePublisher) *Publisher {
	return &Publisher{bus: bus}
}

func (p *Publisher) SendOrderConfirmation(ctx context.Context, msg OrderConfirmation) error {
	return p.publish(ctx, TypeOrderConfirmation, msg.OrderNumber, msg)
}

func (p *Publisher) SendOrderShipped(ctx context.Context, msg OrderShipped) error {
	return p.publish(ctx, TypeOrderShipped, msg.OrderNumber, msg)
}

func (p *Publisher) publish(ctx context.Context, typ, key string, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.bus.Publish(ctx, key, Envelope{Type: typ, Payload: payload})
}
