package gateway

import (
	"encoding/json"
	"fmt"
)

// Webhook event names the payment flow reacts to.
const (
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
)

// WebhookEvent is the subset of a Razorpay webhook body the flow reads.
type WebhookEvent struct {
	ID      string `json:"id,omitempty"`
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity PaymentEntity `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

type PaymentEntity struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

// Payment returns the payment entity carried by the event.
func (e *WebhookEvent) Payment() PaymentEntity {
	return e.Payload.Payment.Entity
}

// ParseWebhook decodes an authenticated webhook body.
func ParseWebhook(body []byte) (*WebhookEvent, error) {
	var e WebhookEvent
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if e.Event == "" {
		return nil, fmt.Errorf("%w: missing event", ErrInvalidPayload)
	}
	return &e, nil
}
