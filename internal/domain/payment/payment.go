package payment

import (
	"time"

	"github.com/example/ec-fulfillment/internal/domain/errs"
	"github.com/example/ec-fulfillment/internal/gateway"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

var (
	ErrPaymentNotFound    = errs.New(errs.NotFound, "payment not found")
	ErrAlreadyPaid        = errs.New(errs.Conflict, "order already paid")
	ErrAlreadyCompleted   = errs.New(errs.Conflict, "payment already completed")
	ErrOrderNotPayable    = errs.New(errs.Conflict, "order cannot be paid in its current status")
	ErrPaymentInProgress  = errs.New(errs.Conflict, "another payment attempt is being opened for this order")
	ErrVerificationFailed = errs.New(errs.SignatureInvalid, "payment verification failed")
	ErrGatewayTimeout     = errs.New(errs.GatewayUnavailable, "payment gateway timed out")

	ErrInvalidSignature = gateway.ErrInvalidSignature
)

// Payment is one gateway transaction attempt for an order.
type Payment struct {
	ID               string          `json:"id"`
	OrderID          string          `json:"order_id"`
	UserID           string          `json:"user_id"`
	Amount           decimal.Decimal `json:"amount"`
	AmountMinor      int64           `json:"amount_minor"`
	Currency         string          `json:"currency"`
	Status           Status          `json:"status"`
	Method           string          `json:"method"`
	Gateway          string          `json:"gateway"`
	GatewayOrderID   string          `json:"gateway_order_id,omitempty"`
	GatewayPaymentID string          `json:"gateway_payment_id,omitempty"`
	GatewaySignature string          `json:"gateway_signature,omitempty"`
	FailureReason    string          `json:"failure_reason,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

// Checkout is what a client needs to open the processor's payment form.
type Checkout struct {
	Payment        *Payment `json:"payment"`
	GatewayOrderID string   `json:"gateway_order_id"`
	AmountMinor    int64    `json:"amount"`
	Currency       string   `json:"currency"`
	KeyID          string   `json:"key_id"`
}

// WebhookResult reports what a webhook delivery changed.
type WebhookResult struct {
	Event   string   `json:"event"`
	Payment *Payment `json:"payment,omitempty"`
	// NewlyCompleted is true only for the delivery that moved the payment to
	// completed.
	NewlyCompleted bool `json:"newly_completed"`
	Duplicate      bool `json:"duplicate"`
	Ignored        bool `json:"ignored"`
}
