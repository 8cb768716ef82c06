// Package notification carries customer-facing order notifications from the
// order flow to whichever channel delivers them.
package notification

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Message types carried on the notification topic.
const (
	TypeOrderConfirmation = "order_confirmation"
	TypeOrderShipped      = "order_shipped"
)

type LineItem struct {
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Total    decimal.Decimal `json:"total"`
}

type OrderConfirmation struct {
	To              string          `json:"to"`
	OrderNumber     string          `json:"order_number"`
	CustomerName    string          `json:"customer_name"`
	Items           []LineItem      `json:"items"`
	Total           decimal.Decimal `json:"total"`
	ShippingAddress Address         `json:"shipping_address"`
}

type OrderShipped struct {
	To             string `json:"to"`
	OrderNumber    string `json:"order_number"`
	CustomerName   string `json:"customer_name"`
	TrackingNumber string `json:"tracking_number,omitempty"`
}

type Address struct {
	Line1   string `json:"line1"`
	Line2   string `json:"line2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state"`
	Pincode string `json:"pincode"`
}

// String renders the address on two lines.
func (a Address) String() string {
	var b strings.Builder
	b.WriteString(a.Line1)
	if a.Line2 != "" {
		b.WriteString(", ")
		b.WriteString(a.Line2)
	}
	b.WriteString("\n")
	b.WriteString(a.City)
	b.WriteString(", ")
	b.WriteString(a.State)
	b.WriteString(" ")
	b.WriteString(a.Pincode)
	return b.String()
}

// Notifier delivers order notifications. Callers log failures and carry on.
type Notifier interface {
	SendOrderConfirmation(ctx context.Context, msg OrderConfirmation) error
	SendOrderShipped(ctx context.Context, msg OrderShipped) error
}

// LogNotifier writes notifications to the log instead of delivering them.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notify")}
}

func (n *LogNotifier) SendOrderConfirmation(ctx context.Context, msg OrderConfirmation) error {
	n.logger.Info("order confirmation",
		zap.String("to", msg.To),
		zap.String("order_number", msg.OrderNumber),
		zap.String("total", msg.Total.StringFixed(2)),
		zap.Int("items", len(msg.Items)))
	return nil
}

func (n *LogNotifier) SendOrderShipped(ctx context.Context, msg OrderShipped) error {
	n.logger.Info("order shipped",
		zap.String("to", msg.To),
		zap.String("order_number", msg.OrderNumber),
		zap.String("tracking_number", msg.TrackingNumber))
	return nil
}
