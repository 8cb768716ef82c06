package command

import (
	"github.com/example/ec-fulfillment/internal/domain/order"
)

// Cart Commands
type AddToCart struct {
	UserID    string `json:"user_id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type UpdateCartItem struct {
	UserID    string `json:"user_id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type RemoveFromCart struct {
	UserID    string `json:"user_id"`
	ProductID string `json:"product_id"`
}

type ClearCart struct {
	UserID string `json:"user_id"`
}

// Order Commands
type CreateOrder struct {
	UserID          string         `json:"user_id"`
	ShippingAddress order.Address  `json:"shipping_address"`
	BillingAddress  *order.Address `json:"billing_address,omitempty"`
	PaymentMethod   string         `json:"payment_method"`
	Notes           string         `json:"notes,omitempty"`
}

type CancelOrder struct {
	OrderID string `json:"order_id"`
	// UserID restricts the cancel to the order's owner. Empty skips the check.
	UserID string `json:"user_id"`
}

type UpdateOrderStatus struct {
	OrderID        string `json:"order_id"`
	Status         string `json:"status"`
	TrackingNumber string `json:"tracking_number,omitempty"`
	Notes          string `json:"notes,omitempty"`
}

// Payment Commands
type CreatePayment struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
}

type VerifyPayment struct {
	GatewayOrderID   string `json:"razorpay_order_id"`
	GatewayPaymentID string `json:"razorpay_payment_id"`
	Signature        string `json:"razorpay_signature"`
	UserID           string `json:"-"`
}

type HandleWebhook struct {
	Body      []byte
	Signature string
}

// Inventory Commands
type CreateStock struct {
	ProductID         string `json:"product_id"`
	Quantity          int    `json:"quantity"`
	LowStockThreshold int    `json:"low_stock_threshold"`
	Actor             string `json:"-"`
}

type AdjustStock struct {
	ProductID string `json:"product_id"`
	Delta     int    `json:"quantity_change"`
	Reason    string `json:"reason"`
	Actor     string `json:"-"`
}
