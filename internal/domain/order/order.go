package order

import (
	"fmt"
	"time"

	"github.com/example/ec-fulfillment/internal/domain/errs"
	"github.com/example/ec-fulfillment/internal/money"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending        Status = "pending"
	StatusConfirmed      Status = "confirmed"
	StatusProcessing     Status = "processing"
	StatusShipped        Status = "shipped"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
	StatusRefunded       Status = "refunded"
)

var allStatuses = []Status{
	StatusPending, StatusConfirmed, StatusProcessing, StatusShipped,
	StatusOutForDelivery, StatusDelivered, StatusCancelled, StatusRefunded,
}

// ParseStatus validates a status name.
func ParseStatus(s string) (Status, error) {
	for _, st := range allStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

type PaymentMethod string

const (
	MethodRazorpay PaymentMethod = "razorpay"
	MethodCOD      PaymentMethod = "cod"
	MethodWallet   PaymentMethod = "wallet"
)

// ParsePaymentMethod validates a payment method; empty means razorpay.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch PaymentMethod(s) {
	case "":
		return MethodRazorpay, nil
	case MethodRazorpay, MethodCOD, MethodWallet:
		return PaymentMethod(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, s)
}

const DefaultCountry = "India"

var (
	// FreeShippingThreshold is the subtotal from which shipping is free.
	FreeShippingThreshold = decimal.NewFromInt(500)
	StandardShippingFee   = decimal.NewFromInt(50)
)

var (
	ErrOrderNotFound        = errs.New(errs.NotFound, "order not found")
	ErrInvalidTransition    = errs.New(errs.Conflict, "invalid order status transition")
	ErrInvalidStatus        = errs.New(errs.ValidationFailed, "invalid order status")
	ErrInvalidPaymentMethod = errs.New(errs.ValidationFailed, "invalid payment method")
	ErrInvalidAddress       = errs.New(errs.ValidationFailed, "invalid address")
	ErrEmptyOrder           = errs.New(errs.ValidationFailed, "order must have at least one item")
	ErrOrderNumberExhausted = errs.New(errs.Conflict, "could not allocate a unique order number")
)

type Address struct {
	FullName     string `json:"full_name"`
	Phone        string `json:"phone"`
	AddressLine1 string `json:"address_line1"`
	AddressLine2 string `json:"address_line2,omitempty"`
	City         string `json:"city"`
	State        string `json:"state"`
	Pincode      string `json:"pincode"`
	Country      string `json:"country"`
}

// Validate checks required fields and fills the default country.
func (a *Address) Validate() error {
	switch {
	case a.FullName == "":
		return fmt.Errorf("%w: full_name is required", ErrInvalidAddress)
	case a.Phone == "":
		return fmt.Errorf("%w: phone is required", ErrInvalidAddress)
	case a.AddressLine1 == "":
		return fmt.Errorf("%w: address_line1 is required", ErrInvalidAddress)
	case a.City == "":
		return fmt.Errorf("%w: city is required", ErrInvalidAddress)
	case a.State == "":
		return fmt.Errorf("%w: state is required", ErrInvalidAddress)
	case a.Pincode == "":
		return fmt.Errorf("%w: pincode is required", ErrInvalidAddress)
	}
	if a.Country == "" {
		a.Country = DefaultCountry
	}
	return nil
}

// Item is an immutable line snapshot taken at order creation.
type Item struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Image     string          `json:"image,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Total     decimal.Decimal `json:"total"`
}

// NewItem snapshots a line and computes its total.
func NewItem(productID, name, image string, price decimal.Decimal, qty int) Item {
	return Item{
		ProductID: productID,
		Name:      name,
		Image:     image,
		Price:     price,
		Quantity:  qty,
		Total:     money.LineTotal(price, qty),
	}
}

type Order struct {
	ID              string          `json:"id"`
	OrderNumber     string          `json:"order_number"`
	UserID          string          `json:"user_id"`
	Items           []Item          `json:"items"`
	ShippingAddress Address         `json:"shipping_address"`
	BillingAddress  *Address        `json:"billing_address,omitempty"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Discount        decimal.Decimal `json:"discount"`
	ShippingFee     decimal.Decimal `json:"shipping_fee"`
	Tax             decimal.Decimal `json:"tax"`
	Total           decimal.Decimal `json:"total"`
	PaymentMethod   PaymentMethod   `json:"payment_method"`

	Status         Status        `json:"status"`
	PaymentStatus  PaymentStatus `json:"payment_status"`
	PaymentID      string        `json:"payment_id,omitempty"`
	GatewayOrderID string        `json:"gateway_order_id,omitempty"`
	TrackingNumber string        `json:"tracking_number,omitempty"`
	Notes          string        `json:"notes,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	DeliveredAt    *time.Time    `json:"delivered_at,omitempty"`

	// UnsettledItems are lines of a confirmed order whose reservation the
	// ledger has not yet turned into a deduction.
	UnsettledItems []Item `json:"unsettled_items,omitempty"`
}

// ShippingFee is free from FreeShippingThreshold up, StandardShippingFee below.
func ShippingFee(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.GreaterThanOrEqual(FreeShippingThreshold) {
		return decimal.Zero
	}
	return StandardShippingFee
}

// ApplyTotals sets the money fields from the cart totals.
func (o *Order) ApplyTotals(subtotal, tax, discount decimal.Decimal) {
	o.Subtotal = money.Round2(subtotal)
	o.Tax = money.Round2(tax)
	o.Discount = money.Round2(discount)
	o.ShippingFee = ShippingFee(o.Subtotal)
	o.Total = money.Round2(o.Subtotal.Add(o.Tax).Add(o.ShippingFee).Sub(o.Discount))
}

// CanConfirm reports whether payment may confirm the order.
func (o *Order) CanConfirm() bool {
	return o.Status == StatusPending
}

// CanCancel reports whether the order may still be cancelled.
func (o *Order) CanCancel() bool {
	return o.Status == StatusPending || o.Status == StatusConfirmed
}

// IsPaid reports whether payment has been captured.
func (o *Order) IsPaid() bool {
	return o.PaymentStatus == PaymentCompleted
}
