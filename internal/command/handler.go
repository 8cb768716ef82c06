// Package command is the write side: it orchestrates the cart, order, ledger
// and payment services into the fulfillment flows.
package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/ec-fulfillment/internal/domain/cart"
	"github.com/example/ec-fulfillment/internal/domain/errs"
	"github.com/example/ec-fulfillment/internal/domain/inventory"
	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/example/ec-fulfillment/internal/domain/payment"
	"github.com/example/ec-fulfillment/internal/infrastructure/store"
	"github.com/example/ec-fulfillment/internal/notification"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var ErrEmptyCart = errs.New(errs.ValidationFailed, "cart is empty")

var tracer = otel.Tracer("github.com/example/ec-fulfillment/internal/command")

// Contacts resolves a user's notification address.
type Contacts interface {
	Lookup(ctx context.Context, userID string) (*notification.Contact, error)
}

type Handler struct {
	cartSvc      *cart.Service
	orderSvc     *order.Service
	inventorySvc *inventory.Service
	paymentSvc   *payment.Service
	notifier     notification.Notifier
	contacts     Contacts
	logger       *zap.Logger
	now          func() time.Time
}

func NewHandler(
	cartSvc *cart.Service,
	orderSvc *order.Service,
	inventorySvc *inventory.Service,
	paymentSvc *payment.Service,
	notifier notification.Notifier,
	contacts Contacts,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		cartSvc:      cartSvc,
		orderSvc:     orderSvc,
		inventorySvc: inventorySvc,
		paymentSvc:   paymentSvc,
		notifier:     notifier,
		contacts:     contacts,
		logger:       logger.Named("command"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "command."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// AddToCart adds an item to cart
func (h *Handler) AddToCart(ctx context.Context, cmd AddToCart) (*cart.Cart, error) {
	return h.cartSvc.AddItem(ctx, cmd.UserID, cmd.ProductID, cmd.Quantity)
}

// UpdateCartItem sets a line's quantity; zero removes the line
func (h *Handler) UpdateCartItem(ctx context.Context, cmd UpdateCartItem) (*cart.Cart, error) {
	return h.cartSvc.SetItemQuantity(ctx, cmd.UserID, cmd.ProductID, cmd.Quantity)
}

// RemoveFromCart removes an item from cart
func (h *Handler) RemoveFromCart(ctx context.Context, cmd RemoveFromCart) (*cart.Cart, error) {
	return h.cartSvc.RemoveItem(ctx, cmd.UserID, cmd.ProductID)
}

// ClearCart clears all items from cart
func (h *Handler) ClearCart(ctx context.Context, cmd ClearCart) (*cart.Cart, error) {
	return h.cartSvc.Clear(ctx, cmd.UserID)
}

// CreateOrder turns the user's cart into a pending order. Every line is
// reserved before the order is stored; a failed reservation releases the
// lines already held. The cart is left intact until the order is confirmed.
func (h *Handler) CreateOrder(ctx context.Context, cmd CreateOrder) (o *order.Order, err error) {
	ctx, span := startSpan(ctx, "CreateOrder", attribute.String("user_id", cmd.UserID))
	defer func() { endSpan(span, err) }()

	method, err := order.ParsePaymentMethod(cmd.PaymentMethod)
	if err != nil {
		return nil, err
	}
	if err := cmd.ShippingAddress.Validate(); err != nil {
		return nil, err
	}
	if cmd.BillingAddress != nil {
		if err := cmd.BillingAddress.Validate(); err != nil {
			return nil, err
		}
	}

	c, err := h.cartSvc.GetOrCreate(ctx, cmd.UserID)
	if err != nil {
		return nil, err
	}
	if c.IsEmpty() {
		return nil, ErrEmptyCart
	}

	items := make([]order.Item, 0, len(c.Items))
	for _, line := range c.Items {
		available, err := h.inventorySvc.Available(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}
		if available < line.Quantity {
			return nil, fmt.Errorf("%w for %s", inventory.ErrInsufficientStock, line.Name)
		}
		items = append(items, order.NewItem(line.ProductID, line.Name, line.Image, line.Price, line.Quantity))
	}

	o = &order.Order{
		ID:              uuid.New().String(),
		UserID:          cmd.UserID,
		Items:           items,
		ShippingAddress: cmd.ShippingAddress,
		BillingAddress:  cmd.BillingAddress,
		PaymentMethod:   method,
		Notes:           cmd.Notes,
	}
	o.ApplyTotals(c.Subtotal, c.Tax, c.Discount)

	reserved := make([]order.Item, 0, len(items))
	for _, item := range items {
		if err := h.inventorySvc.Reserve(ctx, item.ProductID, item.Quantity, o.ID); err != nil {
			h.releaseLines(ctx, o.ID, reserved)
			if errors.Is(err, inventory.ErrInsufficientStock) {
				return nil, fmt.Errorf("%w for %s", inventory.ErrInsufficientStock, item.Name)
			}
			return nil, err
		}
		reserved = append(reserved, item)
	}

	if err := h.orderSvc.Place(ctx, o); err != nil {
		h.releaseLines(ctx, o.ID, reserved)
		return nil, err
	}

	span.SetAttributes(attribute.String("order_id", o.ID), attribute.String("order_number", o.OrderNumber))
	h.logger.Info("order created",
		zap.String("order_id", o.ID),
		zap.String("order_number", o.OrderNumber),
		zap.String("total", o.Total.StringFixed(2)))
	return o, nil
}

// ConfirmOrder moves a pending order to confirmed, converts its reservations
// into deductions, clears the owner's cart and sends the confirmation. Lines
// the ledger could not confirm stay reserved and are recorded on the order as
// UnsettledItems for SettleStock to retry.
func (h *Handler) ConfirmOrder(ctx context.Context, orderID string) (o *order.Order, err error) {
	ctx, span := startSpan(ctx, "ConfirmOrder", attribute.String("order_id", orderID))
	defer func() { endSpan(span, err) }()

	o, err = h.orderSvc.Update(ctx, orderID, func(o *order.Order) error {
		if !o.CanConfirm() {
			return fmt.Errorf("%w: cannot confirm a %s order", order.ErrInvalidTransition, o.Status)
		}
		o.Status = order.StatusConfirmed
		o.PaymentStatus = order.PaymentCompleted
		return nil
	})
	if err != nil {
		return nil, err
	}

	if unsettled := h.confirmLines(ctx, o.ID, o.Items); len(unsettled) > 0 {
		if marked, err := h.markUnsettled(ctx, o.ID, unsettled); err != nil {
			h.logger.Error("failed to record unsettled stock",
				zap.String("order_id", o.ID),
				zap.Int("lines", len(unsettled)),
				zap.Error(err))
			o.UnsettledItems = unsettled
		} else {
			o = marked
		}
	}

	if _, err := h.cartSvc.Clear(ctx, o.UserID); err != nil {
		h.logger.Warn("failed to clear cart", zap.String("user_id", o.UserID), zap.Error(err))
	}

	h.sendConfirmation(ctx, o)
	h.logger.Info("order confirmed", zap.String("order_id", o.ID), zap.String("order_number", o.OrderNumber))
	return o, nil
}

// CancelOrder cancels a pending or confirmed order. Held reservations are
// released; deducted stock is returned.
func (h *Handler) CancelOrder(ctx context.Context, cmd CancelOrder) (o *order.Order, err error) {
	ctx, span := startSpan(ctx, "CancelOrder", attribute.String("order_id", cmd.OrderID))
	defer func() { endSpan(span, err) }()

	var (
		prior     order.Status
		unsettled []order.Item
	)
	o, err = h.orderSvc.Update(ctx, cmd.OrderID, func(o *order.Order) error {
		if cmd.UserID != "" && o.UserID != cmd.UserID {
			return order.ErrOrderNotFound
		}
		if !o.CanCancel() {
			return fmt.Errorf("%w: cannot cancel a %s order", order.ErrInvalidTransition, o.Status)
		}
		prior = o.Status
		unsettled = o.UnsettledItems
		o.Status = order.StatusCancelled
		o.UnsettledItems = nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	if prior == order.StatusConfirmed {
		// Unsettled lines were never deducted, so their hold is released instead.
		h.releaseLines(ctx, o.ID, unsettled)
		for _, item := range subtractLines(o.Items, unsettled) {
			if err := h.inventorySvc.Restock(ctx, item.ProductID, item.Quantity, o.ID); err != nil {
				h.logger.Error("failed to restock",
					zap.String("order_id", o.ID),
					zap.String("product_id", item.ProductID),
					zap.Error(err))
			}
		}
	} else {
		h.releaseLines(ctx, o.ID, o.Items)
	}

	h.logger.Info("order cancelled", zap.String("order_id", o.ID), zap.String("previous_status", string(prior)))
	return o, nil
}

// SettleStock retries the ledger confirmation of a confirmed order's
// unsettled lines and returns the order with whatever is still unsettled.
func (h *Handler) SettleStock(ctx context.Context, orderID string) (o *order.Order, err error) {
	ctx, span := startSpan(ctx, "SettleStock", attribute.String("order_id", orderID))
	defer func() { endSpan(span, err) }()

	o, err = h.orderSvc.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != order.StatusConfirmed || len(o.UnsettledItems) == 0 {
		return o, nil
	}

	remaining := h.confirmLines(ctx, o.ID, o.UnsettledItems)
	o, err = h.markUnsettled(ctx, o.ID, remaining)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("unsettled", len(o.UnsettledItems)))
	h.logger.Info("stock settlement retried",
		zap.String("order_id", o.ID),
		zap.Int("unsettled", len(o.UnsettledItems)))
	return o, nil
}

// UpdateOrderStatus overwrites the status. Delivered stamps the delivery
// time; shipped sends the shipment notice.
func (h *Handler) UpdateOrderStatus(ctx context.Context, cmd UpdateOrderStatus) (o *order.Order, err error) {
	ctx, span := startSpan(ctx, "UpdateOrderStatus",
		attribute.String("order_id", cmd.OrderID),
		attribute.String("status", cmd.Status))
	defer func() { endSpan(span, err) }()

	status, err := order.ParseStatus(cmd.Status)
	if err != nil {
		return nil, err
	}

	o, err = h.orderSvc.Update(ctx, cmd.OrderID, func(o *order.Order) error {
		o.Status = status
		if cmd.TrackingNumber != "" {
			o.TrackingNumber = cmd.TrackingNumber
		}
		if cmd.Notes != "" {
			o.Notes = cmd.Notes
		}
		if status == order.StatusDelivered {
			now := h.now()
			o.DeliveredAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if status == order.StatusShipped {
		h.sendShipped(ctx, o)
	}
	return o, nil
}

// CreatePayment opens a gateway order for the user's order.
func (h *Handler) CreatePayment(ctx context.Context, cmd CreatePayment) (c *payment.Checkout, err error) {
	ctx, span := startSpan(ctx, "CreatePayment", attribute.String("order_id", cmd.OrderID))
	defer func() { endSpan(span, err) }()

	return h.paymentSvc.CreateGatewayOrder(ctx, cmd.OrderID, cmd.UserID)
}

// VerifyPayment checks the checkout signature and confirms the order.
func (h *Handler) VerifyPayment(ctx context.Context, cmd VerifyPayment) (p *payment.Payment, err error) {
	ctx, span := startSpan(ctx, "VerifyPayment", attribute.String("gateway_order_id", cmd.GatewayOrderID))
	defer func() { endSpan(span, err) }()

	p, err = h.paymentSvc.Verify(ctx, cmd.GatewayOrderID, cmd.GatewayPaymentID, cmd.Signature, cmd.UserID)
	if err != nil {
		return nil, err
	}
	h.confirmPaid(ctx, p)
	return p, nil
}

// HandleWebhook applies a gateway webhook. Only the delivery that completes a
// payment confirms its order.
func (h *Handler) HandleWebhook(ctx context.Context, cmd HandleWebhook) (r *payment.WebhookResult, err error) {
	ctx, span := startSpan(ctx, "HandleWebhook")
	defer func() { endSpan(span, err) }()

	r, err = h.paymentSvc.HandleWebhook(ctx, cmd.Body, cmd.Signature)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("event", r.Event),
		attribute.Bool("duplicate", r.Duplicate),
		attribute.Bool("newly_completed", r.NewlyCompleted))
	if r.NewlyCompleted && r.Payment != nil {
		h.confirmPaid(ctx, r.Payment)
	}
	return r, nil
}

// confirmPaid confirms the order behind a completed payment. A payment that
// lands on an order no longer pending is logged for manual follow-up.
func (h *Handler) confirmPaid(ctx context.Context, p *payment.Payment) {
	_, err := h.ConfirmOrder(ctx, p.OrderID)
	switch {
	case err == nil:
	case errors.Is(err, order.ErrInvalidTransition):
		h.logger.Warn("payment completed for order that is not pending",
			zap.String("order_id", p.OrderID),
			zap.String("payment_id", p.ID))
	default:
		h.logger.Error("failed to confirm paid order",
			zap.String("order_id", p.OrderID),
			zap.String("payment_id", p.ID),
			zap.Error(err))
	}
}

// ExpirePendingOrders cancels unpaid pending orders created more than
// olderThan ago and returns how many it cancelled. An order whose pending
// payment attempt was opened within the same window is kept, so a checkout in
// progress is not pulled from under the buyer. A payment that still completes
// after its order expired is logged by confirmPaid and needs a refund.
func (h *Handler) ExpirePendingOrders(ctx context.Context, olderThan time.Duration) (n int, err error) {
	ctx, span := startSpan(ctx, "ExpirePendingOrders")
	defer func() { endSpan(span, err) }()

	cutoff := h.now().Add(-olderThan)
	stale, err := h.orderSvc.List(ctx, func(o *order.Order) bool {
		return o.Status == order.StatusPending && !o.IsPaid() && o.CreatedAt.Before(cutoff)
	})
	if err != nil {
		return 0, err
	}

	for _, o := range stale {
		if h.checkoutOpen(ctx, o.ID, cutoff) {
			continue
		}
		_, err := h.CancelOrder(ctx, CancelOrder{OrderID: o.ID})
		if errors.Is(err, order.ErrInvalidTransition) {
			continue
		}
		if err != nil {
			h.logger.Error("failed to expire order", zap.String("order_id", o.ID), zap.Error(err))
			continue
		}
		n++
	}
	span.SetAttributes(attribute.Int("expired", n))
	if n > 0 {
		h.logger.Info("expired pending orders", zap.Int("count", n))
	}
	return n, nil
}

// checkoutOpen reports whether the order has a pending payment attempt
// created after cutoff. Lookup errors count as open.
func (h *Handler) checkoutOpen(ctx context.Context, orderID string, cutoff time.Time) bool {
	p, err := h.paymentSvc.GetByOrder(ctx, orderID)
	if errors.Is(err, payment.ErrPaymentNotFound) {
		return false
	}
	if err != nil {
		h.logger.Warn("failed to look up payment before expiry", zap.String("order_id", orderID), zap.Error(err))
		return true
	}
	return p.Status == payment.StatusPending && p.CreatedAt.After(cutoff)
}

// CreateStock opens a ledger record for a product
func (h *Handler) CreateStock(ctx context.Context, cmd CreateStock) (*inventory.Record, error) {
	return h.inventorySvc.Create(ctx, cmd.ProductID, cmd.Quantity, cmd.LowStockThreshold, cmd.Actor)
}

// AdjustStock applies a manual correction
func (h *Handler) AdjustStock(ctx context.Context, cmd AdjustStock) (*inventory.Record, error) {
	return h.inventorySvc.Adjust(ctx, cmd.ProductID, cmd.Delta, cmd.Reason, cmd.Actor)
}

// confirmLines confirms each line's reservation and returns the lines the
// ledger refused.
func (h *Handler) confirmLines(ctx context.Context, orderID string, items []order.Item) []order.Item {
	var failed []order.Item
	for _, item := range items {
		if err := h.inventorySvc.Confirm(ctx, item.ProductID, item.Quantity, orderID); err != nil {
			h.logger.Error("failed to confirm stock",
				zap.String("order_id", orderID),
				zap.String("product_id", item.ProductID),
				zap.Error(err))
			failed = append(failed, item)
		}
	}
	return failed
}

func (h *Handler) markUnsettled(ctx context.Context, orderID string, items []order.Item) (*order.Order, error) {
	return h.orderSvc.Update(ctx, orderID, func(o *order.Order) error {
		if o.Status != order.StatusConfirmed || (len(items) == 0 && len(o.UnsettledItems) == 0) {
			return store.ErrSkipWrite
		}
		o.UnsettledItems = items
		return nil
	})
}

// subtractLines drops from items every line whose product appears in minus.
func subtractLines(items, minus []order.Item) []order.Item {
	if len(minus) == 0 {
		return items
	}
	skip := make(map[string]bool, len(minus))
	for _, m := range minus {
		skip[m.ProductID] = true
	}
	kept := make([]order.Item, 0, len(items))
	for _, item := range items {
		if !skip[item.ProductID] {
			kept = append(kept, item)
		}
	}
	return kept
}

func (h *Handler) releaseLines(ctx context.Context, orderID string, items []order.Item) {
	for _, item := range items {
		if err := h.inventorySvc.Release(ctx, item.ProductID, item.Quantity, orderID); err != nil {
			h.logger.Error("failed to release reservation",
				zap.String("order_id", orderID),
				zap.String("product_id", item.ProductID),
				zap.Error(err))
		}
	}
}
