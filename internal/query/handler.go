// Package query is the read side over the fulfillment services.
package query

import (
	"context"

	"github.com/example/ec-fulfillment/internal/domain/cart"
	"github.com/example/ec-fulfillment/internal/domain/inventory"
	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/example/ec-fulfillment/internal/domain/payment"
)

// Availability is the public stock answer for one product.
type Availability struct {
	ProductID string `json:"product_id"`
	Available int    `json:"available"`
	InStock   bool   `json:"in_stock"`
}

type Handler struct {
	cartSvc      *cart.Service
	orderSvc     *order.Service
	inventorySvc *inventory.Service
	paymentSvc   *payment.Service
}

func NewHandler(cartSvc *cart.Service, orderSvc *order.Service, inventorySvc *inventory.Service, paymentSvc *payment.Service) *Handler {
	return &Handler{
		cartSvc:      cartSvc,
		orderSvc:     orderSvc,
		inventorySvc: inventorySvc,
		paymentSvc:   paymentSvc,
	}
}

// Cart
func (h *Handler) GetCart(ctx context.Context, userID string) (*cart.Cart, error) {
	return h.cartSvc.GetOrCreate(ctx, userID)
}

// Orders

// GetOrder returns the order when userID owns it. An empty userID reads any
// order.
func (h *Handler) GetOrder(ctx context.Context, id, userID string) (*order.Order, error) {
	return h.orderSvc.GetForUser(ctx, id, userID)
}

func (h *Handler) GetOrderByNumber(ctx context.Context, number, userID string) (*order.Order, error) {
	return h.orderSvc.GetByNumber(ctx, number, userID)
}

func (h *Handler) ListOrdersByUser(ctx context.Context, userID string, opts order.ListOptions) (*order.Page, error) {
	return h.orderSvc.ListByUser(ctx, userID, opts)
}

// ListUnsettledOrders returns confirmed orders holding lines the ledger has
// not yet deducted.
func (h *Handler) ListUnsettledOrders(ctx context.Context) ([]*order.Order, error) {
	return h.orderSvc.List(ctx, func(o *order.Order) bool {
		return o.Status == order.StatusConfirmed && len(o.UnsettledItems) > 0
	})
}

// Payments

// GetPaymentByOrder returns the latest payment attempt for an order the user
// owns.
func (h *Handler) GetPaymentByOrder(ctx context.Context, orderID, userID string) (*payment.Payment, error) {
	if _, err := h.GetOrder(ctx, orderID, userID); err != nil {
		return nil, err
	}
	return h.paymentSvc.GetByOrder(ctx, orderID)
}

// Inventory
func (h *Handler) GetStock(ctx context.Context, productID string) (*inventory.StockLevel, error) {
	return h.inventorySvc.Get(ctx, productID)
}

func (h *Handler) GetAvailability(ctx context.Context, productID string) (*Availability, error) {
	n, err := h.inventorySvc.Available(ctx, productID)
	if err != nil {
		return nil, err
	}
	return &Availability{ProductID: productID, Available: n, InStock: n > 0}, nil
}

func (h *Handler) ListLowStock(ctx context.Context) ([]inventory.StockLevel, error) {
	return h.inventorySvc.LowStock(ctx)
}

func (h *Handler) GetMovements(ctx context.Context, productID string) ([]inventory.Movement, error) {
	return h.inventorySvc.Movements(ctx, productID)
}

func (h *Handler) Reconcile(ctx context.Context, productID string) (*inventory.Reconciliation, error) {
	return h.inventorySvc.Reconcile(ctx, productID)
}
