package command

import (
	"context"

	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/example/ec-fulfillment/internal/notification"
	"go.uber.org/zap"
)

// Notification failures are logged and never fail the order flow.

func (h *Handler) sendConfirmation(ctx context.Context, o *order.Order) {
	contact, ok := h.contact(ctx, o)
	if !ok {
		return
	}
	items := make([]notification.LineItem, len(o.Items))
	for i, it := range o.Items {
		items[i] = notification.LineItem{Name: it.Name, Quantity: it.Quantity, Price: it.Price, Total: it.Total}
	}
	msg := notification.OrderConfirmation{
		To:              contact.Email,
		OrderNumber:     o.OrderNumber,
		CustomerName:    customerName(contact, o),
		Items:           items,
		Total:           o.Total,
		ShippingAddress: toNotificationAddress(o.ShippingAddress),
	}
	if err := h.notifier.SendOrderConfirmation(ctx, msg); err != nil {
		h.logger.Warn("failed to send order confirmation", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func (h *Handler) sendShipped(ctx context.Context, o *order.Order) {
	contact, ok := h.contact(ctx, o)
	if !ok {
		return
	}
	msg := notification.OrderShipped{
		To:             contact.Email,
		OrderNumber:    o.OrderNumber,
		CustomerName:   customerName(contact, o),
		TrackingNumber: o.TrackingNumber,
	}
	if err := h.notifier.SendOrderShipped(ctx, msg); err != nil {
		h.logger.Warn("failed to send shipment notice", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func (h *Handler) contact(ctx context.Context, o *order.Order) (*notification.Contact, bool) {
	if h.notifier == nil || h.contacts == nil {
		return nil, false
	}
	c, err := h.contacts.Lookup(ctx, o.UserID)
	if err != nil {
		h.logger.Warn("no contact for order owner", zap.String("order_id", o.ID), zap.String("user_id", o.UserID), zap.Error(err))
		return nil, false
	}
	return c, true
}

func customerName(c *notification.Contact, o *order.Order) string {
	if c.Name != "" {
		return c.Name
	}
	return o.ShippingAddress.FullName
}

func toNotificationAddress(a order.Address) notification.Address {
	return notification.Address{
		Line1:   a.AddressLine1,
		Line2:   a.AddressLine2,
		City:    a.City,
		State:   a.State,
		Pincode: a.Pincode,
	}
}
