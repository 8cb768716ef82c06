package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// Handler consumes notification envelopes and delivers them
type Handler struct {
	delivery Notifier
	logger   *zap.Logger
}

// NewHandler creates a new notification handler
func NewHandler(delivery Notifier, logger *zap.Logger) *Handler {
	return &Handler{
		delivery: delivery,
		logger:   logger.Named("notifier"),
	}
}

// HandleMessage processes one message from Kafka. Malformed messages are
// logged and dropped.
func (h *Handler) HandleMessage(ctx context.Context, key, value []byte) error {
	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		h.logger.Warn("failed to unmarshal envelope", zap.ByteString("key", key), zap.Error(err))
		return nil
	}

	switch env.Type {
	case TypeOrderConfirmation:
		var msg OrderConfirmation
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			h.logger.Warn("failed to unmarshal order confirmation", zap.Error(err))
			return nil
		}
		if err := h.delivery.SendOrderConfirmation(ctx, msg); err != nil {
			return fmt.Errorf("send order confirmation %s: %w", msg.OrderNumber, err)
		}
		h.logger.Info("order confirmation sent", zap.String("to", msg.To), zap.String("order_number", msg.OrderNumber))
	case TypeOrderShipped:
		var msg OrderShipped
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			h.logger.Warn("failed to unmarshal order shipped", zap.Error(err))
			return nil
		}
		if err := h.delivery.SendOrderShipped(ctx, msg); err != nil {
			return fmt.Errorf("send order shipped %s: %w", msg.OrderNumber, err)
		}
		h.logger.Info("shipment notice sent", zap.String("to", msg.To), zap.String("order_number", msg.OrderNumber))
	default:
		h.logger.Debug("ignoring message", zap.String("type", env.Type))
	}
	return nil
}
