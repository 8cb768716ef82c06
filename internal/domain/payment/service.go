package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/example/ec-fulfillment/internal/gateway"
	"github.com/example/ec-fulfillment/internal/infrastructure/store"
	"github.com/example/ec-fulfillment/internal/money"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	Collection = "payments"
	// RefCollection maps a gateway order reference to a payment id.
	RefCollection = "payment_gateway_refs"
	// ActiveCollection maps an order id to its latest payment attempt.
	ActiveCollection = "payment_active"

	DefaultCurrency = "INR"
	DefaultTimeout  = 10 * time.Second
)

type pointer struct {
	PaymentID string `json:"payment_id"`
}

// Orders is the slice of the order service payments read and mirror into.
type Orders interface {
	Get(ctx context.Context, id string) (*order.Order, error)
	Update(ctx context.Context, id string, fn func(*order.Order) error) (*order.Order, error)
}

// Deduper remembers processed webhook deliveries.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

type Config struct {
	Currency      string
	WebhookSecret string
	Timeout       time.Duration
}

type Service struct {
	records store.RecordStoreInterface
	orders  Orders
	gateway gateway.Gateway
	dedup   Deduper
	cfg     Config
	logger  *zap.Logger
}

func NewService(rs store.RecordStoreInterface, orders Orders, gw gateway.Gateway, dedup Deduper, cfg Config, logger *zap.Logger) *Service {
	if cfg.Currency == "" {
		cfg.Currency = DefaultCurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		records: rs,
		orders:  orders,
		gateway: gw,
		dedup:   dedup,
		cfg:     cfg,
		logger:  logger.Named("payment"),
	}
}

// CreateGatewayOrder opens a payment attempt for the user's order. A pending
// attempt that already exists is returned instead of opening another.
func (s *Service) CreateGatewayOrder(ctx context.Context, orderID, userID string) (*Checkout, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, order.ErrOrderNotFound
	}
	if o.IsPaid() {
		return nil, ErrAlreadyPaid
	}
	if o.Status == order.StatusCancelled || o.Status == order.StatusRefunded {
		return nil, fmt.Errorf("%w: order is %s", ErrOrderNotPayable, o.Status)
	}

	paymentID := uuid.New().String()
	existing, err := s.claimAttempt(ctx, orderID, paymentID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		// An earlier call may have stopped after storing the attempt.
		if err := s.linkAttempt(ctx, existing); err != nil {
			return nil, err
		}
		return s.checkout(existing), nil
	}

	now := time.Now().UTC()
	p := &Payment{
		ID:          paymentID,
		OrderID:     orderID,
		UserID:      userID,
		Amount:      o.Total,
		AmountMinor: money.ToMinorUnits(o.Total),
		Currency:    s.cfg.Currency,
		Status:      StatusPending,
		Method:      string(o.PaymentMethod),
		Gateway:     s.gateway.Name(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var remote *gateway.RemoteOrder
	err = s.callGateway(ctx, func(ctx context.Context) error {
		var err error
		remote, err = s.gateway.CreateOrder(ctx, p.AmountMinor, p.Currency, orderID)
		return err
	})
	if err != nil {
		// The failed attempt frees the active slot for a retry.
		p.Status = StatusFailed
		p.FailureReason = err.Error()
		if _, storeErr := s.records.Create(ctx, Collection, p.ID, p); storeErr != nil {
			s.logger.Error("failed to record failed payment attempt",
				zap.String("order_id", orderID), zap.Error(storeErr))
			s.releaseAttempt(ctx, orderID, p.ID)
		}
		return nil, err
	}

	// The reference index is written before the payment so a stored pending
	// attempt is always reachable from verify and webhooks.
	p.GatewayOrderID = remote.ID
	if err := s.indexRef(ctx, remote.ID, p.ID); err != nil {
		s.releaseAttempt(ctx, orderID, p.ID)
		return nil, fmt.Errorf("failed to index payment: %w", err)
	}
	if _, err := s.records.Create(ctx, Collection, p.ID, p); err != nil {
		s.releaseAttempt(ctx, orderID, p.ID)
		return nil, fmt.Errorf("failed to store payment: %w", err)
	}
	if err := s.stampOrder(ctx, orderID, remote.ID); err != nil {
		return nil, err
	}

	s.logger.Info("payment attempt opened",
		zap.String("order_id", orderID),
		zap.String("payment_id", p.ID),
		zap.String("gateway_order_id", remote.ID),
		zap.Int64("amount_minor", p.AmountMinor))
	return s.checkout(p), nil
}

// claimAttempt points the order's active slot at paymentID. It returns the
// existing pending payment when there is one.
func (s *Service) claimAttempt(ctx context.Context, orderID, paymentID string) (*Payment, error) {
	_, err := s.records.Create(ctx, ActiveCollection, orderID, pointer{PaymentID: paymentID})
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, store.ErrAlreadyExists) {
		return nil, err
	}

	var existing *Payment
	_, err = store.Mutate(ctx, s.records, ActiveCollection, orderID, func(ptr *pointer) error {
		existing = nil
		p, _, err := store.Load[Payment](ctx, s.records, Collection, ptr.PaymentID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrPaymentInProgress
		}
		if err != nil {
			return err
		}
		switch p.Status {
		case StatusPending:
			existing = p
			return store.ErrSkipWrite
		case StatusCompleted, StatusRefunded:
			return ErrAlreadyPaid
		}
		ptr.PaymentID = paymentID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return existing, nil
}

// releaseAttempt clears the order's active slot if it still points at a
// payment that was never stored. Nothing else rewrites a slot in that state.
func (s *Service) releaseAttempt(ctx context.Context, orderID, paymentID string) {
	ptr, _, err := store.Load[pointer](ctx, s.records, ActiveCollection, orderID)
	if err != nil || ptr.PaymentID != paymentID {
		return
	}
	if err := s.records.Delete(ctx, ActiveCollection, orderID); err != nil {
		s.logger.Error("failed to release payment slot",
			zap.String("order_id", orderID),
			zap.String("payment_id", paymentID),
			zap.Error(err))
	}
}

// indexRef maps a gateway reference to its payment. Writing the same mapping
// twice is a no-op.
func (s *Service) indexRef(ctx context.Context, ref, paymentID string) error {
	_, err := s.records.Create(ctx, RefCollection, ref, pointer{PaymentID: paymentID})
	if !errors.Is(err, store.ErrAlreadyExists) {
		return err
	}
	cur, _, err := store.Load[pointer](ctx, s.records, RefCollection, ref)
	if err != nil {
		return err
	}
	if cur.PaymentID != paymentID {
		return fmt.Errorf("gateway reference %s already belongs to payment %s", ref, cur.PaymentID)
	}
	return nil
}

func (s *Service) stampOrder(ctx context.Context, orderID, ref string) error {
	_, err := s.orders.Update(ctx, orderID, func(o *order.Order) error {
		if o.GatewayOrderID == ref {
			return store.ErrSkipWrite
		}
		o.GatewayOrderID = ref
		return nil
	})
	return err
}

// linkAttempt makes sure a reused pending attempt is indexed and stamped on
// its order.
func (s *Service) linkAttempt(ctx context.Context, p *Payment) error {
	if p.GatewayOrderID == "" {
		return nil
	}
	if err := s.indexRef(ctx, p.GatewayOrderID, p.ID); err != nil {
		return fmt.Errorf("failed to index payment: %w", err)
	}
	return s.stampOrder(ctx, p.OrderID, p.GatewayOrderID)
}

func (s *Service) checkout(p *Payment) *Checkout {
	return &Checkout{
		Payment:        p,
		GatewayOrderID: p.GatewayOrderID,
		AmountMinor:    p.AmountMinor,
		Currency:       p.Currency,
		KeyID:          s.gateway.KeyID(),
	}
}

// Verify checks a checkout signature. A mismatch marks the attempt failed; a
// match completes it and mirrors the payment onto the order. The caller is
// expected to confirm the order afterwards.
func (s *Service) Verify(ctx context.Context, gatewayOrderRef, gatewayPaymentRef, signature, userID string) (*Payment, error) {
	p, err := s.byGatewayRef(ctx, gatewayOrderRef)
	if err != nil {
		return nil, err
	}
	if userID != "" && p.UserID != userID {
		return nil, ErrPaymentNotFound
	}
	if p.Status == StatusCompleted {
		return nil, ErrAlreadyCompleted
	}

	err = s.callGateway(ctx, func(ctx context.Context) error {
		return s.gateway.VerifyPayment(ctx, gatewayOrderRef, gatewayPaymentRef, signature)
	})
	if errors.Is(err, gateway.ErrSignatureMismatch) {
		if _, markErr := s.markFailed(ctx, p.ID, "signature mismatch"); markErr != nil {
			s.logger.Error("failed to mark payment failed", zap.String("payment_id", p.ID), zap.Error(markErr))
		}
		return nil, fmt.Errorf("%w: %w", ErrVerificationFailed, err)
	}
	if err != nil {
		return nil, err
	}

	completed, newly, err := s.markCompleted(ctx, p.ID, gatewayPaymentRef, signature)
	if err != nil {
		return nil, err
	}
	if !newly {
		return nil, ErrAlreadyCompleted
	}
	return completed, nil
}

// HandleWebhook authenticates and applies a gateway webhook. Redelivery of an
// already applied event changes nothing.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) (*WebhookResult, error) {
	if err := gateway.VerifyWebhook(s.cfg.WebhookSecret, body, signature); err != nil {
		return nil, err
	}
	event, err := gateway.ParseWebhook(body)
	if err != nil {
		return nil, err
	}
	entity := event.Payment()
	result := &WebhookResult{Event: event.Event}

	key := dedupKey(event)
	if s.dedup != nil {
		seen, err := s.dedup.Seen(ctx, key)
		if err != nil {
			s.logger.Warn("webhook dedup lookup failed", zap.String("key", key), zap.Error(err))
		} else if seen {
			result.Duplicate = true
			return result, nil
		}
	}

	switch event.Event {
	case gateway.EventPaymentCaptured, gateway.EventPaymentFailed:
	default:
		result.Ignored = true
		return result, nil
	}

	p, err := s.byGatewayRef(ctx, entity.OrderID)
	if errors.Is(err, ErrPaymentNotFound) {
		s.logger.Warn("webhook for unknown payment",
			zap.String("event", event.Event),
			zap.String("gateway_order_id", entity.OrderID))
		result.Ignored = true
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	if event.Event == gateway.EventPaymentCaptured {
		result.Payment, result.NewlyCompleted, err = s.markCompleted(ctx, p.ID, entity.ID, "")
	} else {
		result.Payment, err = s.markFailed(ctx, p.ID, "gateway reported failure")
	}
	if err != nil {
		return nil, err
	}

	if s.dedup != nil {
		if err := s.dedup.Mark(ctx, key); err != nil {
			s.logger.Warn("webhook dedup mark failed", zap.String("key", key), zap.Error(err))
		}
	}
	return result, nil
}

func dedupKey(e *gateway.WebhookEvent) string {
	if e.ID != "" {
		return e.ID
	}
	return e.Event + ":" + e.Payment().OrderID + ":" + e.Payment().ID
}

// GetByOrder returns the order's latest payment attempt.
func (s *Service) GetByOrder(ctx context.Context, orderID string) (*Payment, error) {
	ptr, _, err := store.Load[pointer](ctx, s.records, ActiveCollection, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, ptr.PaymentID)
}

func (s *Service) Get(ctx context.Context, id string) (*Payment, error) {
	p, _, err := store.Load[Payment](ctx, s.records, Collection, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrPaymentNotFound
	}
	return p, err
}

func (s *Service) byGatewayRef(ctx context.Context, ref string) (*Payment, error) {
	if ref == "" {
		return nil, ErrPaymentNotFound
	}
	ptr, _, err := store.Load[pointer](ctx, s.records, RefCollection, ref)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, ptr.PaymentID)
}

// markCompleted moves a payment to completed and mirrors it onto the order.
// newly is false when the payment was already completed.
func (s *Service) markCompleted(ctx context.Context, paymentID, gatewayPaymentID, signature string) (p *Payment, newly bool, err error) {
	p, err = store.Mutate(ctx, s.records, Collection, paymentID, func(p *Payment) error {
		newly = false
		if p.Status == StatusCompleted || p.Status == StatusRefunded {
			return store.ErrSkipWrite
		}
		now := time.Now().UTC()
		p.Status = StatusCompleted
		p.GatewayPaymentID = gatewayPaymentID
		if signature != "" {
			p.GatewaySignature = signature
		}
		p.FailureReason = ""
		p.CompletedAt = &now
		p.UpdatedAt = now
		newly = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	_, err = s.orders.Update(ctx, p.OrderID, func(o *order.Order) error {
		if o.PaymentStatus == order.PaymentCompleted && o.PaymentID == p.GatewayPaymentID {
			return store.ErrSkipWrite
		}
		o.PaymentStatus = order.PaymentCompleted
		o.PaymentID = p.GatewayPaymentID
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to mirror payment onto order: %w", err)
	}
	if newly {
		s.logger.Info("payment completed",
			zap.String("payment_id", p.ID),
			zap.String("order_id", p.OrderID),
			zap.String("gateway_payment_id", gatewayPaymentID))
	}
	return p, newly, nil
}

// markFailed moves a pending payment to failed. Completed payments are left
// alone.
func (s *Service) markFailed(ctx context.Context, paymentID, reason string) (*Payment, error) {
	return store.Mutate(ctx, s.records, Collection, paymentID, func(p *Payment) error {
		if p.Status != StatusPending {
			return store.ErrSkipWrite
		}
		p.Status = StatusFailed
		p.FailureReason = reason
		p.UpdatedAt = time.Now().UTC()
		return nil
	})
}

// callGateway bounds a gateway call by the configured timeout.
func (s *Service) callGateway(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	err := fn(ctx)
	if err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)) {
		return fmt.Errorf("%w: %w", ErrGatewayTimeout, err)
	}
	return err
}
