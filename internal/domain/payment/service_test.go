package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/ec-fulfillment/internal/domain/errs"
	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/example/ec-fulfillment/internal/gateway"
	"github.com/example/ec-fulfillment/internal/infrastructure/store"
	"github.com/example/ec-fulfillment/internal/infrastructure/store/mocks"
	"github.com/example/ec-fulfillment/internal/money"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const webhookSecret = "whsec_test"

// blockingGateway never answers until its context ends.
type blockingGateway struct{ gateway.Mock }

func (b *blockingGateway) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*gateway.RemoteOrder, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *blockingGateway) VerifyPayment(ctx context.Context, orderRef, paymentRef, signature string) error {
	<-ctx.Done()
	return ctx.Err()
}

type memoryDeduper struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (d *memoryDeduper) Seen(ctx context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.keys[key], nil
}

func (d *memoryDeduper) Mark(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys[key] = true
	return nil
}

// flakyGateway fails the first failures CreateOrder calls.
type flakyGateway struct {
	gateway.Mock
	failures int
}

func (g *flakyGateway) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*gateway.RemoteOrder, error) {
	if g.failures > 0 {
		g.failures--
		return nil, gateway.ErrUnavailable
	}
	return g.Mock.CreateOrder(ctx, amountMinor, currency, receipt)
}

type fixture struct {
	svc    *Service
	orders *order.Service
	gw     gateway.Gateway
	rs     store.RecordStoreInterface
}

func newTestPaymentService(t *testing.T, gw gateway.Gateway, dedup Deduper) *fixture {
	t.Helper()
	return newTestPaymentServiceOn(t, store.NewMemoryRecordStore(), gw, dedup)
}

func newTestPaymentServiceOn(t *testing.T, rs store.RecordStoreInterface, gw gateway.Gateway, dedup Deduper) *fixture {
	t.Helper()
	orders := order.NewService(rs)
	svc := NewService(rs, orders, gw, dedup, Config{
		WebhookSecret: webhookSecret,
		Timeout:       50 * time.Millisecond,
	}, zap.NewNop())
	return &fixture{svc: svc, orders: orders, gw: gw, rs: rs}
}

func (f *fixture) placeOrder(t *testing.T, userID string) *order.Order {
	t.Helper()
	o := &order.Order{
		UserID:        userID,
		Items:         []order.Item{order.NewItem("prod-1", "Widget", "", money.MustParse("10.00"), 2)},
		PaymentMethod: order.MethodRazorpay,
	}
	o.ApplyTotals(money.MustParse("20.00"), money.MustParse("3.60"), decimal.Zero)
	require.NoError(t, f.orders.Place(context.Background(), o))
	return o
}

func webhookBody(event, gatewayOrderID, paymentID string) []byte {
	return []byte(`{"event":"` + event + `","payload":{"payment":{"entity":{"id":"` + paymentID + `","order_id":"` + gatewayOrderID + `","amount":7360}}}}`)
}

// ============================================
// CreateGatewayOrder Tests
// ============================================

func TestService_CreateGatewayOrder_MockGateway(t *testing.T) {
	f := newTestPaymentService(t, gateway.NewMock(), nil)
	ctx := context.Background()
	o := f.placeOrder(t, "user-1")

	co, err := f.svc.CreateGatewayOrder(ctx, o.ID, "user-1")
	require.NoError(t, err)

	assert.Regexp(t, `^order_mock_[0-9a-f]{16}$`, co.GatewayOrderID)
	assert.Equal(t, int64(7360), co.AmountMinor)
	assert.Equal(t, DefaultCurrency, co.Currency)
	assert.Equal(t, gateway.MockKeyID, co.KeyID)
	assert.Equal(t, StatusPending, co.Payment.Status)
	assert.Equal(t, "mock", co.Payment.Gateway)

	stored, err := f.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, co.GatewayOrderID, stored.GatewayOrderID)

	byOrder, err := f.svc.GetByOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, co.Payment.ID, byOrder.ID)
}

func TestService_CreateGatewayOrder_ReusesPendingAttempt(t *testing.T) {
	f := newTestPaymentService(t, gateway.NewMock(), nil)
	ctx := context.Background()
	o := f.placeOrder(t, "user-1")

	first, err := f.svc.CreateGatewayOrder(ctx, o.ID, "user-1")
	require.NoError(t, err)
	second, err := f.svc.CreateGatewayOrder(ctx, o.ID, "user-1")
	require.NoError(t, err)

	assert.Equal(t, first.Payment.ID, second.Payment.ID)
	assert.Equal(t, first.GatewayOrderID, second.GatewayOrderID)
}

func TestService_CreateGatewayOrder_IndexFailureFreesSlot(t *testing.T) {
	rs := mocks.NewMockRecordStore()
	f := newTestPaymentServiceOn(t, rs, gateway.NewMock(), nil)
	ctx := context.Background()
	o := f.placeOrder(t, "user-1")

	rs.CreateErr[RefCollection] = errors.New("index unavailable")
	_, err := f.svc.CreateGatewayOrder(ctx, o.ID, "user-1")
	require.Error(t, err)
	delete(rs.CreateErr, RefCollection)

	_, err = f.svc.GetByOrder(ctx, o.ID)
	assert.ErrorIs(t, err, ErrPaymentNotFound)

	co, err := f.svc.CreateGatewayOrder(ctx, o.ID, "user-1")
	require.NoError(t, err)

	stored, err := f.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, co.GatewayOrderID, stored.GatewayOrderID)

	res, err := f.svc.HandleWebhook(ctx, webhookBody(gateway.EventPaymentCaptured, co.GatewayOrderID, "pay_1"),
		gateway.Sign(webhookSecret, webhookBody(gateway.EventPaymentCaptured, co.GatewayOrderID, "pay_1")))
	require.NoError(t, err)
	assert.False(t, res.Ignored)
	assert.True(t, res.NewlyCompleted)
}

func TestService_CreateGatewayOrder_StoreFailureFreesSlot(t *testing.T) {
	rs := mocks.NewMockRecordStore()
	f := newTestPaymentServiceOn(t, rs, gateway.NewMock(), nil)
	ctx := context.Background()
	o := f.placeOrder(t, "user-1")

	rs.CreateErr[Collection] = errors.New("payments unavailable")
	_, err := f.svc.CreateGatewayOrder(ctx, o.ID, "user-1")
	require.Error(t, err)
	delete(rs.CreateErr, Collection)

	co, err := f.svc.CreateGatewayOrder(ctx, o.ID, "user-1")
	require.NoError(t, err)

	p, err := f.svc.Verify(ctx, co.GatewayOrderID, "pay_2", "sig", "user-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, p.Status)
}

func TestService_CreateGatewayOrder_UnrecordedFailureFreesSlot(t *testing.T) {
	rs := mocks.NewMockRecordStore()
	gw := &flakyGateway{failures: 1}
	f := newTestPaymentServiceOn(t, rs, gw, nil)
	ctx := context.Background()
	o := f.placeOrder(t, "user-1")

	rs.CreateErr[Collection] = errors.New("payments unavailable")
	_, err := f.svc.CreateGatewayOrder(ctx, o.ID, "user-1")
	assert.ErrorIs(t, err, errs.GatewayUnavailable)
	delete(rs.CreateErr, Collection)

	co, err := f.svc.CreateGatewayOrder(ctx, o.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, co.Payment.Status)
}

func TestService_CreateGatewayOrder_ReuseRelinksAttempt(t *testing.T) {
	f := newTestPaymentService(t, gateway.NewMock(), nil)
	ctx := context.Background()
	o := f.placeOrder(t, "user-1")

	// A pending attempt stored without its index or order stamp.
	_, err := f.rs.Create(ctx, ActiveCollection, o.ID, pointer{PaymentID: "pay-orphan"})
	require.NoError(t, err)
	_, err = f.rs.Create(ctx, Collection, "pay-orphan", Payment{
		ID: "pay-orphan", OrderID: o.ID, UserID: "user-1", Status: StatusPending, GatewayOrderID: "order_orphan",
	})
	require.NoError(t, err)

	co, err := f.svc.CreateGatewayOrder(ctx, o.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "pay-orphan", co.Payment.ID)

	stored, err := f.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "order_orphan", stored.GatewayOrderID)

	p, err := f.svc.Verify(ctx, "order_orphan", "pay_3", "sig", "user-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, p.Status)
}

func TestService_CreateGatewayOrder_Errors(t *testing.T) {
	f := newTestPaymentService(t, gateway.NewMock(), nil)
	ctx := context.Background()

	_, err := f.svc.CreateGatewayOrder(ctx, "missing", "user-1")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)

	o := f.placeOrder(t, "user-1")
	_, err = f.svc.CreateGatewayOrder(ctx, o.ID, "user-2")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)

	_, err = f.orders.Update(ctx, o.ID, func(o *order.Order) error {
		o.PaymentStatus = order.PaymentCompleted
		return nil
	})
	require.NoError(t, err)
	_, err = f.svc.CreateGatewayOrder(ctx, o.ID, "user-1")
	assert.ErrorIs(t, err, ErrAlreadyPaid)
	assert.ErrorIs(t, err, errs.Conflict)

	cancelled := f.placeOrder(t, "user-1")
	_, err = f.orders.Update(ctx, cancelled.ID, func(o *order.Order) error {
		o.Status = order.StatusCancelled
		return nil
	})
	require.NoError(t, err)
	_, err = f.svc.CreateGatewayOrder(ctx, cancelled.ID, "user-1")
	assert.ErrorIs(t, err, ErrOrderNotPayable)
}

func TestService_CreateGatewayOrder_Timeout(t *testing.T) {
	f := newTestPaymentService(t, &blockingGateway{}, nil)
	ctx := context.Background()
	o := f.placeOrder(t, "user-1")

	_, err := f.svc.CreateGatewayOrder(ctx, o.ID, "user-1")
	assert.ErrorIs(t, err, ErrGatewayTimeout)
	assert.ErrorIs(t, err, errs.GatewayUnavailable)

	// The failed attempt is recorded and does not block a retry.
	p, err := f.svc.GetByOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, p.Status)

	f.svc.gateway = gateway.NewMock()
	co, err := f.svc.CreateGatewayOrder(ctx, o.ID, "user-1")
	require.NoError(t, err)
	assert.NotEqual(t, p.ID, co.Payment.ID)
}

// ============================================
// Verify Tests
// ============================================

func TestService_Verify_Success(t *testing.T) {
	f := newTestPaymentService(t, gateway.NewMock(), nil)
	ctx := context.Background()
	o := f.placeOrder(t, "user-1")
	co, err := f.svc.CreateGatewayOrder(ctx, o.ID, "user-1")
	require.NoError(t, err)

	p, err := f.svc.Verify(ctx, co.GatewayOrderID, "pay_123", "sig", "user-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, p.Status)
	assert.NotNil(t, p.CompletedAt)
	assert.Equal(t, "pay_123", p.GatewayPaymentID)

	stored, err := f.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentCompleted, stored.PaymentStatus)
	assert.Equal(t, "pay_123", stored.PaymentID)
	assert.Equal(t, order.StatusPending, stored.Status)

	_, err = f.svc.Verify(ctx, co.GatewayOrderID, "pay_123", "sig", "user-1")
	assert.ErrorIs(t, err, ErrAlreadyCompleted)
}

func TestService_Verify_RealSignature(t *testing.T) {
	rp := gateway.NewRazorpay("key", "secret", "http://unused", nil)
	f := newTestPaymentService(t, rp, nil)
	ctx := context.Background()
	o := f.placeOrder(t, "user-1")

	// Seed the attempt directly; the Razorpay client would need a server.
	_, err := f.rs.Create(ctx, Collection, "pay-rec", Payment{ID: "pay-rec", OrderID: o.ID, UserID: "user-1", Status: StatusPending, GatewayOrderID: "order_R1"})
	require.NoError(t, err)
	_, err = f.rs.Create(ctx, RefCollection, "order_R1", pointer{PaymentID: "pay-rec"})
	require.NoError(t, err)

	_, err = f.svc.Verify(ctx, "order_R1", "pay_R1", gateway.SignPayment("wrong", "order_R1", "pay_R1"), "user-1")
	assert.ErrorIs(t, err, ErrVerificationFailed)
	assert.ErrorIs(t, err, errs.SignatureInvalid)

	p, err := f.svc.Get(ctx, "pay-rec")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, p.Status)

	p, err = f.svc.Verify(ctx, "order_R1", "pay_R1", gateway.SignPayment("secret", "order_R1", "pay_R1"), "user-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, p.Status)
}

func TestService_Verify_Failure(t *testing.T) {
	gw := gateway.NewMock()
	f := newTestPaymentService(t, gw, nil)
	ctx := context.Background()
	o := f.placeOrder(t, "user-1")
	co, err := f.svc.CreateGatewayOrder(ctx, o.ID, "user-1")
	require.NoError(t, err)

	gw.FailVerify = true
	_, err = f.svc.Verify(ctx, co.GatewayOrderID, "pay_1", "bad", "user-1")
	assert.ErrorIs(t, err, ErrVerificationFailed)

	p, err := f.svc.GetByOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, p.Status)

	stored, err := f.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPending, stored.PaymentStatus)

	// A failed attempt frees the order for a new one.
	gw.FailVerify = false
	retry, err := f.svc.CreateGatewayOrder(ctx, o.ID, "user-1")
	require.NoError(t, err)
	assert.NotEqual(t, co.Payment.ID, retry.Payment.ID)
}

func TestService_Verify_NotFound(t *testing.T) {
	f := newTestPaymentService(t, gateway.NewMock(), nil)
	ctx := context.Background()

	_, err := f.svc.Verify(ctx, "order_unknown", "pay", "sig", "user-1")
	assert.ErrorIs(t, err, ErrPaymentNotFound)

	o := f.placeOrder(t, "user-1")
	co, err := f.svc.CreateGatewayOrder(ctx, o.ID, "user-1")
	require.NoError(t, err)
	_, err = f.svc.Verify(ctx, co.GatewayOrderID, "pay", "sig", "user-2")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestService_Verify_Timeout(t *testing.T) {
	f := newTestPaymentService(t, gateway.NewMock(), nil)
	ctx := context.Background()
	o := f.placeOrder(t, "user-1")
	co, err := f.svc.CreateGatewayOrder(ctx, o.ID, "user-1")
	require.NoError(t, err)

	f.svc.gateway = &blockingGateway{}
	_, err = f.svc.Verify(ctx, co.GatewayOrderID, "pay", "sig", "user-1")
	assert.ErrorIs(t, err, ErrGatewayTimeout)

	p, err := f.svc.Get(ctx, co.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, p.Status)
}

// ============================================
// Webhook Tests
// ============================================

func TestService_HandleWebhook_InvalidSignature(t *testing.T) {
	f := newTestPaymentService(t, gateway.NewMock(), nil)
	body := webhookBody(gateway.EventPaymentCaptured, "order_x", "pay_x")

	_, err := f.svc.HandleWebhook(context.Background(), body, "deadbeef")
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.ErrorIs(t, err, errs.SignatureInvalid)
}

func TestService_HandleWebhook_CapturedIsIdempotent(t *testing.T) {
	f := newTestPaymentService(t, gateway.NewMock(), nil)
	ctx := context.Background()
	o := f.placeOrder(t, "user-1")
	co, err := f.svc.CreateGatewayOrder(ctx, o.ID, "user-1")
	require.NoError(t, err)
	body := webhookBody(gateway.EventPaymentCaptured, co.GatewayOrderID, "pay_W1")
	sig := gateway.Sign(webhookSecret, body)

	first, err := f.svc.HandleWebhook(ctx, body, sig)
	require.NoError(t, err)
	assert.True(t, first.NewlyCompleted)
	assert.Equal(t, StatusCompleted, first.Payment.Status)

	second, err := f.svc.HandleWebhook(ctx, body, sig)
	require.NoError(t, err)
	assert.False(t, second.NewlyCompleted)
	assert.Equal(t, StatusCompleted, second.Payment.Status)

	stored, err := f.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentCompleted, stored.PaymentStatus)
	assert.Equal(t, "pay_W1", stored.PaymentID)
}

func TestService_HandleWebhook_DeduperShortCircuits(t *testing.T) {
	dedup := &memoryDeduper{keys: map[string]bool{}}
	f := newTestPaymentService(t, gateway.NewMock(), dedup)
	ctx := context.Background()
	o := f.placeOrder(t, "user-1")
	co, err := f.svc.CreateGatewayOrder(ctx, o.ID, "user-1")
	require.NoError(t, err)
	body := webhookBody(gateway.EventPaymentCaptured, co.GatewayOrderID, "pay_D1")
	sig := gateway.Sign(webhookSecret, body)

	_, err = f.svc.HandleWebhook(ctx, body, sig)
	require.NoError(t, err)
	again, err := f.svc.HandleWebhook(ctx, body, sig)
	require.NoError(t, err)

	assert.True(t, again.Duplicate)
	assert.False(t, again.NewlyCompleted)
}

func TestService_HandleWebhook_Failed(t *testing.T) {
	f := newTestPaymentService(t, gateway.NewMock(), nil)
	ctx := context.Background()
	o := f.placeOrder(t, "user-1")
	co, err := f.svc.CreateGatewayOrder(ctx, o.ID, "user-1")
	require.NoError(t, err)
	body := webhookBody(gateway.EventPaymentFailed, co.GatewayOrderID, "pay_F1")

	res, err := f.svc.HandleWebhook(ctx, body, gateway.Sign(webhookSecret, body))
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Payment.Status)
	assert.False(t, res.NewlyCompleted)
}

func TestService_HandleWebhook_FailedAfterCaptureDoesNotRegress(t *testing.T) {
	f := newTestPaymentService(t, gateway.NewMock(), nil)
	ctx := context.Background()
	o := f.placeOrder(t, "user-1")
	co, err := f.svc.CreateGatewayOrder(ctx, o.ID, "user-1")
	require.NoError(t, err)
	_, err = f.svc.Verify(ctx, co.GatewayOrderID, "pay_1", "sig", "user-1")
	require.NoError(t, err)

	body := webhookBody(gateway.EventPaymentFailed, co.GatewayOrderID, "pay_1")
	res, err := f.svc.HandleWebhook(ctx, body, gateway.Sign(webhookSecret, body))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Payment.Status)
}

func TestService_HandleWebhook_UnknownPaymentIgnored(t *testing.T) {
	f := newTestPaymentService(t, gateway.NewMock(), nil)
	body := webhookBody(gateway.EventPaymentCaptured, "order_nobody", "pay_x")

	res, err := f.svc.HandleWebhook(context.Background(), body, gateway.Sign(webhookSecret, body))
	require.NoError(t, err)
	assert.True(t, res.Ignored)
}

func TestService_HandleWebhook_OtherEventIgnored(t *testing.T) {
	f := newTestPaymentService(t, gateway.NewMock(), nil)
	body := []byte(`{"event":"refund.created"}`)

	res, err := f.svc.HandleWebhook(context.Background(), body, gateway.Sign(webhookSecret, body))
	require.NoError(t, err)
	assert.True(t, res.Ignored)
}

func TestService_HandleWebhook_NoSecretRejects(t *testing.T) {
	f := newTestPaymentService(t, gateway.NewMock(), nil)
	f.svc.cfg.WebhookSecret = ""
	body := webhookBody(gateway.EventPaymentCaptured, "order_x", "pay_x")

	_, err := f.svc.HandleWebhook(context.Background(), body, gateway.Sign("", body))
	assert.True(t, errors.Is(err, errs.SignatureInvalid))
}
