package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/ec-fulfillment/internal/auth"
	"github.com/example/ec-fulfillment/internal/catalog"
	"github.com/example/ec-fulfillment/internal/command"
	"github.com/example/ec-fulfillment/internal/domain/cart"
	"github.com/example/ec-fulfillment/internal/domain/errs"
	"github.com/example/ec-fulfillment/internal/domain/inventory"
	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/example/ec-fulfillment/internal/domain/payment"
	"github.com/example/ec-fulfillment/internal/gateway"
	"github.com/example/ec-fulfillment/internal/infrastructure/redisx"
	"github.com/example/ec-fulfillment/internal/infrastructure/store"
	"github.com/example/ec-fulfillment/internal/money"
	"github.com/example/ec-fulfillment/internal/notification"
	"github.com/example/ec-fulfillment/internal/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const webhookSecret = "whsec_api_test"

type apiEnv struct {
	server  http.Handler
	tokens  *auth.TokenValidator
	catalog *catalog.Service
}

func newTestAPI(t *testing.T) *apiEnv {
	t.Helper()
	logger := zap.NewNop()
	rs := store.NewMemoryRecordStore()
	es := store.NewEventStore(nil, logger)

	catalogSvc := catalog.NewService(rs)
	ledger := inventory.NewService(rs, es, catalogSvc, logger)
	carts := cart.NewService(rs, catalogSvc)
	orders := order.NewService(rs)
	payments := payment.NewService(rs, orders, gateway.NewMock(), redisx.NewMemoryDeduper(time.Hour),
		payment.Config{WebhookSecret: webhookSecret}, logger)

	cmd := command.NewHandler(carts, orders, ledger, payments, notification.NewLogNotifier(logger), notification.NewDirectory(rs), logger)
	q := query.NewHandler(carts, orders, ledger, payments)
	tokens := auth.NewTokenValidator("api-test-secret", "")

	return &apiEnv{
		server:  NewRouter(NewHandlers(cmd, q, logger).WithDirectory(catalogSvc, notification.NewDirectory(rs)), tokens, logger),
		tokens:  tokens,
		catalog: catalogSvc,
	}
}

func (e *apiEnv) token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := e.tokens.Issue(userID, userID+"@example.com", role, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *apiEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// seed puts a product in the catalog and opens its stock through the API.
func (e *apiEnv) seed(t *testing.T, productID string, qty int) {
	t.Helper()
	_, err := e.catalog.Put(context.Background(), catalog.Product{
		ID: productID, Name: "Masala Tea", Price: money.MustParse("10.00"), InStock: true,
	})
	require.NoError(t, err)
	rec := e.do(t, http.MethodPost, "/inventory", e.token(t, "admin-1", auth.RoleAdmin),
		map[string]any{"product_id": productID, "quantity": qty, "low_stock_threshold": 2})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

var shippingAddress = map[string]string{
	"full_name":     "Asha Rao",
	"phone":         "9999999999",
	"address_line1": "12 MG Road",
	"city":          "Pune",
	"state":         "MH",
	"pincode":       "411001",
}

// ============================================
// Routing & Auth Tests
// ============================================

func TestRouter_Healthz(t *testing.T) {
	env := newTestAPI(t)

	rec := env.do(t, http.MethodGet, "/healthz", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestRouter_RequiresAuth(t *testing.T) {
	env := newTestAPI(t)

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/cart", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/orders", "", nil).Code)
}

func TestRouter_AdminOnly(t *testing.T) {
	env := newTestAPI(t)
	customer := env.token(t, "user-1", auth.RoleCustomer)

	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodGet, "/inventory/alerts/low-stock", customer, nil).Code)
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPut, "/orders/x/status", customer, map[string]string{"status": "shipped"}).Code)
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPost, "/inventory/adjust", customer, nil).Code)
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodGet, "/orders/alerts/unsettled", customer, nil).Code)
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPost, "/orders/x/settle-stock", customer, nil).Code)
}

// ============================================
// Checkout Flow Tests
// ============================================

func TestAPI_CheckoutFlow(t *testing.T) {
	env := newTestAPI(t)
	env.seed(t, "prod-1", 5)
	user := env.token(t, "user-1", auth.RoleCustomer)

	rec := env.do(t, http.MethodGet, "/inventory/prod-1/available", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(5), decodeBody[map[string]any](t, rec)["available"])

	rec = env.do(t, http.MethodPost, "/cart/items", user, map[string]any{"product_id": "prod-1", "quantity": 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	c := decodeBody[cart.Cart](t, rec)
	assert.Equal(t, "23.60", c.Total.StringFixed(2))

	rec = env.do(t, http.MethodPost, "/orders", user, map[string]any{"shipping_address": shippingAddress})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	o := decodeBody[order.Order](t, rec)
	assert.Equal(t, "73.60", o.Total.StringFixed(2))

	rec = env.do(t, http.MethodGet, "/orders/number/"+o.OrderNumber, user, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	other := env.token(t, "user-2", auth.RoleCustomer)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/orders/"+o.ID, other, nil).Code)

	rec = env.do(t, http.MethodPost, "/payments/create/"+o.ID, user, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	co := decodeBody[payment.Checkout](t, rec)
	assert.Equal(t, int64(7360), co.AmountMinor)

	rec = env.do(t, http.MethodPost, "/payments/verify", user, map[string]string{
		"razorpay_order_id":   co.GatewayOrderID,
		"razorpay_payment_id": "pay_1",
		"razorpay_signature":  "sig",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/orders/"+o.ID, user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[order.Order](t, rec)
	assert.Equal(t, order.StatusConfirmed, got.Status)
	assert.Equal(t, order.PaymentCompleted, got.PaymentStatus)

	rec = env.do(t, http.MethodPost, "/payments/create/"+o.ID, user, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodGet, "/payments/order/"+o.ID, user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, payment.StatusCompleted, decodeBody[payment.Payment](t, rec).Status)

	page := decodeBody[order.Page](t, env.do(t, http.MethodGet, "/orders?status=confirmed", user, nil))
	assert.Equal(t, 1, page.Total)

	rec = env.do(t, http.MethodGet, "/cart", user, nil)
	gotCart := decodeBody[cart.Cart](t, rec)
	assert.True(t, gotCart.IsEmpty())
}

func TestAPI_CancelAndStatus(t *testing.T) {
	env := newTestAPI(t)
	env.seed(t, "prod-1", 5)
	user := env.token(t, "user-1", auth.RoleCustomer)
	admin := env.token(t, "admin-1", auth.RoleAdmin)

	env.do(t, http.MethodPost, "/cart/items", user, map[string]any{"product_id": "prod-1", "quantity": 1})
	o := decodeBody[order.Order](t, env.do(t, http.MethodPost, "/orders", user, map[string]any{"shipping_address": shippingAddress}))

	rec := env.do(t, http.MethodPut, "/orders/"+o.ID+"/status", admin, map[string]string{"status": "shipped", "tracking_number": "TRK-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/orders/"+o.ID+"/cancel", user, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(errs.Conflict), decodeBody[map[string]string](t, rec)["kind"])

	rec = env.do(t, http.MethodPut, "/orders/"+o.ID+"/status", admin, map[string]string{"status": "teleported"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_StockSettlement(t *testing.T) {
	env := newTestAPI(t)
	env.seed(t, "prod-1", 5)
	user := env.token(t, "user-1", auth.RoleCustomer)
	admin := env.token(t, "admin-1", auth.RoleAdmin)

	env.do(t, http.MethodPost, "/cart/items", user, map[string]any{"product_id": "prod-1", "quantity": 1})
	o := decodeBody[order.Order](t, env.do(t, http.MethodPost, "/orders", user, map[string]any{"shipping_address": shippingAddress}))

	rec := env.do(t, http.MethodGet, "/orders/alerts/unsettled", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(0), decodeBody[map[string]any](t, rec)["count"])

	rec = env.do(t, http.MethodPost, "/orders/"+o.ID+"/settle-stock", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	settled := decodeBody[order.Order](t, rec)
	assert.Equal(t, order.StatusPending, settled.Status)
	assert.Empty(t, settled.UnsettledItems)

	rec = env.do(t, http.MethodPost, "/orders/missing/settle-stock", admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_Validation(t *testing.T) {
	env := newTestAPI(t)
	user := env.token(t, "user-1", auth.RoleCustomer)

	rec := env.do(t, http.MethodPost, "/orders", user, map[string]any{"shipping_address": shippingAddress})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "empty cart")

	req := httptest.NewRequest(http.MethodPost, "/cart/items", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", "Bearer "+user)
	out := httptest.NewRecorder()
	env.server.ServeHTTP(out, req)
	assert.Equal(t, http.StatusBadRequest, out.Code)

	rec = env.do(t, http.MethodPost, "/cart/items", user, map[string]any{"product_id": "nope", "quantity": 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, "/cart/items/nope", user, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_AdminInventory(t *testing.T) {
	env := newTestAPI(t)
	env.seed(t, "prod-1", 5)
	admin := env.token(t, "admin-1", auth.RoleAdmin)

	rec := env.do(t, http.MethodPost, "/inventory/adjust", admin, map[string]any{"product_id": "prod-1", "quantity_change": -4, "reason": "damaged"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/inventory/alerts/low-stock", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody[map[string]any](t, rec)["count"])

	rec = env.do(t, http.MethodGet, "/inventory/prod-1/reconcile", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody[map[string]any](t, rec)["consistent"])

	rec = env.do(t, http.MethodGet, "/inventory/prod-1/movements", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]inventory.Movement](t, rec), 2)

	rec = env.do(t, http.MethodPost, "/inventory/adjust", admin, map[string]any{"product_id": "prod-1", "quantity_change": -10})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodGet, "/inventory/missing", admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ============================================
// Webhook Tests
// ============================================

func TestAPI_Webhook(t *testing.T) {
	env := newTestAPI(t)
	body := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_unknown"}}}}`)

	post := func(sig string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewReader(body))
		req.Header.Set(SignatureHeader, sig)
		rec := httptest.NewRecorder()
		env.server.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, post("bad").Code)
	assert.Equal(t, http.StatusUnauthorized, post("").Code)

	rec := post(gateway.Sign(webhookSecret, body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decodeBody[map[string]any](t, rec)["ignored"])
}

// ============================================
// Error Mapping Tests
// ============================================

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{order.ErrOrderNotFound, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", inventory.ErrInsufficientStock), http.StatusConflict},
		{cart.ErrInvalidQuantity, http.StatusBadRequest},
		{payment.ErrVerificationFailed, http.StatusBadRequest},
		{payment.ErrGatewayTimeout, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

// ============================================
// Catalog & Contact Tests
// ============================================

func TestDirectory_PutProduct_AdminOnly(t *testing.T) {
	env := newTestAPI(t)
	body := map[string]any{"name": "Filter Coffee", "price": "120.50"}

	rec := env.do(t, http.MethodPut, "/catalog/products/p-coffee", env.token(t, "u1", auth.RoleCustomer), body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPut, "/catalog/products/p-coffee", env.token(t, "admin-1", auth.RoleAdmin), body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/catalog/products/p-coffee", env.token(t, "u1", auth.RoleCustomer), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	p := decodeBody[catalog.Product](t, rec)
	assert.Equal(t, "Filter Coffee", p.Name)
	assert.Equal(t, "120.5", p.Price.String())
}

func TestDirectory_PutProduct_Invalid(t *testing.T) {
	env := newTestAPI(t)

	rec := env.do(t, http.MethodPut, "/catalog/products/p1", env.token(t, "admin-1", auth.RoleAdmin),
		map[string]any{"price": "1"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDirectory_Contact(t *testing.T) {
	env := newTestAPI(t)
	tok := env.token(t, "u1", auth.RoleCustomer)

	rec := env.do(t, http.MethodGet, "/me/contact", tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPut, "/me/contact", tok, map[string]string{"name": "Asha"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/me/contact", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	c := decodeBody[notification.Contact](t, rec)
	assert.Equal(t, "u1@example.com", c.Email)
	assert.Equal(t, "Asha", c.Name)
}
