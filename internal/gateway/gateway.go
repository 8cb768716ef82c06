// Package gateway talks to the payment processor: remote order creation,
// checkout signature verification and webhook authentication.
package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/example/ec-fulfillment/internal/domain/errs"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var (
	ErrSignatureMismatch   = errs.New(errs.SignatureInvalid, "payment signature mismatch")
	ErrInvalidSignature    = errs.New(errs.SignatureInvalid, "invalid webhook signature")
	ErrWebhookNotSupported = errs.New(errs.SignatureInvalid, "webhook secret not configured")
	ErrUnavailable         = errs.New(errs.GatewayUnavailable, "payment gateway unavailable")
	ErrInvalidPayload      = errs.New(errs.ValidationFailed, "invalid webhook payload")
)

// RemoteOrder is the processor-side handle a checkout pays against.
type RemoteOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

// Gateway is the payment processor contract.
type Gateway interface {
	// Name identifies the implementation ("razorpay" or "mock").
	Name() string
	// KeyID is the public key handed to the checkout client.
	KeyID() string
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*RemoteOrder, error)
	// VerifyPayment returns ErrSignatureMismatch when the checkout signature
	// does not match.
	VerifyPayment(ctx context.Context, orderRef, paymentRef, signature string) error
}

type Config struct {
	KeyID     string
	KeySecret string
	BaseURL   string
	Timeout   time.Duration
}

// New returns the Razorpay client when credentials are configured and the
// isolated mock gateway otherwise.
func New(cfg Config) Gateway {
	if cfg.KeyID == "" || cfg.KeySecret == "" {
		return NewMock()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	return NewRazorpay(cfg.KeyID, cfg.KeySecret, cfg.BaseURL, client)
}

// Sign returns the hex HMAC-SHA256 of msg under secret.
func Sign(secret string, msg []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignPayment computes the checkout signature over "orderRef|paymentRef".
func SignPayment(secret, orderRef, paymentRef string) string {
	return Sign(secret, []byte(orderRef+"|"+paymentRef))
}

func verify(secret string, msg []byte, signature string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(msg)
	return hmac.Equal(mac.Sum(nil), want)
}

// VerifyWebhook authenticates a webhook body against its signature header.
// An empty secret rejects every delivery.
func VerifyWebhook(secret string, body []byte, signature string) error {
	if secret == "" {
		return ErrWebhookNotSupported
	}
	if signature == "" || !verify(secret, body, signature) {
		return ErrInvalidSignature
	}
	return nil
}
