package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const DefaultRazorpayURL = "https://api.razorpay.com"

// Razorpay is the HTTP client for the Razorpay orders API.
type Razorpay struct {
	keyID     string
	keySecret string
	baseURL   string
	client    *http.Client
}

func NewRazorpay(keyID, keySecret, baseURL string, client *http.Client) *Razorpay {
	if baseURL == "" {
		baseURL = DefaultRazorpayURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Razorpay{
		keyID:     keyID,
		keySecret: keySecret,
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    client,
	}
}

func (r *Razorpay) Name() string  { return "razorpay" }
func (r *Razorpay) KeyID() string { return r.keyID }

type createOrderRequest struct {
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Receipt        string `json:"receipt"`
	PaymentCapture int    `json:"payment_capture"`
}

func (r *Razorpay) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*RemoteOrder, error) {
	body, err := json.Marshal(createOrderRequest{
		Amount:         amountMinor,
		Currency:       currency,
		Receipt:        receipt,
		PaymentCapture: 1,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(r.keyID, r.keySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: create order returned %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out RemoteOrder
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if out.ID == "" {
		return nil, fmt.Errorf("%w: response has no order id", ErrUnavailable)
	}
	return &out, nil
}

// VerifyPayment checks the checkout signature locally with the key secret.
func (r *Razorpay) VerifyPayment(ctx context.Context, orderRef, paymentRef, signature string) error {
	if !verify(r.keySecret, []byte(orderRef+"|"+paymentRef), signature) {
		return ErrSignatureMismatch
	}
	return nil
}
