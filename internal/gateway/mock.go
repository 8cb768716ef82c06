package gateway

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// MockKeyID is reported to checkout clients when no gateway is configured.
const MockKeyID = "rzp_test_mock"

// Mock stands in for the processor in development. Remote order ids look like
// order_mock_<16 hex>. Every signature is accepted unless FailVerify is set.
type Mock struct {
	FailVerify bool
}

func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) Name() string  { return "mock" }
func (m *Mock) KeyID() string { return MockKeyID }

func (m *Mock) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*RemoteOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &RemoteOrder{
		ID:       "order_mock_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:16],
		Amount:   amountMinor,
		Currency: currency,
		Receipt:  receipt,
	}, nil
}

func (m *Mock) VerifyPayment(ctx context.Context, orderRef, paymentRef, signature string) error {
	if m.FailVerify {
		return ErrSignatureMismatch
	}
	return nil
}
