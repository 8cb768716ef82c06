package catalog

import (
	"context"
	"testing"

	"github.com/example/ec-fulfillment/internal/domain/errs"
	"github.com/example/ec-fulfillment/internal/infrastructure/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCatalog() *Service {
	return NewService(store.NewMemoryRecordStore())
}

func TestService_PutAndGet(t *testing.T) {
	s := newTestCatalog()
	ctx := context.Background()

	_, err := s.Put(ctx, Product{ID: "p1", Name: "Mug", Price: decimal.RequireFromString("10.005"), InStock: true, Stock: 3})
	require.NoError(t, err)

	p, err := s.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Mug", p.Name)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("10.01")))

	_, err = s.Put(ctx, Product{ID: "p1", Name: "Big Mug", Price: decimal.NewFromInt(12)})
	require.NoError(t, err)
	p, err = s.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Big Mug", p.Name)
	assert.Equal(t, 3, p.Stock)
	assert.True(t, p.InStock)
}

func TestService_GetProduct_NotFound(t *testing.T) {
	_, err := newTestCatalog().GetProduct(context.Background(), "nope")

	assert.ErrorIs(t, err, ErrProductNotFound)
	assert.ErrorIs(t, err, errs.NotFound)
}

func TestService_Put_Invalid(t *testing.T) {
	_, err := newTestCatalog().Put(context.Background(), Product{ID: "p1"})

	assert.ErrorIs(t, err, errs.ValidationFailed)
}

func TestService_SetStock(t *testing.T) {
	s := newTestCatalog()
	ctx := context.Background()
	_, err := s.Put(ctx, Product{ID: "p1", Name: "Mug", Price: decimal.NewFromInt(10), InStock: true, Stock: 3})
	require.NoError(t, err)

	require.NoError(t, s.SetStock(ctx, "p1", 0, false))

	p, err := s.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, p.Stock)
	assert.False(t, p.InStock)

	assert.ErrorIs(t, s.SetStock(ctx, "missing", 1, true), ErrProductNotFound)
}
