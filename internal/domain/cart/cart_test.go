package cart

import (
	"context"
	"testing"

	"github.com/example/ec-fulfillment/internal/catalog"
	"github.com/example/ec-fulfillment/internal/domain/errs"
	"github.com/example/ec-fulfillment/internal/infrastructure/store"
	"github.com/example/ec-fulfillment/internal/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCartService(t *testing.T) (*Service, *catalog.Service) {
	t.Helper()
	rs := store.NewMemoryRecordStore()
	cat := catalog.NewService(rs)
	ctx := context.Background()
	for _, p := range []catalog.Product{
		{ID: "prod-x", Name: "X", Price: money.MustParse("10.00"), InStock: true, Stock: 10},
		{ID: "prod-y", Name: "Y", Price: money.MustParse("2.50"), InStock: true, Stock: 10},
		{ID: "prod-gone", Name: "Gone", Price: money.MustParse("5.00"), InStock: false},
	} {
		_, err := cat.Put(ctx, p)
		require.NoError(t, err)
	}
	return NewService(rs, cat), cat
}

func assertMoney(t *testing.T, want string, got interface{ StringFixed(int32) string }) {
	t.Helper()
	assert.Equal(t, want, got.StringFixed(2))
}

// ============================================
// GetOrCreate Tests
// ============================================

func TestService_GetOrCreate(t *testing.T) {
	s, _ := newTestCartService(t)
	ctx := context.Background()

	c1, err := s.GetOrCreate(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, c1.IsEmpty())
	assertMoney(t, "0.00", c1.Total)

	c2, err := s.GetOrCreate(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, c1.ID, c2.ID)
}

// ============================================
// AddItem Tests
// ============================================

func TestService_AddItem_TotalsScenario(t *testing.T) {
	s, _ := newTestCartService(t)

	c, err := s.AddItem(context.Background(), "user-1", "prod-x", 2)
	require.NoError(t, err)

	require.Len(t, c.Items, 1)
	assertMoney(t, "20.00", c.Subtotal)
	assertMoney(t, "3.60", c.Tax)
	assertMoney(t, "0.00", c.Discount)
	assertMoney(t, "23.60", c.Total)
	assert.Equal(t, 2, c.ItemCount)
}

func TestService_AddItem_MergesExistingLine(t *testing.T) {
	s, _ := newTestCartService(t)
	ctx := context.Background()

	_, err := s.AddItem(ctx, "user-1", "prod-x", 1)
	require.NoError(t, err)
	_, err = s.AddItem(ctx, "user-1", "prod-y", 3)
	require.NoError(t, err)
	c, err := s.AddItem(ctx, "user-1", "prod-x", 2)
	require.NoError(t, err)

	require.Len(t, c.Items, 2)
	assert.Equal(t, 3, c.Items[0].Quantity)
	assert.Equal(t, 6, c.ItemCount)
	assertMoney(t, "37.50", c.Subtotal)
	assertMoney(t, "6.75", c.Tax)
	assertMoney(t, "44.25", c.Total)
}

func TestService_AddItem_SnapshotsPrice(t *testing.T) {
	s, cat := newTestCartService(t)
	ctx := context.Background()
	_, err := s.AddItem(ctx, "user-1", "prod-x", 1)
	require.NoError(t, err)

	_, err = cat.Put(ctx, catalog.Product{ID: "prod-x", Name: "X", Price: money.MustParse("99.00"), InStock: true})
	require.NoError(t, err)
	c, err := s.AddItem(ctx, "user-1", "prod-x", 1)
	require.NoError(t, err)

	assertMoney(t, "10.00", c.Items[0].Price)
	assertMoney(t, "20.00", c.Subtotal)
}

func TestService_AddItem_Errors(t *testing.T) {
	s, _ := newTestCartService(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		productID string
		qty       int
		wantErr   error
		wantKind  errs.Kind
	}{
		{"zero quantity", "prod-x", 0, ErrInvalidQuantity, errs.ValidationFailed},
		{"negative quantity", "prod-x", -1, ErrInvalidQuantity, errs.ValidationFailed},
		{"empty product", "", 1, ErrInvalidProduct, errs.ValidationFailed},
		{"unknown product", "nope", 1, ErrProductNotFound, errs.NotFound},
		{"out of stock", "prod-gone", 1, ErrOutOfStock, errs.Conflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.AddItem(ctx, "user-1", tt.productID, tt.qty)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantKind, errs.KindOf(err))
		})
	}
}

// ============================================
// SetItemQuantity / RemoveItem / Clear Tests
// ============================================

func TestService_SetItemQuantity(t *testing.T) {
	s, _ := newTestCartService(t)
	ctx := context.Background()
	_, err := s.AddItem(ctx, "user-1", "prod-x", 1)
	require.NoError(t, err)

	c, err := s.SetItemQuantity(ctx, "user-1", "prod-x", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, c.ItemCount)
	assertMoney(t, "50.00", c.Subtotal)

	c, err = s.SetItemQuantity(ctx, "user-1", "prod-x", 0)
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
	assertMoney(t, "0.00", c.Total)
}

func TestService_SetItemQuantity_MissingLine(t *testing.T) {
	s, _ := newTestCartService(t)

	_, err := s.SetItemQuantity(context.Background(), "user-1", "prod-x", 2)
	assert.ErrorIs(t, err, ErrItemNotFound)
	assert.ErrorIs(t, err, errs.NotFound)
}

func TestService_RemoveItem(t *testing.T) {
	s, _ := newTestCartService(t)
	ctx := context.Background()
	_, err := s.AddItem(ctx, "user-1", "prod-x", 1)
	require.NoError(t, err)
	_, err = s.AddItem(ctx, "user-1", "prod-y", 2)
	require.NoError(t, err)

	c, err := s.RemoveItem(ctx, "user-1", "prod-x")
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, "prod-y", c.Items[0].ProductID)

	_, err = s.RemoveItem(ctx, "user-1", "prod-x")
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestService_Clear(t *testing.T) {
	s, _ := newTestCartService(t)
	ctx := context.Background()
	before, err := s.AddItem(ctx, "user-1", "prod-x", 2)
	require.NoError(t, err)

	c, err := s.Clear(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
	assert.Equal(t, before.ID, c.ID)
	assert.Equal(t, 0, c.ItemCount)

	c, err = s.Clear(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
}
