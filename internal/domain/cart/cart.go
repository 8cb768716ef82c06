package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/ec-fulfillment/internal/catalog"
	"github.com/example/ec-fulfillment/internal/domain/errs"
	"github.com/example/ec-fulfillment/internal/infrastructure/store"
	"github.com/example/ec-fulfillment/internal/money"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Collection holds one cart per user, keyed by user id.
const Collection = "carts"

// TaxRate is the flat GST applied to the subtotal.
var TaxRate = decimal.RequireFromString("0.18")

var (
	ErrInvalidQuantity = errs.New(errs.ValidationFailed, "quantity must be positive")
	ErrInvalidProduct  = errs.New(errs.ValidationFailed, "product_id is required")
	ErrProductNotFound = errs.New(errs.NotFound, "product not found")
	ErrOutOfStock      = errs.New(errs.Conflict, "product is out of stock")
	ErrItemNotFound    = errs.New(errs.NotFound, "item not in cart")
)

type Item struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Name      string          `json:"name"`
	Image     string          `json:"image,omitempty"`
}

type Cart struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Items     []Item          `json:"items"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Tax       decimal.Decimal `json:"tax"`
	Discount  decimal.Decimal `json:"discount"`
	Total     decimal.Decimal `json:"total"`
	ItemCount int             `json:"item_count"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

func (c *Cart) find(productID string) int {
	for i, it := range c.Items {
		if it.ProductID == productID {
			return i
		}
	}
	return -1
}

// recalculate derives every total from the current lines.
func (c *Cart) recalculate() {
	subtotal := decimal.Zero
	count := 0
	for _, it := range c.Items {
		subtotal = subtotal.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
		count += it.Quantity
	}
	c.Subtotal = money.Round2(subtotal)
	c.Tax = money.Percent(c.Subtotal, TaxRate)
	c.Total = money.Round2(c.Subtotal.Add(c.Tax).Sub(c.Discount))
	c.ItemCount = count
	c.UpdatedAt = time.Now().UTC()
}

// ProductSource resolves the current catalog view of a product.
type ProductSource interface {
	GetProduct(ctx context.Context, id string) (*catalog.Product, error)
}

type Service struct {
	records  store.RecordStoreInterface
	products ProductSource
}

func NewService(rs store.RecordStoreInterface, products ProductSource) *Service {
	return &Service{records: rs, products: products}
}

// GetOrCreate returns the user's cart, creating an empty one on first use.
func (s *Service) GetOrCreate(ctx context.Context, userID string) (*Cart, error) {
	c, _, err := store.Load[Cart](ctx, s.records, Collection, userID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	c = &Cart{ID: uuid.New().String(), UserID: userID, Items: []Item{}}
	c.recalculate()
	if _, err := s.records.Create(ctx, Collection, userID, c); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			c, _, err = store.Load[Cart](ctx, s.records, Collection, userID)
			return c, err
		}
		return nil, err
	}
	return c, nil
}

// AddItem adds qty of a product, merging with an existing line. A new line
// snapshots the product's current price, name and image.
func (s *Service) AddItem(ctx context.Context, userID, productID string, qty int) (*Cart, error) {
	if productID == "" {
		return nil, ErrInvalidProduct
	}
	if qty < 1 {
		return nil, ErrInvalidQuantity
	}
	p, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
		}
		return nil, err
	}
	if !p.InStock {
		return nil, fmt.Errorf("%w: %s", ErrOutOfStock, p.Name)
	}

	return s.mutate(ctx, userID, func(c *Cart) error {
		if i := c.find(productID); i >= 0 {
			c.Items[i].Quantity += qty
			return nil
		}
		c.Items = append(c.Items, Item{
			ProductID: p.ID,
			Quantity:  qty,
			Price:     p.Price,
			Name:      p.Name,
			Image:     p.Image,
		})
		return nil
	})
}

// SetItemQuantity replaces a line's quantity; zero removes the line.
func (s *Service) SetItemQuantity(ctx context.Context, userID, productID string, qty int) (*Cart, error) {
	if qty < 0 {
		return nil, ErrInvalidQuantity
	}
	return s.mutate(ctx, userID, func(c *Cart) error {
		i := c.find(productID)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrItemNotFound, productID)
		}
		if qty == 0 {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return nil
		}
		c.Items[i].Quantity = qty
		return nil
	})
}

// RemoveItem drops a line from the cart.
func (s *Service) RemoveItem(ctx context.Context, userID, productID string) (*Cart, error) {
	return s.SetItemQuantity(ctx, userID, productID, 0)
}

// Clear empties the cart but keeps it.
func (s *Service) Clear(ctx context.Context, userID string) (*Cart, error) {
	return s.mutate(ctx, userID, func(c *Cart) error {
		if c.IsEmpty() {
			return store.ErrSkipWrite
		}
		c.Items = []Item{}
		return nil
	})
}

func (s *Service) mutate(ctx context.Context, userID string, fn func(*Cart) error) (*Cart, error) {
	if _, err := s.GetOrCreate(ctx, userID); err != nil {
		return nil, err
	}
	return store.Mutate(ctx, s.records, Collection, userID, func(c *Cart) error {
		if err := fn(c); err != nil {
			return err
		}
		c.recalculate()
		return nil
	})
}
