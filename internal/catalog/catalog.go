// Package catalog is the product view the fulfillment flow reads prices from
// and mirrors stock levels into.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/example/ec-fulfillment/internal/domain/errs"
	"github.com/example/ec-fulfillment/internal/infrastructure/store"
	"github.com/shopspring/decimal"
)

// Collection holds one record per product.
const Collection = "products"

var (
	ErrProductNotFound = errs.New(errs.NotFound, "product not found")
	ErrInvalidProduct  = errs.New(errs.ValidationFailed, "invalid product")
)

type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Image     string          `json:"image,omitempty"`
	InStock   bool            `json:"in_stock"`
	Stock     int             `json:"stock"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Service struct {
	records store.RecordStoreInterface
}

func NewService(rs store.RecordStoreInterface) *Service {
	return &Service{records: rs}
}

// GetProduct returns ErrProductNotFound for unknown ids.
func (s *Service) GetProduct(ctx context.Context, id string) (*Product, error) {
	p, _, err := store.Load[Product](ctx, s.records, Collection, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrProductNotFound
	}
	return p, err
}

// Put creates or replaces a product. Replacing keeps the stock fields, which
// only the ledger writes after creation.
func (s *Service) Put(ctx context.Context, p Product) (*Product, error) {
	if p.ID == "" || p.Name == "" || p.Price.IsNegative() {
		return nil, ErrInvalidProduct
	}
	p.Price = p.Price.Round(2)
	p.UpdatedAt = time.Now().UTC()

	_, err := s.records.Create(ctx, Collection, p.ID, p)
	if errors.Is(err, store.ErrAlreadyExists) {
		_, err = store.Mutate(ctx, s.records, Collection, p.ID, func(cur *Product) error {
			p.Stock, p.InStock = cur.Stock, cur.InStock
			*cur = p
			return nil
		})
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SetStock mirrors the ledger quantity onto the product view.
func (s *Service) SetStock(ctx context.Context, id string, stock int, inStock bool) error {
	_, err := store.Mutate(ctx, s.records, Collection, id, func(p *Product) error {
		if p.Stock == stock && p.InStock == inStock {
			return store.ErrSkipWrite
		}
		p.Stock = stock
		p.InStock = inStock
		p.UpdatedAt = time.Now().UTC()
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return ErrProductNotFound
	}
	return err
}
