package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// StockLevel is the read view of a record joined with its product name.
type StockLevel struct {
	ProductID         string    `json:"product_id"`
	ProductName       string    `json:"product_name,omitempty"`
	Quantity          int       `json:"quantity"`
	Reserved          int       `json:"reserved"`
	Available         int       `json:"available"`
	LowStockThreshold int       `json:"low_stock_threshold"`
	IsLowStock        bool      `json:"is_low_stock"`
	IsOutOfStock      bool      `json:"is_out_of_stock"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Reconciliation compares the stored quantity with a replay of the movement log.
type Reconciliation struct {
	ProductID        string `json:"product_id"`
	StoredQuantity   int    `json:"stored_quantity"`
	ReplayedQuantity int    `json:"replayed_quantity"`
	Movements        int    `json:"movements"`
	Consistent       bool   `json:"consistent"`
}

func (s *Service) level(ctx context.Context, rec *Record) StockLevel {
	level := StockLevel{
		ProductID:         rec.ProductID,
		Quantity:          rec.Quantity,
		Reserved:          rec.Reserved,
		Available:         rec.Available(),
		LowStockThreshold: rec.LowStockThreshold,
		IsLowStock:        rec.IsLowStock(),
		IsOutOfStock:      rec.IsOutOfStock(),
		UpdatedAt:         rec.UpdatedAt,
	}
	if s.catalog != nil {
		if p, err := s.catalog.GetProduct(ctx, rec.ProductID); err == nil {
			level.ProductName = p.Name
		}
	}
	return level
}

// Movements returns the product's movement log in append order.
func (s *Service) Movements(ctx context.Context, productID string) ([]Movement, error) {
	events, err := s.movements.GetEvents(ctx, productID)
	if err != nil {
		return nil, err
	}
	out := make([]Movement, 0, len(events))
	for _, e := range events {
		if e.AggregateType != MovementAggregate {
			continue
		}
		var m Movement
		if err := json.Unmarshal(e.Data, &m); err != nil {
			return nil, fmt.Errorf("decode movement %s: %w", e.ID, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// Reconcile replays the movement log from zero and compares the result with
// the stored quantity.
func (s *Service) Reconcile(ctx context.Context, productID string) (*Reconciliation, error) {
	rec, err := s.load(ctx, productID)
	if err != nil {
		return nil, err
	}
	movements, err := s.Movements(ctx, productID)
	if err != nil {
		return nil, err
	}

	replayed := 0
	for _, m := range movements {
		replayed += m.QuantityChange
	}
	return &Reconciliation{
		ProductID:        productID,
		StoredQuantity:   rec.Quantity,
		ReplayedQuantity: replayed,
		Movements:        len(movements),
		Consistent:       replayed == rec.Quantity,
	}, nil
}
