package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/example/ec-fulfillment/internal/catalog"
	"github.com/example/ec-fulfillment/internal/domain/errs"
	"github.com/example/ec-fulfillment/internal/infrastructure/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// Collection holds one inventory record per product.
	Collection = "inventory"

	DefaultLowStockThreshold = 10
)

var (
	ErrInventoryNotFound = errs.New(errs.NotFound, "inventory record not found")
	ErrInventoryExists   = errs.New(errs.Conflict, "inventory record already exists")
	ErrInsufficientStock = errs.New(errs.Conflict, "insufficient stock")
	ErrInvalidQuantity   = errs.New(errs.ValidationFailed, "quantity must be positive")
)

// Record is the stock position of one product. 0 <= Reserved <= Quantity.
type Record struct {
	ProductID         string    `json:"product_id"`
	Quantity          int       `json:"quantity"`
	Reserved          int       `json:"reserved"`
	LowStockThreshold int       `json:"low_stock_threshold"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (r *Record) Available() int {
	return r.Quantity - r.Reserved
}

func (r *Record) IsLowStock() bool {
	return r.Available() <= r.LowStockThreshold
}

func (r *Record) IsOutOfStock() bool {
	return r.Available() <= 0
}

// Catalog receives the denormalized stock level after quantity changes.
type Catalog interface {
	GetProduct(ctx context.Context, id string) (*catalog.Product, error)
	SetStock(ctx context.Context, id string, stock int, inStock bool) error
}

// Service is the stock ledger. Every operation is a compare-and-swap on the
// product's record followed by a movement append.
type Service struct {
	records   store.RecordStoreInterface
	movements store.EventStoreInterface
	catalog   Catalog
	logger    *zap.Logger
}

func NewService(rs store.RecordStoreInterface, es store.EventStoreInterface, c Catalog, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		records:   rs,
		movements: es,
		catalog:   c,
		logger:    logger.Named("inventory"),
	}
}

// Create opens a record for a product with an initial quantity.
func (s *Service) Create(ctx context.Context, productID string, quantity, threshold int, actor string) (*Record, error) {
	if quantity < 0 {
		return nil, ErrInvalidQuantity
	}
	if threshold <= 0 {
		threshold = DefaultLowStockThreshold
	}
	rec := Record{
		ProductID:         productID,
		Quantity:          quantity,
		LowStockThreshold: threshold,
		UpdatedAt:         time.Now().UTC(),
	}
	if _, err := s.records.Create(ctx, Collection, productID, rec); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, ErrInventoryExists
		}
		return nil, err
	}

	s.appendMovement(ctx, EventStockCreated, Movement{
		ProductID:      productID,
		QuantityChange: quantity,
		NewQuantity:    quantity,
		Reason:         reasonCreated,
		Actor:          actor,
	})
	s.syncCatalog(ctx, &rec)
	return &rec, nil
}

// Reserve moves qty from available to reserved.
func (s *Service) Reserve(ctx context.Context, productID string, qty int, orderRef string) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	_, err := s.apply(ctx, productID, EventStockReserved, reasonReserved, orderRef, "", func(r *Record) error {
		if r.Available() < qty {
			return fmt.Errorf("%w: product %s has %d available, %d requested",
				ErrInsufficientStock, productID, r.Available(), qty)
		}
		r.Reserved += qty
		return nil
	})
	return err
}

// Confirm converts a reservation into a deduction. It does not re-check
// availability; the caller must have reserved at least qty.
func (s *Service) Confirm(ctx context.Context, productID string, qty int, orderRef string) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	rec, err := s.apply(ctx, productID, EventStockConfirmed, reasonConfirmed, orderRef, "", func(r *Record) error {
		r.Quantity = max(r.Quantity-qty, 0)
		r.Reserved = min(max(r.Reserved-qty, 0), r.Quantity)
		return nil
	})
	if err != nil {
		return err
	}
	s.syncCatalog(ctx, rec)
	return nil
}

// Release gives reserved units back to available. Releasing more than is
// reserved clamps at zero, so a repeated release is harmless.
func (s *Service) Release(ctx context.Context, productID string, qty int, orderRef string) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	_, err := s.apply(ctx, productID, EventStockReleased, reasonReleased, orderRef, "", func(r *Record) error {
		r.Reserved = max(r.Reserved-qty, 0)
		return nil
	})
	return err
}

// Restock returns deducted units to quantity, e.g. when a confirmed order is
// cancelled.
func (s *Service) Restock(ctx context.Context, productID string, qty int, orderRef string) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	rec, err := s.apply(ctx, productID, EventStockRestocked, reasonRestocked, orderRef, "", func(r *Record) error {
		r.Quantity += qty
		return nil
	})
	if err != nil {
		return err
	}
	s.syncCatalog(ctx, rec)
	return nil
}

// Adjust applies a manual change to quantity. The result may not drop below
// zero or below the reserved count.
func (s *Service) Adjust(ctx context.Context, productID string, delta int, reason, actor string) (*Record, error) {
	if delta == 0 {
		return nil, fmt.Errorf("%w: adjustment must be non-zero", ErrInvalidQuantity)
	}
	if reason == "" {
		reason = "Manual adjustment"
	}
	rec, err := s.apply(ctx, productID, EventStockAdjusted, reason, "", actor, func(r *Record) error {
		next := r.Quantity + delta
		if next < 0 || next < r.Reserved {
			return fmt.Errorf("%w: product %s has %d on hand with %d reserved, adjustment %d",
				ErrInsufficientStock, productID, r.Quantity, r.Reserved, delta)
		}
		r.Quantity = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.syncCatalog(ctx, rec)
	return rec, nil
}

// Available returns quantity minus reserved; zero for unknown products.
func (s *Service) Available(ctx context.Context, productID string) (int, error) {
	rec, err := s.load(ctx, productID)
	if errors.Is(err, ErrInventoryNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return rec.Available(), nil
}

// GetRecord returns the raw record.
func (s *Service) GetRecord(ctx context.Context, productID string) (*Record, error) {
	return s.load(ctx, productID)
}

func (s *Service) load(ctx context.Context, productID string) (*Record, error) {
	rec, _, err := store.Load[Record](ctx, s.records, Collection, productID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInventoryNotFound
	}
	return rec, err
}

// Get returns the stock level view joined with the product name.
func (s *Service) Get(ctx context.Context, productID string) (*StockLevel, error) {
	rec, err := s.load(ctx, productID)
	if err != nil {
		return nil, err
	}
	level := s.level(ctx, rec)
	return &level, nil
}

// LowStock reports every product whose available stock is at or below its
// threshold, lowest availability first.
func (s *Service) LowStock(ctx context.Context) ([]StockLevel, error) {
	recs, err := store.LoadAll[Record](ctx, s.records, Collection)
	if err != nil {
		return nil, err
	}

	out := make([]StockLevel, 0)
	for _, rec := range recs {
		if rec.IsLowStock() {
			out = append(out, s.level(ctx, rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Available != out[j].Available {
			return out[i].Available < out[j].Available
		}
		return out[i].ProductID < out[j].ProductID
	})
	return out, nil
}

// apply runs fn as an atomic read-modify-write of the product's record and
// appends the resulting movement.
func (s *Service) apply(ctx context.Context, productID, eventType, reason, ref, actor string, fn func(*Record) error) (*Record, error) {
	var previous int
	rec, err := store.Mutate(ctx, s.records, Collection, productID, func(r *Record) error {
		previous = r.Quantity
		if err := fn(r); err != nil {
			return err
		}
		r.UpdatedAt = time.Now().UTC()
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrInventoryNotFound, productID)
	}
	if err != nil {
		return nil, err
	}

	s.appendMovement(ctx, eventType, Movement{
		ProductID:        productID,
		QuantityChange:   rec.Quantity - previous,
		PreviousQuantity: previous,
		NewQuantity:      rec.Quantity,
		Reason:           reason,
		ReferenceID:      ref,
		Actor:            actor,
	})
	return rec, nil
}

// appendMovement appends a movement. The ledger write has already committed,
// so a failed append is logged and left for Reconcile to surface.
func (s *Service) appendMovement(ctx context.Context, eventType string, m Movement) {
	m.ID = uuid.New().String()
	m.Type = eventType
	m.CreatedAt = time.Now().UTC()
	if _, err := s.movements.Append(ctx, m.ProductID, MovementAggregate, eventType, m); err != nil {
		s.logger.Error("failed to append stock movement",
			zap.String("product_id", m.ProductID),
			zap.String("type", eventType),
			zap.Int("quantity_change", m.QuantityChange),
			zap.Error(err))
	}
}

func (s *Service) syncCatalog(ctx context.Context, rec *Record) {
	if s.catalog == nil {
		return
	}
	if err := s.catalog.SetStock(ctx, rec.ProductID, rec.Quantity, rec.Quantity > 0); err != nil {
		s.logger.Warn("failed to sync catalog stock",
			zap.String("product_id", rec.ProductID),
			zap.Error(err))
	}
}
