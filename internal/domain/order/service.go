package order

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/example/ec-fulfillment/internal/infrastructure/store"
	"github.com/google/uuid"
)

const (
	Collection       = "orders"
	NumberCollection = "order_numbers"

	// MaxNumberAttempts bounds the order-number collision retry loop.
	MaxNumberAttempts = 5

	DefaultPageSize = 10
	MaxPageSize     = 100
)

const (
	NumberPrefix   = "PK"
	numberAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// GenerateNumber returns PK-YYYYMMDD-XXXXXX with six random characters.
func GenerateNumber(now time.Time) string {
	suffix := make([]byte, 6)
	n := big.NewInt(int64(len(numberAlphabet)))
	for i := range suffix {
		idx, err := rand.Int(rand.Reader, n)
		if err != nil {
			panic(err)
		}
		suffix[i] = numberAlphabet[idx.Int64()]
	}
	return fmt.Sprintf("%s-%s-%s", NumberPrefix, now.UTC().Format("20060102"), suffix)
}

type numberClaim struct {
	OrderID string `json:"order_id"`
}

// ListOptions filters and pages a user's orders. Page is 1-based.
type ListOptions struct {
	Page     int
	PageSize int
	Status   Status
}

// Page is one page of orders, newest first.
type Page struct {
	Orders   []*Order `json:"orders"`
	Total    int      `json:"total"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
}

type Service struct {
	records   store.RecordStoreInterface
	newNumber func(time.Time) string
	now       func() time.Time
}

func NewService(rs store.RecordStoreInterface) *Service {
	return &Service{
		records:   rs,
		newNumber: GenerateNumber,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithNumberGenerator replaces the order-number source.
func (s *Service) WithNumberGenerator(fn func(time.Time) string) *Service {
	s.newNumber = fn
	return s
}

// Place assigns a unique order number to o, and an id when it has none, and
// persists it as a pending, unpaid order.
func (s *Service) Place(ctx context.Context, o *Order) error {
	if len(o.Items) == 0 {
		return ErrEmptyOrder
	}
	now := s.now()
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	o.Status = StatusPending
	o.PaymentStatus = PaymentPending
	o.CreatedAt = now
	o.UpdatedAt = now

	number, err := s.claimNumber(ctx, o.ID, now)
	if err != nil {
		return err
	}
	o.OrderNumber = number

	if _, err := s.records.Create(ctx, Collection, o.ID, o); err != nil {
		_ = s.records.Delete(ctx, NumberCollection, number)
		return fmt.Errorf("failed to store order: %w", err)
	}
	return nil
}

func (s *Service) claimNumber(ctx context.Context, orderID string, now time.Time) (string, error) {
	for attempt := 0; attempt < MaxNumberAttempts; attempt++ {
		number := s.newNumber(now)
		_, err := s.records.Create(ctx, NumberCollection, number, numberClaim{OrderID: orderID})
		if err == nil {
			return number, nil
		}
		if !errors.Is(err, store.ErrAlreadyExists) {
			return "", err
		}
	}
	return "", ErrOrderNumberExhausted
}

func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	o, _, err := store.Load[Order](ctx, s.records, Collection, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	return o, err
}

// GetForUser hides other users' orders behind ErrOrderNotFound.
func (s *Service) GetForUser(ctx context.Context, id, userID string) (*Order, error) {
	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if userID != "" && o.UserID != userID {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

// GetByNumber resolves an order number; userID scopes the lookup when set.
func (s *Service) GetByNumber(ctx context.Context, number, userID string) (*Order, error) {
	claim, _, err := store.Load[numberClaim](ctx, s.records, NumberCollection, number)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.GetForUser(ctx, claim.OrderID, userID)
}

// ListByUser returns a page of the user's orders, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string, opts ListOptions) (*Page, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PageSize < 1 {
		opts.PageSize = DefaultPageSize
	}
	opts.PageSize = min(opts.PageSize, MaxPageSize)

	all, err := s.List(ctx, func(o *Order) bool {
		return o.UserID == userID && (opts.Status == "" || o.Status == opts.Status)
	})
	if err != nil {
		return nil, err
	}

	page := &Page{Orders: []*Order{}, Total: len(all), Page: opts.Page, PageSize: opts.PageSize}
	start := (opts.Page - 1) * opts.PageSize
	if start < len(all) {
		page.Orders = all[start:min(start+opts.PageSize, len(all))]
	}
	return page, nil
}

// List returns every order matching keep, newest first.
func (s *Service) List(ctx context.Context, keep func(*Order) bool) ([]*Order, error) {
	orders, err := store.LoadAll[Order](ctx, s.records, Collection)
	if err != nil {
		return nil, err
	}
	out := make([]*Order, 0, len(orders))
	for _, o := range orders {
		if keep == nil || keep(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Update applies fn atomically to the stored order and stamps UpdatedAt.
// fn may return store.ErrSkipWrite to leave the order untouched.
func (s *Service) Update(ctx context.Context, id string, fn func(*Order) error) (*Order, error) {
	o, err := store.Mutate(ctx, s.records, Collection, id, func(o *Order) error {
		if err := fn(o); err != nil {
			return err
		}
		o.UpdatedAt = s.now()
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	return o, err
}
