package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrAlreadyExists   = errors.New("record already exists")
	ErrVersionConflict = errors.New("record version conflict")
)

// Record is a versioned JSON document. Version starts at 1 and increases by one
// on every successful write.
type Record struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Version    int64           `json:"version"`
	Data       json.RawMessage `json:"data"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// RecordStoreInterface is the transactional document store shared by every
// component. All writes are single-record and conditional.
type RecordStoreInterface interface {
	// Get returns ErrNotFound when the record is absent.
	Get(ctx context.Context, collection, id string) (*Record, error)

	// Create inserts a record at version 1, or returns ErrAlreadyExists.
	Create(ctx context.Context, collection, id string, data any) (*Record, error)

	// CompareAndSwap replaces the record only if its current version equals
	// expectedVersion; otherwise ErrVersionConflict (or ErrNotFound).
	CompareAndSwap(ctx context.Context, collection, id string, expectedVersion int64, data any) (*Record, error)

	// List returns every record in a collection, in no particular order.
	List(ctx context.Context, collection string) ([]Record, error)

	// Delete removes a record. Deleting an absent record is not an error.
	Delete(ctx context.Context, collection, id string) error
}
