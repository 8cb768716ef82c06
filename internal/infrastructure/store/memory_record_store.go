package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryRecordStore is an in-process RecordStoreInterface for development and
// tests. The mutex stands in for the storage engine's row-level atomicity.
type MemoryRecordStore struct {
	mu   sync.RWMutex
	data map[string]map[string]Record // collection -> id -> record
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		data: make(map[string]map[string]Record),
	}
}

func (s *MemoryRecordStore) Get(ctx context.Context, collection, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.data[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *MemoryRecordStore) Create(ctx context.Context, collection, id string, data any) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data[collection] == nil {
		s.data[collection] = make(map[string]Record)
	}
	if _, exists := s.data[collection][id]; exists {
		return nil, ErrAlreadyExists
	}
	rec := Record{
		Collection: collection,
		ID:         id,
		Version:    1,
		Data:       raw,
		UpdatedAt:  time.Now().UTC(),
	}
	s.data[collection][id] = rec
	return cloneRecord(rec), nil
}

func (s *MemoryRecordStore) CompareAndSwap(ctx context.Context, collection, id string, expectedVersion int64, data any) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.data[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	if current.Version != expectedVersion {
		return nil, ErrVersionConflict
	}
	rec := Record{
		Collection: collection,
		ID:         id,
		Version:    current.Version + 1,
		Data:       raw,
		UpdatedAt:  time.Now().UTC(),
	}
	s.data[collection][id] = rec
	return cloneRecord(rec), nil
}

func (s *MemoryRecordStore) List(ctx context.Context, collection string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.data[collection]))
	for _, rec := range s.data[collection] {
		out = append(out, *cloneRecord(rec))
	}
	return out, nil
}

func (s *MemoryRecordStore) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data[collection] != nil {
		delete(s.data[collection], id)
	}
	return nil
}

func cloneRecord(rec Record) *Record {
	out := rec
	out.Data = append([]byte(nil), rec.Data...)
	return &out
}
