package mocks

import (
	"context"
	"sync"

	"github.com/example/ec-fulfillment/internal/infrastructure/store"
)

// MockRecordStore wraps a MemoryRecordStore and lets tests inject failures
// per collection.
type MockRecordStore struct {
	*store.MemoryRecordStore

	mu sync.Mutex

	// ConflictsLeft forces this many CompareAndSwap calls to report a
	// version conflict before the real store is consulted.
	ConflictsLeft int
	// CreateErr / SwapErr are returned for writes to the named collection.
	CreateErr map[string]error
	SwapErr   map[string]error
	// SwapErrByID fails CompareAndSwap for a single record id.
	SwapErrByID map[string]error

	CreateCalls []WriteCall
	SwapCalls   []WriteCall
}

// WriteCall records a write attempt
type WriteCall struct {
	Collection string
	ID         string
}

// NewMockRecordStore creates a new MockRecordStore
func NewMockRecordStore() *MockRecordStore {
	return &MockRecordStore{
		MemoryRecordStore: store.NewMemoryRecordStore(),
		CreateErr:         make(map[string]error),
		SwapErr:           make(map[string]error),
		SwapErrByID:       make(map[string]error),
	}
}

func (m *MockRecordStore) Create(ctx context.Context, collection, id string, data any) (*store.Record, error) {
	m.mu.Lock()
	m.CreateCalls = append(m.CreateCalls, WriteCall{Collection: collection, ID: id})
	err := m.CreateErr[collection]
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return m.MemoryRecordStore.Create(ctx, collection, id, data)
}

func (m *MockRecordStore) CompareAndSwap(ctx context.Context, collection, id string, expectedVersion int64, data any) (*store.Record, error) {
	m.mu.Lock()
	m.SwapCalls = append(m.SwapCalls, WriteCall{Collection: collection, ID: id})
	err := m.SwapErr[collection]
	if err == nil {
		err = m.SwapErrByID[id]
	}
	if err == nil && m.ConflictsLeft > 0 {
		m.ConflictsLeft--
		err = store.ErrVersionConflict
	}
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return m.MemoryRecordStore.CompareAndSwap(ctx, collection, id, expectedVersion, data)
}

// SwapCount returns the number of CompareAndSwap calls made on a collection
func (m *MockRecordStore) SwapCount(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, c := range m.SwapCalls {
		if c.Collection == collection {
			n++
		}
	}
	return n
}
