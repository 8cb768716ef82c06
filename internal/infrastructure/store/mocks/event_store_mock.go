package mocks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/example/ec-fulfillment/internal/infrastructure/store"
)

// MockEventStore is an append-only movement log for tests. Events keep their
// global append order, and appends can be failed per event type.
type MockEventStore struct {
	mu  sync.RWMutex
	log []store.Event

	AppendCalls []AppendCall
	// AppendErr fails every append; FailTypes fails appends of one event type.
	AppendErr error
	FailTypes map[string]error
	GetErr    error
}

// AppendCall is one Append invocation, recorded whether or not it failed.
type AppendCall struct {
	AggregateID   string
	AggregateType string
	EventType     string
	Data          any
}

func NewMockEventStore() *MockEventStore {
	return &MockEventStore{FailTypes: make(map[string]error)}
}

func (m *MockEventStore) Append(ctx context.Context, aggregateID, aggregateType, eventType string, data any) (*store.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.AppendCalls = append(m.AppendCalls, AppendCall{
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Data:          data,
	})
	if m.AppendErr != nil {
		return nil, m.AppendErr
	}
	if err := m.FailTypes[eventType]; err != nil {
		return nil, err
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	seq := len(m.log) + 1
	event := store.Event{
		ID:            fmt.Sprintf("evt-%d", seq),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Data:          raw,
		Timestamp:     time.Unix(0, int64(seq)).UTC(),
		Version:       m.countLocked(aggregateID) + 1,
	}
	m.log = append(m.log, event)
	return &event, nil
}

func (m *MockEventStore) GetEvents(ctx context.Context, aggregateID string) ([]store.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	var out []store.Event
	for _, e := range m.log {
		if e.AggregateID == aggregateID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MockEventStore) GetAllEvents(ctx context.Context) ([]store.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	return append([]store.Event(nil), m.log...), nil
}

// CallsOfType returns recorded appends with the given event type.
func (m *MockEventStore) CallsOfType(eventType string) []AppendCall {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []AppendCall
	for _, c := range m.AppendCalls {
		if c.EventType == eventType {
			out = append(out, c)
		}
	}
	return out
}

func (m *MockEventStore) countLocked(aggregateID string) int {
	n := 0
	for _, e := range m.log {
		if e.AggregateID == aggregateID {
			n++
		}
	}
	return n
}
