package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event represents an appended log entry
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     string          `json:"event_type"`
	Data          json.RawMessage `json:"data"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
}

// EventStore stores events in memory and publishes them
type EventStore struct {
	mu        sync.RWMutex
	events    map[string][]Event // aggregateID -> events
	publisher Publisher
	logger    *zap.Logger
}

// NewEventStore creates an in-memory event store. publisher may be nil.
func NewEventStore(publisher Publisher, logger *zap.Logger) *EventStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventStore{
		events:    make(map[string][]Event),
		publisher: publisher,
		logger:    logger.Named("event_store"),
	}
}

// Append stores an event and publishes it. Publish failures are logged; the
// event stays stored.
func (es *EventStore) Append(ctx context.Context, aggregateID, aggregateType, eventType string, data any) (*Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	es.mu.Lock()
	event := Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Data:          jsonData,
		Timestamp:     time.Now().UTC(),
		Version:       len(es.events[aggregateID]) + 1,
	}
	es.events[aggregateID] = append(es.events[aggregateID], event)
	es.mu.Unlock()

	publish(ctx, es.publisher, es.logger, event)
	return &event, nil
}

// GetEvents returns all events for an aggregate in append order
func (es *EventStore) GetEvents(ctx context.Context, aggregateID string) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	es.mu.RLock()
	defer es.mu.RUnlock()
	return append([]Event(nil), es.events[aggregateID]...), nil
}

// GetAllEvents returns all events ordered by timestamp
func (es *EventStore) GetAllEvents(ctx context.Context) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	es.mu.RLock()
	var all []Event
	for _, events := range es.events {
		all = append(all, events...)
	}
	es.mu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })
	return all, nil
}

func publish(ctx context.Context, p Publisher, logger *zap.Logger, event Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, event.AggregateID, event); err != nil {
		logger.Warn("failed to publish event",
			zap.String("aggregate_id", event.AggregateID),
			zap.String("event_type", event.EventType),
			zap.Error(err))
	}
}
