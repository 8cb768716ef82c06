package store

import "context"

// EventStoreInterface defines the interface for append-only event logs
type EventStoreInterface interface {
	Append(ctx context.Context, aggregateID, aggregateType, eventType string, data any) (*Event, error)
	GetEvents(ctx context.Context, aggregateID string) ([]Event, error)
	GetAllEvents(ctx context.Context) ([]Event, error)
}

// Publisher forwards appended events to a message bus.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}
