package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// uniqueViolation is the Postgres SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// PostgresEventStore stores events in PostgreSQL
type PostgresEventStore struct {
	db        *sql.DB
	publisher Publisher
	logger    *zap.Logger
}

func NewPostgresEventStore(db *sql.DB, publisher Publisher, logger *zap.Logger) *PostgresEventStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresEventStore{
		db:        db,
		publisher: publisher,
		logger:    logger.Named("event_store"),
	}
}

// Append stores an event in PostgreSQL and publishes it. The (aggregate_id,
// version) key is unique, so concurrent appends for one aggregate retry with
// the next version.
func (es *PostgresEventStore) Append(ctx context.Context, aggregateID, aggregateType, eventType string, data any) (*Event, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		var currentVersion int
		err = es.db.QueryRowContext(ctx,
			"SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = $1",
			aggregateID,
		).Scan(&currentVersion)
		if err != nil {
			return nil, err
		}

		event := Event{
			ID:            uuid.New().String(),
			AggregateID:   aggregateID,
			AggregateType: aggregateType,
			EventType:     eventType,
			Data:          jsonData,
			Timestamp:     time.Now().UTC(),
			Version:       currentVersion + 1,
		}

		_, err = es.db.ExecContext(ctx,
			`INSERT INTO events (id, aggregate_id, aggregate_type, event_type, data, version, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			event.ID,
			event.AggregateID,
			event.AggregateType,
			event.EventType,
			[]byte(event.Data),
			event.Version,
			event.Timestamp,
		)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && attempt < MaxMutateAttempts {
				continue
			}
			return nil, err
		}

		publish(ctx, es.publisher, es.logger, event)
		return &event, nil
	}
}

// GetEvents returns all events for an aggregate from PostgreSQL
func (es *PostgresEventStore) GetEvents(ctx context.Context, aggregateID string) ([]Event, error) {
	return es.query(ctx,
		`SELECT id, aggregate_id, aggregate_type, event_type, data, version, created_at
		 FROM events
		 WHERE aggregate_id = $1
		 ORDER BY version ASC`,
		aggregateID,
	)
}

// GetAllEvents returns all events from PostgreSQL
func (es *PostgresEventStore) GetAllEvents(ctx context.Context) ([]Event, error) {
	return es.query(ctx,
		`SELECT id, aggregate_id, aggregate_type, event_type, data, version, created_at
		 FROM events
		 ORDER BY created_at ASC`,
	)
}

func (es *PostgresEventStore) query(ctx context.Context, q string, args ...any) ([]Event, error) {
	rows, err := es.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e    Event
			data []byte
		)
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.AggregateType, &e.EventType, &data, &e.Version, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Data = json.RawMessage(data)
		events = append(events, e)
	}
	return events, rows.Err()
}
