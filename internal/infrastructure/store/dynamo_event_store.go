package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AllEventsIndex is the GSI (partition key gsi1pk, sort key created_at) that
// lists every event in the table.
const (
	AllEventsIndex = "GSI1"
	allEventsPK    = "EVENTS"
)

// DynamoEventStore is an append-only event table keyed by aggregate_id (hash)
// and version (range). Items are only ever put under attribute_not_exists, so
// an event once written is never replaced.
type DynamoEventStore struct {
	client    DynamoAPI
	tableName string
	publisher Publisher
	logger    *zap.Logger
}

type dynamoEvent struct {
	AggregateID   string `dynamodbav:"aggregate_id"`
	Version       int    `dynamodbav:"version"`
	ID            string `dynamodbav:"id"`
	AggregateType string `dynamodbav:"aggregate_type"`
	EventType     string `dynamodbav:"event_type"`
	Data          string `dynamodbav:"data"`
	CreatedAt     string `dynamodbav:"created_at"`
	GSI1PK        string `dynamodbav:"gsi1pk"`
}

// NewDynamoEventStore returns an event store over tableName. publisher may be nil.
func NewDynamoEventStore(client DynamoAPI, tableName string, publisher Publisher, logger *zap.Logger) *DynamoEventStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DynamoEventStore{
		client:    client,
		tableName: tableName,
		publisher: publisher,
		logger:    logger.Named("event_store"),
	}
}

// Append writes the next version for the aggregate. A concurrent writer that
// took the same version makes the conditional put fail, and the append
// retries with a fresh version.
func (es *DynamoEventStore) Append(ctx context.Context, aggregateID, aggregateType, eventType string, data any) (*Event, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		current, err := es.latestVersion(ctx, aggregateID)
		if err != nil {
			return nil, fmt.Errorf("failed to get next version: %w", err)
		}

		event := Event{
			ID:            uuid.New().String(),
			AggregateID:   aggregateID,
			AggregateType: aggregateType,
			EventType:     eventType,
			Data:          jsonData,
			Timestamp:     time.Now().UTC(),
			Version:       current + 1,
		}
		item, err := attributevalue.MarshalMap(dynamoEvent{
			AggregateID:   event.AggregateID,
			Version:       event.Version,
			ID:            event.ID,
			AggregateType: event.AggregateType,
			EventType:     event.EventType,
			Data:          string(jsonData),
			CreatedAt:     event.Timestamp.Format(time.RFC3339Nano),
			GSI1PK:        allEventsPK,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal event: %w", err)
		}

		_, err = es.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(es.tableName),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(aggregate_id)"),
		})
		if err != nil {
			if isConditionFailed(err) && attempt < MaxMutateAttempts {
				continue
			}
			return nil, fmt.Errorf("failed to put event: %w", err)
		}

		publish(ctx, es.publisher, es.logger, event)
		return &event, nil
	}
}

func (es *DynamoEventStore) latestVersion(ctx context.Context, aggregateID string) (int, error) {
	result, err := es.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(es.tableName),
		KeyConditionExpression: aws.String("aggregate_id = :aid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":aid": &types.AttributeValueMemberS{Value: aggregateID},
		},
		ScanIndexForward:     aws.Bool(false),
		Limit:                aws.Int32(1),
		ProjectionExpression: aws.String("version"),
		ConsistentRead:       aws.Bool(true),
	})
	if err != nil {
		return 0, err
	}
	if len(result.Items) == 0 {
		return 0, nil
	}
	var item struct {
		Version int `dynamodbav:"version"`
	}
	if err := attributevalue.UnmarshalMap(result.Items[0], &item); err != nil {
		return 0, err
	}
	return item.Version, nil
}

// GetEvents returns the aggregate's events in version order.
func (es *DynamoEventStore) GetEvents(ctx context.Context, aggregateID string) ([]Event, error) {
	return es.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(es.tableName),
		KeyConditionExpression: aws.String("aggregate_id = :aid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":aid": &types.AttributeValueMemberS{Value: aggregateID},
		},
		ScanIndexForward: aws.Bool(true),
		ConsistentRead:   aws.Bool(true),
	})
}

// GetAllEvents returns every event ordered by creation time.
func (es *DynamoEventStore) GetAllEvents(ctx context.Context) ([]Event, error) {
	events, err := es.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(es.tableName),
		IndexName:              aws.String(AllEventsIndex),
		KeyConditionExpression: aws.String("gsi1pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: allEventsPK},
		},
		ScanIndexForward: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })
	return events, nil
}

func (es *DynamoEventStore) queryAll(ctx context.Context, in *dynamodb.QueryInput) ([]Event, error) {
	var events []Event
	for {
		result, err := es.client.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("failed to query events: %w", err)
		}
		for _, item := range result.Items {
			var de dynamoEvent
			if err := attributevalue.UnmarshalMap(item, &de); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event: %w", err)
			}
			events = append(events, de.toEvent())
		}
		if len(result.LastEvaluatedKey) == 0 {
			return events, nil
		}
		in.ExclusiveStartKey = result.LastEvaluatedKey
	}
}

func (de dynamoEvent) toEvent() Event {
	ts, _ := time.Parse(time.RFC3339Nano, de.CreatedAt)
	return Event{
		ID:            de.ID,
		AggregateID:   de.AggregateID,
		AggregateType: de.AggregateType,
		EventType:     de.EventType,
		Data:          json.RawMessage(de.Data),
		Timestamp:     ts,
		Version:       de.Version,
	}
}
