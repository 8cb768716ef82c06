package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoRecordStore.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoRecordStore stores records in one DynamoDB table with partition key
// "collection" and sort key "id". Conditional writes on the version attribute provide the
// optimistic locking the domain relies on.
type DynamoRecordStore struct {
	client    DynamoAPI
	tableName string
}

// dynamoRecord represents the DynamoDB item structure
type dynamoRecord struct {
	Collection string `dynamodbav:"collection"`
	ID         string `dynamodbav:"id"`
	Version    int64  `dynamodbav:"version"`
	Data       string `dynamodbav:"data"`
	UpdatedAt  string `dynamodbav:"updated_at"`
}

func NewDynamoRecordStore(client DynamoAPI, tableName string) *DynamoRecordStore {
	return &DynamoRecordStore{
		client:    client,
		tableName: tableName,
	}
}

func (s *DynamoRecordStore) key(collection, id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"collection": &types.AttributeValueMemberS{Value: collection},
		"id":         &types.AttributeValueMemberS{Value: id},
	}
}

func (s *DynamoRecordStore) Get(ctx context.Context, collection, id string) (*Record, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(collection, id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}

	var dr dynamoRecord
	if err := attributevalue.UnmarshalMap(result.Item, &dr); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return dr.toRecord(), nil
}

func (s *DynamoRecordStore) Create(ctx context.Context, collection, id string, data any) (*Record, error) {
	item, rec, err := s.buildItem(collection, id, 1, data)
	if err != nil {
		return nil, err
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to put record: %w", err)
	}
	return rec, nil
}

func (s *DynamoRecordStore) CompareAndSwap(ctx context.Context, collection, id string, expectedVersion int64, data any) (*Record, error) {
	item, rec, err := s.buildItem(collection, id, expectedVersion+1, data)
	if err != nil {
		return nil, err
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("#v = :expected"),
		ExpressionAttributeNames: map[string]string{
			"#v": "version",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expectedVersion, 10)},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			if _, getErr := s.Get(ctx, collection, id); errors.Is(getErr, ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, ErrVersionConflict
		}
		return nil, fmt.Errorf("failed to put record: %w", err)
	}
	return rec, nil
}

func (s *DynamoRecordStore) List(ctx context.Context, collection string) ([]Record, error) {
	var (
		out       []Record
		startFrom map[string]types.AttributeValue
	)
	for {
		result, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("#c = :c"),
			ExpressionAttributeNames: map[string]string{
				"#c": "collection",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":c": &types.AttributeValueMemberS{Value: collection},
			},
			ExclusiveStartKey: startFrom,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query records: %w", err)
		}
		for _, item := range result.Items {
			var dr dynamoRecord
			if err := attributevalue.UnmarshalMap(item, &dr); err != nil {
				return nil, fmt.Errorf("failed to unmarshal record: %w", err)
			}
			out = append(out, *dr.toRecord())
		}
		if len(result.LastEvaluatedKey) == 0 {
			return out, nil
		}
		startFrom = result.LastEvaluatedKey
	}
}

func (s *DynamoRecordStore) Delete(ctx context.Context, collection, id string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.key(collection, id),
	})
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

func (s *DynamoRecordStore) buildItem(collection, id string, version int64, data any) (map[string]types.AttributeValue, *Record, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, nil, err
	}
	now := time.Now().UTC()
	item, err := attributevalue.MarshalMap(dynamoRecord{
		Collection: collection,
		ID:         id,
		Version:    version,
		Data:       string(raw),
		UpdatedAt:  now.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	return item, &Record{Collection: collection, ID: id, Version: version, Data: raw, UpdatedAt: now}, nil
}

func (dr dynamoRecord) toRecord() *Record {
	updatedAt, _ := time.Parse(time.RFC3339Nano, dr.UpdatedAt)
	return &Record{
		Collection: dr.Collection,
		ID:         dr.ID,
		Version:    dr.Version,
		Data:       json.RawMessage(dr.Data),
		UpdatedAt:  updatedAt,
	}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
