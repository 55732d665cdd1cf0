package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"camwatch/pkg/interfaces"
)

// Attribute names; cameraId and currentWorker match records written before
// versioning existed.
const (
	attrStream    = "cameraId"
	attrWorker    = "currentWorker"
	attrVersion   = "version"
	attrUpdatedAt = "updatedAt"
)

const (
	// a record without a version attribute predates versioning and counts as version 0
	conditionCreate = "attribute_not_exists(" + attrStream + ") OR attribute_not_exists(#v)"
	conditionUpdate = "#v = :expected"
)

// API the subset of the DynamoDB client used here
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// AssignmentTable assignment store on a DynamoDB table keyed by cameraId
type AssignmentTable struct {
	client API
	table  string
}

// NewAssignmentTable creates a DynamoDB assignment store
func NewAssignmentTable(client API, table string) *AssignmentTable {
	return &AssignmentTable{client: client, table: table}
}

// Get reads one record with a strongly consistent read
func (t *AssignmentTable) Get(ctx context.Context, stream string) (*interfaces.Assignment, error) {
	out, err := t.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(t.table),
		Key:            map[string]types.AttributeValue{attrStream: &types.AttributeValueMemberS{Value: stream}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment %s: %w", stream, err)
	}
	if len(out.Item) == 0 {
		return interfaces.Unassigned(stream), nil
	}
	return decodeItem(out.Item)
}

// CompareAndSet conditionally puts the record
func (t *AssignmentTable) CompareAndSet(ctx context.Context, stream string, expectedVersion int64, workerID string) (*interfaces.Assignment, error) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	next := expectedVersion + 1

	input := &dynamodb.PutItemInput{
		TableName: aws.String(t.table),
		Item: map[string]types.AttributeValue{
			attrStream:    &types.AttributeValueMemberS{Value: stream},
			attrWorker:    &types.AttributeValueMemberS{Value: workerID},
			attrVersion:   &types.AttributeValueMemberN{Value: strconv.FormatInt(next, 10)},
			attrUpdatedAt: &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
		ExpressionAttributeNames: map[string]string{"#v": attrVersion},
	}
	if expectedVersion == 0 {
		input.ConditionExpression = aws.String(conditionCreate)
	} else {
		input.ConditionExpression = aws.String(conditionUpdate)
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expectedVersion, 10)},
		}
	}

	if _, err := t.client.PutItem(ctx, input); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, fmt.Errorf("%w: stream %s changed since version %d", interfaces.ErrStoreConflict, stream, expectedVersion)
		}
		return nil, fmt.Errorf("failed to put assignment %s: %w", stream, err)
	}

	return &interfaces.Assignment{StreamID: stream, WorkerID: workerID, Version: next, UpdatedAt: now}, nil
}

// List scans the whole table
func (t *AssignmentTable) List(ctx context.Context) ([]*interfaces.Assignment, error) {
	input := &dynamodb.ScanInput{TableName: aws.String(t.table), ConsistentRead: aws.Bool(true)}

	var out []*interfaces.Assignment
	for {
		page, err := t.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignments: %w", err)
		}
		for _, item := range page.Items {
			a, err := decodeItem(item)
			if err != nil {
				return nil, err
			}
			out = append(out, a)
		}
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = page.LastEvaluatedKey
	}
	return out, nil
}

func decodeItem(item map[string]types.AttributeValue) (*interfaces.Assignment, error) {
	stream, ok := item[attrStream].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("assignment item without %s", attrStream)
	}

	a := interfaces.Unassigned(stream.Value)
	if w, ok := item[attrWorker].(*types.AttributeValueMemberS); ok {
		a.WorkerID = w.Value
	}
	if v, ok := item[attrVersion].(*types.AttributeValueMemberN); ok {
		version, err := strconv.ParseInt(v.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid version for %s: %w", stream.Value, err)
		}
		a.Version = version
	}
	if u, ok := item[attrUpdatedAt].(*types.AttributeValueMemberS); ok {
		if ts, err := time.Parse(time.RFC3339Nano, u.Value); err == nil {
			a.UpdatedAt = ts
		}
	}
	return a, nil
}
