package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/qr-attendance-api/internal/domain"
)

// ClassRepo provides typed DynamoDB operations for the classes table. It also
// owns the single-active-session-per-class invariant via a conditional claim
// on the class item, so the constraint holds across service instances without
// application locks.
type ClassRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewClassRepo(client *dynamodb.Client, tableName string) *ClassRepo {
	return &ClassRepo{client: client, tableName: tableName}
}

func (r *ClassRepo) Put(ctx context.Context, c *domain.Class) error {
	item, err := attributevalue.MarshalMap(c)
	if err != nil {
		return fmt.Errorf("marshal class: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		return unavailable("put class", err)
	}
	return nil
}

func (r *ClassRepo) Get(ctx context.Context, classID string) (*domain.Class, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("class_id", classID),
	})
	if err != nil {
		return nil, unavailable("get class", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("class not found: %w", domain.ErrNotFound)
	}
	var c domain.Class
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ClassRepo) ListByTeacher(ctx context.Context, teacherID string) ([]domain.Class, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String("teacher_id-index"),
		KeyConditionExpression: aws.String("teacher_id = :tid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":tid": &types.AttributeValueMemberS{Value: teacherID},
		},
	})
	if err != nil {
		return nil, unavailable("query classes by teacher", err)
	}
	var classes []domain.Class
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &classes); err != nil {
		return nil, err
	}
	return classes, nil
}

// ClaimActiveSession atomically records sessionID as the class's active
// session. Fails with ErrConflict when another session already holds the slot.
func (r *ClassRepo) ClaimActiveSession(ctx context.Context, classID, sessionID string) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 strKey("class_id", classID),
		UpdateExpression:    aws.String("SET active_session_id = :sid"),
		ConditionExpression: aws.String("attribute_exists(class_id) AND attribute_not_exists(active_session_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sid": &types.AttributeValueMemberS{Value: sessionID},
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return fmt.Errorf("class already has an active session: %w", domain.ErrConflict)
		}
		return unavailable("claim active session", err)
	}
	return nil
}

// ReleaseActiveSession clears the active-session slot if sessionID still holds
// it. Releasing a slot held by a different session (or none) is a no-op, which
// makes a sweeper close and an explicit close interleave safely.
func (r *ClassRepo) ReleaseActiveSession(ctx context.Context, classID, sessionID string) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 strKey("class_id", classID),
		UpdateExpression:    aws.String("REMOVE active_session_id"),
		ConditionExpression: aws.String("active_session_id = :sid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sid": &types.AttributeValueMemberS{Value: sessionID},
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return nil
		}
		return unavailable("release active session", err)
	}
	return nil
}
