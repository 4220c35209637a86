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

// AttendanceRepo provides typed DynamoDB operations for the attendance table.
// The table key is (session_id, student_id), making the uniqueness invariant
// a property of the store rather than of any in-process check.
type AttendanceRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewAttendanceRepo(client *dynamodb.Client, tableName string) *AttendanceRepo {
	return &AttendanceRepo{client: client, tableName: tableName}
}

// Insert writes the record if and only if no record exists for the same
// (session, student) pair. A lost race surfaces as ErrConflict, identical to
// the pipeline's duplicate pre-check.
func (r *AttendanceRepo) Insert(ctx context.Context, rec *domain.AttendanceRecord) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal attendance record: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(session_id) AND attribute_not_exists(student_id)"),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return fmt.Errorf("attendance already marked: %w", domain.ErrConflict)
		}
		return unavailable("insert attendance record", err)
	}
	return nil
}

// Exists reports whether a record exists for the (session, student) pair.
func (r *AttendanceRepo) Exists(ctx context.Context, sessionID, studentID string) (bool, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       compositeKey("session_id", sessionID, "student_id", studentID),
	})
	if err != nil {
		return false, unavailable("get attendance record", err)
	}
	return out.Item != nil, nil
}

func (r *AttendanceRepo) ListBySession(ctx context.Context, sessionID string) ([]domain.AttendanceRecord, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("session_id = :sid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sid": &types.AttributeValueMemberS{Value: sessionID},
		},
	})
	if err != nil {
		return nil, unavailable("query attendance by session", err)
	}
	var records []domain.AttendanceRecord
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &records); err != nil {
		return nil, err
	}
	return records, nil
}
