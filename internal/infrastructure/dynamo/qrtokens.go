package dynamo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/qr-attendance-api/internal/domain"
)

// QrTokenRepo provides typed DynamoDB operations for the qr_tokens table.
// The table is keyed by session_id alone, so a plain PutItem carries the
// replace-on-reissue semantics: at most one token row per session.
type QrTokenRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewQrTokenRepo(client *dynamodb.Client, tableName string) *QrTokenRepo {
	return &QrTokenRepo{client: client, tableName: tableName}
}

// Upsert stores the token, replacing any prior token for the same session.
func (r *QrTokenRepo) Upsert(ctx context.Context, t *domain.QrToken) error {
	item, err := attributevalue.MarshalMap(t)
	if err != nil {
		return fmt.Errorf("marshal qr token: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		return unavailable("put qr token", err)
	}
	return nil
}

func (r *QrTokenRepo) GetBySession(ctx context.Context, sessionID string) (*domain.QrToken, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("session_id", sessionID),
	})
	if err != nil {
		return nil, unavailable("get qr token", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("qr token not found: %w", domain.ErrNotFound)
	}
	var t domain.QrToken
	if err := attributevalue.UnmarshalMap(out.Item, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// DeleteExpiredBefore removes tokens whose expiry is strictly before now and
// returns how many were deleted. Each delete re-checks expiry in its
// ConditionExpression: a token re-issued between the scan and the delete is
// fresh again and must survive the sweep.
func (r *QrTokenRepo) DeleteExpiredBefore(ctx context.Context, now time.Time) (int, error) {
	nowAV := &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)}
	out, err := r.client.Scan(ctx, &dynamodb.ScanInput{
		TableName:                 aws.String(r.tableName),
		FilterExpression:          aws.String("expires_at_unix < :now"),
		ProjectionExpression:      aws.String("session_id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":now": nowAV},
	})
	if err != nil {
		return 0, unavailable("scan expired qr tokens", err)
	}

	deleted := 0
	for _, item := range out.Items {
		sid, ok := item["session_id"].(*types.AttributeValueMemberS)
		if !ok {
			continue
		}
		_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:                 aws.String(r.tableName),
			Key:                       strKey("session_id", sid.Value),
			ConditionExpression:       aws.String("expires_at_unix < :now"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":now": nowAV},
		})
		if err != nil {
			// A fresh token replaced this one mid-sweep; leave it alone.
			if isConditionalCheckFailed(err) {
				continue
			}
			return deleted, unavailable("delete expired qr token", err)
		}
		deleted++
	}
	return deleted, nil
}
