package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/qr-attendance-api/internal/domain"
)

// AuthSessionRepo provides typed DynamoDB operations for the auth_sessions table.
type AuthSessionRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewAuthSessionRepo(client *dynamodb.Client, tableName string) *AuthSessionRepo {
	return &AuthSessionRepo{client: client, tableName: tableName}
}

func (r *AuthSessionRepo) Put(ctx context.Context, s *domain.AuthSession) error {
	item, err := attributevalue.MarshalMap(s)
	if err != nil {
		return fmt.Errorf("marshal auth session: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		return unavailable("put auth session", err)
	}
	return nil
}

func (r *AuthSessionRepo) Get(ctx context.Context, authSessionID string) (*domain.AuthSession, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("auth_session_id", authSessionID),
	})
	if err != nil {
		return nil, unavailable("get auth session", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("auth session not found: %w", domain.ErrNotFound)
	}
	var s domain.AuthSession
	if err := attributevalue.UnmarshalMap(out.Item, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetByRefreshToken looks up an auth session by its opaque refresh token via GSI.
// Returns ErrUnauthorized when found but disabled.
func (r *AuthSessionRepo) GetByRefreshToken(ctx context.Context, token string) (*domain.AuthSession, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String("refresh_token-index"),
		KeyConditionExpression: aws.String("refresh_token = :rt"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":rt": &types.AttributeValueMemberS{Value: token},
		},
	})
	if err != nil {
		return nil, unavailable("query auth session by refresh token", err)
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("auth session not found: %w", domain.ErrNotFound)
	}
	var s domain.AuthSession
	if err := attributevalue.UnmarshalMap(out.Items[0], &s); err != nil {
		return nil, err
	}
	if !s.Enable {
		return nil, fmt.Errorf("auth session disabled: %w", domain.ErrUnauthorized)
	}
	return &s, nil
}

// RotateRefreshToken replaces the refresh token and expiry on an auth session.
func (r *AuthSessionRepo) RotateRefreshToken(ctx context.Context, authSessionID, newToken string, newExpiry int64) error {
	return r.Update(ctx, authSessionID, map[string]interface{}{
		fieldRefreshToken:     newToken,
		fieldRefreshExpiresAt: newExpiry,
	})
}

func (r *AuthSessionRepo) Update(ctx context.Context, authSessionID string, updates map[string]interface{}) error {
	updates[fieldUpdatedAt] = time.Now().UTC().Format(time.RFC3339)
	ue, err := buildUpdateExpr(updates)
	if err != nil {
		return err
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey("auth_session_id", authSessionID),
		UpdateExpression:          aws.String(ue.Expr),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	if err != nil {
		return unavailable("update auth session", err)
	}
	return nil
}
