package sns

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/qr-attendance-api/internal/config"
)

// EventPublisher publishes session lifecycle events to an SNS topic.
type EventPublisher interface {
	PublishSessionClosed(ctx context.Context, sessionID, classID, reason string) error
}

// SessionClosedEvent is the message body for session-closed notifications.
// reason is "explicit" or "expired".
type SessionClosedEvent struct {
	SessionID string `json:"session_id"`
	ClassID   string `json:"class_id"`
	Reason    string `json:"reason"`
}

type publisher struct {
	client   *sns.Client
	topicARN string
}

func NewPublisher(cfg *config.Config) (EventPublisher, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.AWSRegion),
	)
	if err != nil {
		return nil, err
	}
	return &publisher{client: sns.NewFromConfig(awsCfg), topicARN: cfg.SNSTopicARN}, nil
}

func (p *publisher) PublishSessionClosed(ctx context.Context, sessionID, classID, reason string) error {
	body, err := json.Marshal(SessionClosedEvent{SessionID: sessionID, ClassID: classID, Reason: reason})
	if err != nil {
		return err
	}
	_, err = p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(body)),
	})
	return err
}
