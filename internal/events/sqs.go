package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/cloudconsole/jobtracker/pkg/types"
)

// SQSAPI is the subset of the SQS client used for publishing
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher sends settlement events to an SQS queue
type SQSPublisher struct {
	client   SQSAPI
	queueURL string
}

// NewSQSPublisher creates a publisher using the default AWS credential chain
func NewSQSPublisher(ctx context.Context, queueURL string) (*SQSPublisher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSQSPublisherWithClient(sqs.NewFromConfig(cfg), queueURL), nil
}

// NewSQSPublisherWithClient creates a publisher on an existing client
func NewSQSPublisherWithClient(client SQSAPI, queueURL string) *SQSPublisher {
	return &SQSPublisher{client: client, queueURL: queueURL}
}

// Publish sends the event for o with operation and status message attributes
func (p *SQSPublisher) Publish(ctx context.Context, o *types.Outcome) error {
	ev := NewEvent(o)
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"operation": {DataType: aws.String("String"), StringValue: aws.String(ev.Operation)},
			"status":    {DataType: aws.String("String"), StringValue: aws.String(string(ev.Status))},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send to SQS: %w", err)
	}
	return nil
}

// Close is a no-op; the SQS client holds no connection
func (p *SQSPublisher) Close() error {
	return nil
}
