package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/goccy/go-json"

	"github.com/relabs-tech/basebone/core/logger"
)

type messageSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSSink sends events to an SQS queue
type SQSSink struct {
	client   messageSender
	queueURL string
}

// NewSQSSink returns a sink sending to the queue. Credentials are taken from the
// default AWS configuration chain.
func NewSQSSink(ctx context.Context, region, queueURL string) (*SQSSink, error) {
	if queueURL == "" {
		return nil, fmt.Errorf("queue URL must not be empty")
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	logger.Default().Debugln("SQS notifications enabled for", queueURL)
	return &SQSSink{client: sqs.NewFromConfig(cfg), queueURL: queueURL}, nil
}

// Deliver implements Sink
func (s *SQSSink) Deliver(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"entity": {DataType: aws.String("String"), StringValue: aws.String(event.Entity)},
		},
	})
	if err != nil {
		return fmt.Errorf("cannot send to sqs: %w", err)
	}
	return nil
}

// Close implements Sink
func (s *SQSSink) Close() error {
	return nil
}
