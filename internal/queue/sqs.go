package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

type SQSOptions struct {
	QueueURL    string
	Region      string
	WaitSeconds int32
	MaxMessages int32
}

// SQSSource relies on the visibility timeout for redelivery: a message that
// is not deleted reappears once the timeout lapses.
type SQSSource struct {
	api  sqsAPI
	opts SQSOptions
}

func NewSQSSource(ctx context.Context, opts SQSOptions) (*SQSSource, error) {
	if opts.QueueURL == "" {
		return nil, errors.New("sqs queue url required")
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return newSQSSource(sqs.NewFromConfig(cfg), opts), nil
}

func newSQSSource(api sqsAPI, opts SQSOptions) *SQSSource {
	if opts.MaxMessages < 1 {
		opts.MaxMessages = 1
	}
	return &SQSSource{api: api, opts: opts}
}

func (s *SQSSource) Receive(ctx context.Context) ([]Message, error) {
	out, err := s.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(s.opts.QueueURL),
		MaxNumberOfMessages: s.opts.MaxMessages,
		WaitTimeSeconds:     s.opts.WaitSeconds,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("receive from sqs: %w", err)
	}

	messages := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		count, _ := strconv.Atoi(m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
		messages = append(messages, Message{
			ID:            aws.ToString(m.MessageId),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			Body:          []byte(aws.ToString(m.Body)),
			ReceiveCount:  count,
		})
	}
	return messages, nil
}

func (s *SQSSource) Ack(ctx context.Context, msg Message) error {
	_, err := s.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.opts.QueueURL),
		ReceiptHandle: aws.String(msg.ReceiptHandle),
	})
	if err != nil {
		return fmt.Errorf("delete message %s: %w", msg.ID, err)
	}
	return nil
}

// Release leaves the message alone; it becomes visible again when its
// visibility timeout expires.
func (s *SQSSource) Release(context.Context, Message) error {
	return nil
}

func (s *SQSSource) Extend(ctx context.Context, msg Message, timeout time.Duration) error {
	_, err := s.api.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(s.opts.QueueURL),
		ReceiptHandle:     aws.String(msg.ReceiptHandle),
		VisibilityTimeout: int32(timeout / time.Second),
	})
	if err != nil {
		return fmt.Errorf("extend visibility of %s: %w", msg.ID, err)
	}
	return nil
}

func (s *SQSSource) Close() error {
	return nil
}
