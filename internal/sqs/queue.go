// Package sqs provides the shared chat queue on Amazon SQS.
package sqs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"

	"github.com/capitalize-ai/queuechat/internal/model"
	"github.com/capitalize-ai/queuechat/internal/transport"
	"github.com/capitalize-ai/queuechat/pkg/logger"
	"github.com/capitalize-ai/queuechat/pkg/metrics"
)

const (
	backendName = "sqs"

	// SQS limits for a single ReceiveMessage call.
	maxBatch = 10
	maxWait  = 20 * time.Second
)

// API is the subset of the SQS client the queue uses.
type API interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Config holds SQS connection configuration. Static credentials are optional;
// without them the default AWS credential chain applies.
type Config struct {
	Region          string
	QueueURL        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	// Endpoint overrides the service endpoint, e.g. for a local emulator.
	Endpoint string
	// VisibilityTimeout hides received messages from other readers for this
	// long. Zero uses the queue's setting.
	VisibilityTimeout time.Duration
}

// Queue is a shared chat queue backed by one SQS queue. Received messages are
// never deleted, so they reappear to every reader once their visibility
// timeout lapses.
type Queue struct {
	api        API
	queueURL   string
	visibility int32
	logger     *logger.Logger
}

// NewClient builds an SQS client from cfg.
func NewClient(ctx context.Context, cfg Config) (*sqs.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// NewQueue creates a queue using api against cfg.QueueURL.
func NewQueue(api API, cfg Config, log *logger.Logger) (*Queue, error) {
	if cfg.QueueURL == "" {
		return nil, errors.New("sqs queue url is required")
	}
	return &Queue{
		api:        api,
		queueURL:   cfg.QueueURL,
		visibility: int32(cfg.VisibilityTimeout / time.Second),
		logger:     logger.OrGlobal(log).Named("sqs"),
	}, nil
}

// Open returns the queue itself; SQS holds no per-reader state.
func (q *Queue) Open(_ context.Context, _ string) (transport.Transport, error) {
	return q, nil
}

// Receive long-polls the queue. maxMessages is clamped to 1..10 and wait to
// whole seconds within 0..20.
func (q *Queue) Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]model.Delivery, error) {
	input := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: clampBatch(maxMessages),
		WaitTimeSeconds:     clampWait(wait),
		VisibilityTimeout:   q.visibility,
	}

	out, err := q.api.ReceiveMessage(ctx, input)
	metrics.RecordQueueCall(backendName, "receive", err)
	if err != nil {
		return nil, transport.Wrap("receive", fmt.Errorf("failed to receive messages: %w", err))
	}

	deliveries := make([]model.Delivery, 0, len(out.Messages))
	for _, msg := range out.Messages {
		id := aws.ToString(msg.MessageId)
		if id == "" {
			q.logger.Warn("dropping message without id")
			continue
		}
		deliveries = append(deliveries, model.Delivery{ID: id, Envelope: aws.ToString(msg.Body)})
	}

	q.logger.Debug("received messages", zap.Int("count", len(deliveries)))
	return deliveries, nil
}

// Send publishes envelope and returns the SQS message id.
func (q *Queue) Send(ctx context.Context, envelope string) (string, error) {
	out, err := q.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(envelope),
	})
	if err == nil && aws.ToString(out.MessageId) == "" {
		err = transport.ErrNoMessageID
	}
	metrics.RecordQueueCall(backendName, "send", err)
	if err != nil {
		return "", transport.Wrap("send", fmt.Errorf("failed to send message: %w", err))
	}
	return aws.ToString(out.MessageId), nil
}

func clampBatch(n int) int32 {
	if n < 1 {
		return 1
	}
	if n > maxBatch {
		return maxBatch
	}
	return int32(n)
}

func clampWait(d time.Duration) int32 {
	if d <= 0 {
		return 0
	}
	if d > maxWait {
		d = maxWait
	}
	return int32(d / time.Second)
}
