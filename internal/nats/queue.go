package nats

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/queuechat/internal/model"
	"github.com/capitalize-ai/queuechat/internal/transport"
	"github.com/capitalize-ai/queuechat/pkg/logger"
	"github.com/capitalize-ai/queuechat/pkg/metrics"
)

const (
	// DefaultStreamName is the name of the shared chat queue stream.
	DefaultStreamName = "CHAT_QUEUE"

	// DefaultSubject is the subject every envelope is published on.
	DefaultSubject = "chat.queue"

	backendName = "jetstream"
)

// QueueConfig configures the shared queue stream.
type QueueConfig struct {
	Stream          string
	Subject         string
	MaxAge          time.Duration
	DuplicateWindow time.Duration
	// InactiveThreshold removes a view's consumer once it stops fetching.
	InactiveThreshold time.Duration
	Storage           jetstream.StorageType
}

func (c QueueConfig) withDefaults() QueueConfig {
	if c.Stream == "" {
		c.Stream = DefaultStreamName
	}
	if c.Subject == "" {
		c.Subject = DefaultSubject
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 7 * 24 * time.Hour
	}
	if c.DuplicateWindow <= 0 {
		c.DuplicateWindow = 2 * time.Minute
	}
	if c.InactiveThreshold <= 0 {
		c.InactiveThreshold = 10 * time.Minute
	}
	return c
}

// Queue is a shared chat queue on a JetStream stream. Every view opened on it
// gets its own consumer, so each view sees every envelope.
type Queue struct {
	js     jetstream.JetStream
	cfg    QueueConfig
	logger *logger.Logger
}

// NewQueue creates a queue on the given JetStream context.
func NewQueue(js jetstream.JetStream, cfg QueueConfig, log *logger.Logger) *Queue {
	return &Queue{
		js:     js,
		cfg:    cfg.withDefaults(),
		logger: logger.OrGlobal(log).Named("queue"),
	}
}

// EnsureStream ensures the queue stream exists with proper configuration.
func (q *Queue) EnsureStream(ctx context.Context) error {
	// Check if stream exists
	_, err := q.js.Stream(ctx, q.cfg.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = q.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        q.cfg.Stream,
		Subjects:    []string{q.cfg.Subject},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      q.cfg.MaxAge,
		Storage:     q.cfg.Storage,
		Replicas:    1,
		Duplicates:  q.cfg.DuplicateWindow,
		Description: "Shared chat envelope queue",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	q.logger.Info("created queue stream",
		zap.String("stream", q.cfg.Stream),
		zap.String("subject", q.cfg.Subject),
	)
	return nil
}

// Open creates a consumer for one view. The consumer replays the whole
// stream and is deleted on Close, or by the server once idle.
func (q *Queue) Open(ctx context.Context, identity string) (transport.Transport, error) {
	consumer, err := q.js.CreateConsumer(ctx, q.cfg.Stream, jetstream.ConsumerConfig{
		Description:       "chat view for " + identity,
		FilterSubject:     q.cfg.Subject,
		DeliverPolicy:     jetstream.DeliverAllPolicy,
		AckPolicy:         jetstream.AckExplicitPolicy,
		InactiveThreshold: q.cfg.InactiveThreshold,
	})
	metrics.RecordQueueCall(backendName, "open", err)
	if err != nil {
		return nil, transport.Wrap("open", fmt.Errorf("failed to create consumer: %w", err))
	}

	return &endpoint{
		queue:    q,
		consumer: consumer,
		name:     consumer.CachedInfo().Name,
		logger:   q.logger.With(zap.String("identity", identity)),
	}, nil
}

type endpoint struct {
	queue    *Queue
	consumer jetstream.Consumer
	name     string
	logger   *logger.Logger
}

// Receive fetches up to maxMessages envelopes, acknowledging each one. Ids are
// stream sequence numbers.
func (e *endpoint) Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]model.Delivery, error) {
	deliveries, err := e.receive(ctx, maxMessages, wait)
	metrics.RecordQueueCall(backendName, "receive", err)
	if err != nil {
		return nil, transport.Wrap("receive", err)
	}
	return deliveries, nil
}

func (e *endpoint) receive(ctx context.Context, maxMessages int, wait time.Duration) ([]model.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if maxMessages <= 0 {
		maxMessages = 1
	}

	var (
		batch jetstream.MessageBatch
		err   error
	)
	if wait <= 0 {
		batch, err = e.consumer.FetchNoWait(maxMessages)
	} else {
		batch, err = e.consumer.Fetch(maxMessages, jetstream.FetchMaxWait(wait))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	var deliveries []model.Delivery
	for msg := range batch.Messages() {
		meta, err := msg.Metadata()
		if err != nil {
			e.logger.Warn("dropping message without metadata", zap.Error(err))
			_ = msg.Term()
			continue
		}
		if err := msg.Ack(); err != nil {
			e.logger.Warn("failed to ack message",
				zap.Uint64("sequence", meta.Sequence.Stream),
				zap.Error(err),
			)
		}
		deliveries = append(deliveries, model.Delivery{
			ID:       strconv.FormatUint(meta.Sequence.Stream, 10),
			Envelope: string(msg.Data()),
		})
	}

	if err := batch.Error(); err != nil &&
		!errors.Is(err, nats.ErrTimeout) &&
		!errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("batch error: %w", err)
	}

	return deliveries, nil
}

// Send publishes envelope with a unique message id so a retried publish is
// stored once within the duplicate window.
func (e *endpoint) Send(ctx context.Context, envelope string) (string, error) {
	ack, err := e.queue.js.Publish(ctx, e.queue.cfg.Subject, []byte(envelope),
		jetstream.WithMsgID(uuid.Must(uuid.NewV7()).String()),
		jetstream.WithExpectStream(e.queue.cfg.Stream),
	)
	metrics.RecordQueueCall(backendName, "send", err)
	if err != nil {
		return "", transport.Wrap("send", fmt.Errorf("failed to publish message: %w", err))
	}
	return strconv.FormatUint(ack.Sequence, 10), nil
}

// Close deletes the view's consumer.
func (e *endpoint) Close(ctx context.Context) error {
	err := e.queue.js.DeleteConsumer(ctx, e.queue.cfg.Stream, e.name)
	if errors.Is(err, jetstream.ErrConsumerNotFound) {
		err = nil
	}
	metrics.RecordQueueCall(backendName, "close", err)
	if err != nil {
		return transport.Wrap("close", fmt.Errorf("failed to delete consumer: %w", err))
	}
	return nil
}
