package redpanda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/portfolio-agents/internal/adapter/observability"
	"github.com/fairyhunter13/portfolio-agents/internal/domain"
)

// Handler processes one dequeued submission. A nil return acknowledges
// the message; an error triggers redelivery accounting.
type Handler func(ctx context.Context, jobID string) error

// queueClient is the slice of kgo.Client the record path needs. The poll
// loop stays on the concrete client; redelivery and offset accounting go
// through this seam.
type queueClient interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
}

// Consumer reads submission envelopes from the work queue and hands them
// to the orchestrator. Delivery is at-least-once: offsets are committed
// only after the handler returns, and a failed handling is re-published
// with its receive count incremented until the redelivery budget is
// spent, at which point the message moves to the dead-letter topic.
type Consumer struct {
	client      *kgo.Client
	q           queueClient
	handler     Handler
	groupID     string
	topic       string
	dlqTopic    string
	maxReceives int
}

// NewConsumer constructs a Consumer on the submission topic.
func NewConsumer(brokers []string, groupID string, maxReceives int, handler Handler) (*Consumer, error) {
	return NewConsumerWithTopic(brokers, groupID, maxReceives, TopicSubmissions, handler)
}

// NewConsumerWithTopic constructs a Consumer on a custom topic. Tests use
// unique topics for isolation. The dead-letter topic is derived by
// appending "-dlq".
func NewConsumerWithTopic(brokers []string, groupID string, maxReceives int, topic string, handler Handler) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	if groupID == "" {
		return nil, fmt.Errorf("missing required group ID")
	}
	if maxReceives < 1 {
		return nil, fmt.Errorf("max receives must be at least 1")
	}
	if handler == nil {
		return nil, fmt.Errorf("missing handler")
	}

	kotelService := kotel.NewKotel(kotel.WithTracer(
		kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider())),
	))

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topic),
		kgo.WithHooks(kotelService.Hooks()...),
		kgo.DisableAutoCommit(),
		kgo.DialTimeout(10*time.Second),
		kgo.SessionTimeout(30*time.Second),
		kgo.HeartbeatInterval(3*time.Second),
		kgo.RebalanceTimeout(10*time.Second),
		kgo.FetchMaxWait(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("redpanda consumer client: %w", err)
	}

	ctx := context.Background()
	if err := createTopicIfNotExists(ctx, client, topic, 8, 1); err != nil {
		slog.Warn("failed to create topic, it may already exist",
			slog.String("topic", topic), slog.Any("error", err))
	}
	dlq := topic + "-dlq"
	if err := createTopicIfNotExists(ctx, client, dlq, 1, 1); err != nil {
		slog.Warn("failed to create dlq topic, it may already exist",
			slog.String("topic", dlq), slog.Any("error", err))
	}

	return &Consumer{
		client:      client,
		q:           client,
		handler:     handler,
		groupID:     groupID,
		topic:       topic,
		dlqTopic:    dlq,
		maxReceives: maxReceives,
	}, nil
}

// Start polls until the context is cancelled. Records within a poll are
// handled sequentially; horizontal scaling is by running more consumer
// instances in the same group.
func (c *Consumer) Start(ctx context.Context) error {
	slog.Info("starting submission consumer",
		slog.String("group_id", c.groupID),
		slog.String("topic", c.topic),
		slog.Int("max_receives", c.maxReceives))

	for {
		if ctx.Err() != nil {
			slog.Info("submission consumer shutting down")
			return ctx.Err()
		}

		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, fe := range errs {
				if errors.Is(fe.Err, context.Canceled) {
					continue
				}
				slog.Error("fetch error",
					slog.String("topic", fe.Topic),
					slog.Int("partition", int(fe.Partition)),
					slog.Any("error", fe.Err))
			}
		}

		fetches.EachRecord(func(rec *kgo.Record) {
			c.handleRecord(ctx, rec)
		})
	}
}

// handleRecord processes one record and commits its offset. The commit
// happens on every path: failures live on as re-published records or DLQ
// entries, never as uncommitted offsets.
func (c *Consumer) handleRecord(ctx context.Context, rec *kgo.Record) {
	count := receiveCount(rec)
	lg := slog.With(
		slog.String("topic", rec.Topic),
		slog.Int64("offset", rec.Offset),
		slog.Int("receive_count", count))

	var payload domain.SubmissionPayload
	if err := json.Unmarshal(rec.Value, &payload); err != nil || payload.JobID == "" {
		// Malformed envelopes cannot be dispatched; drop with a log line.
		lg.Error("dropping malformed submission envelope", slog.Any("error", err))
		c.commit(ctx, rec)
		return
	}
	lg = lg.With(slog.String("job_id", payload.JobID))

	err := c.handler(ctx, payload.JobID)
	if err == nil {
		c.commit(ctx, rec)
		return
	}
	lg.Error("submission handling failed", slog.Any("error", err))

	if count >= c.maxReceives {
		c.moveToDLQ(ctx, lg, payload.JobID, rec, err)
		c.commit(ctx, rec)
		return
	}

	// Re-publish with the count incremented; this is the redelivery.
	redelivery := &kgo.Record{
		Topic:   c.topic,
		Key:     rec.Key,
		Value:   rec.Value,
		Headers: submissionHeaders(payload.JobID, count+1),
	}
	if perr := c.q.ProduceSync(ctx, redelivery).FirstErr(); perr != nil {
		// Leaving the offset uncommitted keeps at-least-once delivery: the
		// original record comes back after a rebalance or restart.
		lg.Error("failed to re-publish submission, leaving offset uncommitted", slog.Any("error", perr))
		return
	}
	observability.QueueRedelivery()
	lg.Warn("submission re-published for redelivery", slog.Int("next_receive_count", count+1))
	c.commit(ctx, rec)
}

func (c *Consumer) moveToDLQ(ctx context.Context, lg *slog.Logger, jobID string, rec *kgo.Record, cause error) {
	dead := &kgo.Record{
		Topic: c.dlqTopic,
		Key:   rec.Key,
		Value: rec.Value,
		Headers: append(submissionHeaders(jobID, receiveCount(rec)),
			kgo.RecordHeader{Key: headerLastError, Value: []byte(cause.Error())}),
	}
	if err := c.q.ProduceSync(ctx, dead).FirstErr(); err != nil {
		lg.Error("failed to publish to dlq", slog.Any("error", err))
		return
	}
	observability.QueueDLQ()
	lg.Error("submission moved to dlq after exhausting redeliveries",
		slog.String("dlq_topic", c.dlqTopic),
		slog.String("last_error", cause.Error()))
}

func (c *Consumer) commit(ctx context.Context, rec *kgo.Record) {
	if err := c.q.CommitRecords(ctx, rec); err != nil {
		slog.Error("failed to commit offset",
			slog.String("topic", rec.Topic),
			slog.Int64("offset", rec.Offset),
			slog.Any("error", err))
	}
}

// Close closes the consumer client.
func (c *Consumer) Close() error {
	if c.client != nil {
		c.client.Close()
	}
	return nil
}
