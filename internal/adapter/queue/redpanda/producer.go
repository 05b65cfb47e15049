// Package redpanda provides the Redpanda/Kafka work queue adapter: an
// exactly-once submission producer and a consumer-group reader with
// at-least-once delivery, redelivery accounting, and a dead-letter topic.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fairyhunter13/portfolio-agents/internal/domain"
)

const (
	// TopicSubmissions is the work queue topic for analysis jobs.
	TopicSubmissions = "analysis-jobs"
	// TopicSubmissionsDLQ receives messages that exhausted their
	// redelivery budget.
	TopicSubmissionsDLQ = "analysis-jobs-dlq"
)

// Producer wraps a transactional Kafka producer and implements
// domain.Queue.
type Producer struct {
	client *kgo.Client
	topic  string
	// Serializes transactions; the franz-go transactional producer allows
	// one in-flight transaction per client.
	txnChan chan struct{}
}

// NewProducer constructs a transactional Producer for the submission
// topic.
func NewProducer(brokers []string) (*Producer, error) {
	return NewProducerWithOptions(brokers, TopicSubmissions, "portfolio-agents-producer")
}

// NewProducerWithOptions constructs a Producer with a custom topic and
// transactional id. Tests use unique values for isolation.
func NewProducerWithOptions(brokers []string, topic, transactionalID string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.TransactionalID(transactionalID),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1000000),
	)
	if err != nil {
		return nil, fmt.Errorf("redpanda client: %w", err)
	}

	ctx := context.Background()
	if err := createTopicIfNotExists(ctx, client, topic, 8, 1); err != nil {
		slog.Warn("failed to create topic, it may already exist",
			slog.String("topic", topic), slog.Any("error", err))
	}
	if err := createTopicIfNotExists(ctx, client, topic+"-dlq", 1, 1); err != nil {
		slog.Warn("failed to create dlq topic, it may already exist",
			slog.String("topic", topic+"-dlq"), slog.Any("error", err))
	}

	return &Producer{
		client:  client,
		topic:   topic,
		txnChan: make(chan struct{}, 1),
	}, nil
}

// EnqueueSubmission publishes a submission envelope with exactly-once
// semantics and returns the job id as the message id. The job id keys the
// record so redeliveries of the same job stay ordered per partition.
func (p *Producer) EnqueueSubmission(ctx context.Context, payload domain.SubmissionPayload) (string, error) {
	if payload.JobID == "" {
		return "", fmt.Errorf("op=queue.enqueue: %w: empty job id", domain.ErrInvalidArgument)
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("op=queue.enqueue: marshal payload: %w", err)
	}
	rec := &kgo.Record{
		Topic:   p.topic,
		Key:     []byte(payload.JobID),
		Value:   b,
		Headers: submissionHeaders(payload.JobID, 1),
	}
	if err := p.produceInTxn(ctx, rec); err != nil {
		return "", fmt.Errorf("op=queue.enqueue: %w", err)
	}
	slog.Info("submission enqueued", slog.String("job_id", payload.JobID), slog.String("topic", p.topic))
	return payload.JobID, nil
}

// produceInTxn publishes one record inside a producer transaction.
func (p *Producer) produceInTxn(ctx context.Context, rec *kgo.Record) error {
	select {
	case p.txnChan <- struct{}{}:
		defer func() { <-p.txnChan }()
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := p.client.BeginTransaction(); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	e := kgo.AbortingFirstErrPromise(p.client)
	p.client.Produce(ctx, rec, e.Promise())
	if err := e.Err(); err != nil {
		if abortErr := p.client.EndTransaction(ctx, kgo.TryAbort); abortErr != nil {
			slog.Error("failed to abort transaction", slog.Any("error", abortErr))
		}
		return fmt.Errorf("produce: %w", err)
	}

	if err := p.client.EndTransaction(ctx, kgo.TryCommit); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Close closes the producer client.
func (p *Producer) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}
