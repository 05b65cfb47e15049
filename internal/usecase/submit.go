// Package usecase contains application business logic services.
package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/portfolio-agents/internal/adapter/observability"
	"github.com/fairyhunter13/portfolio-agents/internal/domain"
)

// SubmitService creates jobs in the durable store and enqueues their
// submission envelopes.
type SubmitService struct {
	Jobs  domain.JobRepository
	Queue domain.Queue
}

// NewSubmitService constructs a SubmitService with its dependencies.
func NewSubmitService(j domain.JobRepository, q domain.Queue) SubmitService {
	return SubmitService{Jobs: j, Queue: q}
}

// Submit validates inputs, persists a pending job, and enqueues its
// submission. The durable write happens before the enqueue: a job with no
// queue message can be recovered with Resubmit, a queue message with no
// job cannot be recovered at all.
func (s SubmitService) Submit(ctx context.Context, owner, kind string, requestPayload json.RawMessage) (string, error) {
	if owner == "" {
		return "", fmt.Errorf("%w: owner required", domain.ErrInvalidArgument)
	}
	if _, ok := domain.KindSpecs[kind]; !ok {
		return "", fmt.Errorf("%w: unknown job kind %q", domain.ErrInvalidArgument, kind)
	}
	if len(requestPayload) == 0 || !json.Valid(requestPayload) {
		return "", fmt.Errorf("%w: request payload must be valid JSON", domain.ErrInvalidArgument)
	}

	now := time.Now().UTC()
	jobID, err := s.Jobs.Create(ctx, domain.Job{
		Owner:          owner,
		Kind:           kind,
		Status:         domain.JobPending,
		RequestPayload: requestPayload,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return "", fmt.Errorf("op=submit.create: %w", err)
	}

	if _, err := s.Queue.EnqueueSubmission(ctx, domain.SubmissionPayload{JobID: jobID}); err != nil {
		// The job stays pending; the caller retries with Resubmit rather
		// than creating a duplicate.
		slog.Error("failed to enqueue submission for new job",
			slog.String("job_id", jobID), slog.Any("error", err))
		return jobID, fmt.Errorf("op=submit.enqueue: %w", err)
	}
	observability.EnqueueJob(kind)
	return jobID, nil
}

// Resubmit re-enqueues the submission envelope for an existing pending
// job, recovering from an enqueue failure after the durable write.
func (s SubmitService) Resubmit(ctx context.Context, jobID string) error {
	job, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("op=resubmit.get: %w", err)
	}
	if job.Status != domain.JobPending {
		return fmt.Errorf("%w: job %s is %s, only pending jobs can be resubmitted",
			domain.ErrInvalidArgument, jobID, job.Status)
	}
	if _, err := s.Queue.EnqueueSubmission(ctx, domain.SubmissionPayload{JobID: jobID}); err != nil {
		return fmt.Errorf("op=resubmit.enqueue: %w", err)
	}
	observability.EnqueueJob(job.Kind)
	return nil
}

// Get returns the job as stored, summary included once terminal.
func (s SubmitService) Get(ctx context.Context, jobID string) (domain.Job, error) {
	if jobID == "" {
		return domain.Job{}, fmt.Errorf("%w: job id required", domain.ErrInvalidArgument)
	}
	return s.Jobs.Get(ctx, jobID)
}
