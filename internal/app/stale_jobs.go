// Package app hosts long-running application services that sit outside
// the per-message processing path.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/portfolio-agents/internal/adapter/observability"
	"github.com/fairyhunter13/portfolio-agents/internal/domain"
)

// StaleJobSweeper fails RUNNING jobs whose consumer died without reaching
// a terminal transition. A job is stale once its updated_at falls behind
// the maximum processing age; the orchestrator deadline plus one sweep
// interval bounds how long a crashed job stays RUNNING.
type StaleJobSweeper struct {
	jobs             domain.JobRepository
	maxProcessingAge time.Duration
	interval         time.Duration
}

// NewStaleJobSweeper constructs a sweeper. maxProcessingAge should exceed
// the orchestrator timeout so in-flight jobs are never swept.
func NewStaleJobSweeper(jobs domain.JobRepository, maxProcessingAge, interval time.Duration) *StaleJobSweeper {
	if jobs == nil {
		return nil
	}
	if maxProcessingAge <= 0 {
		maxProcessingAge = 20 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &StaleJobSweeper{
		jobs:             jobs,
		maxProcessingAge: maxProcessingAge,
		interval:         interval,
	}
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
func (s *StaleJobSweeper) Run(ctx context.Context) {
	if s == nil || s.jobs == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("stale job sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *StaleJobSweeper) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("jobs.sweeper")
	ctx, span := tracer.Start(ctx, "StaleJobSweeper.sweepOnce")
	defer span.End()

	const pageSize = 100
	cutoff := time.Now().Add(-s.maxProcessingAge)
	span.SetAttributes(
		attribute.Int("jobs.page_size", pageSize),
		attribute.Float64("jobs.max_processing_age_seconds", s.maxProcessingAge.Seconds()),
	)

	marked := 0
	for {
		jobs, err := s.jobs.ListStaleRunning(ctx, cutoff, pageSize)
		if err != nil {
			span.RecordError(err)
			slog.Error("stale job sweep failed to list jobs", slog.Any("error", err))
			return
		}
		if len(jobs) == 0 {
			break
		}

		// progressed counts jobs removed from future listings: either this
		// sweeper took them terminal or a concurrent writer did. A page with
		// no progress would be re-listed verbatim, so the loop stops and the
		// next tick retries.
		progressed := 0
		for _, j := range jobs {
			switch err := s.failStaleJob(ctx, j); {
			case err == nil:
				progressed++
				marked++
			case errors.Is(err, domain.ErrIllegalTransition):
				// The job reached a terminal state between the list and the
				// write; it leaves the listing either way.
				progressed++
			default:
				span.RecordError(err)
				slog.Error("stale job sweep failed to fail job",
					slog.String("job_id", j.ID), slog.Any("error", err))
			}
		}

		if len(jobs) < pageSize || progressed == 0 {
			break
		}
	}

	span.SetAttributes(attribute.Int("jobs.marked_failed", marked))
}

// failStaleJob takes one stale job to FAILED. The summary is written
// first: a poller that observes a terminal status must also observe a
// summary payload, so a job whose consumer died before writing one gets
// a best-effort empty summary here.
func (s *StaleJobSweeper) failStaleJob(ctx context.Context, j domain.Job) error {
	if j.Summary == nil {
		startedAt := j.UpdatedAt
		if j.StartedAt != nil {
			startedAt = *j.StartedAt
		}
		summary := domain.Summary{
			TotalDurationSeconds: time.Since(startedAt).Seconds(),
			CompletionTime:       time.Now().UTC(),
			AgentsInvoked:        []domain.WorkerName{},
			AgentExecutions:      map[domain.WorkerName]domain.WorkerExecution{},
		}
		if err := s.jobs.SetSummary(ctx, j.ID, summary); err != nil {
			return fmt.Errorf("op=sweep.summary: %w", err)
		}
	}

	msg := fmt.Sprintf("job exceeded maximum processing age %v; marked failed by sweeper", s.maxProcessingAge)
	if err := s.jobs.SetStatus(ctx, j.ID, domain.JobFailed, &msg); err != nil {
		if errors.Is(err, domain.ErrIllegalTransition) {
			return err
		}
		return fmt.Errorf("op=sweep.fail: %w", err)
	}

	observability.FailJob(j.Kind, time.Since(j.UpdatedAt).Seconds())
	slog.Warn("stale running job marked failed",
		slog.String("job_id", j.ID),
		slog.Time("updated_at", j.UpdatedAt))
	return nil
}
