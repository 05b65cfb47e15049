package orchestrator

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

// Orchestrator owns a job from dequeue to terminal transition. One
// instance may process many jobs; multiple instances may consume from the
// queue concurrently. Deduplication is by job store status.
type Orchestrator struct {
	jobs    domain.JobRepository
	prereqs *PrereqResolver
	invoker domain.WorkerInvoker
	timeout time.Duration
}

// New constructs an Orchestrator. timeout is the overall job deadline
// measured from running entry (default 900s).
func New(jobs domain.JobRepository, instruments domain.InstrumentRepository, invoker domain.WorkerInvoker, timeout time.Duration) *Orchestrator {
	if timeout <= 0 {
		timeout = 900 * time.Second
	}
	return &Orchestrator{
		jobs:    jobs,
		prereqs: NewPrereqResolver(instruments),
		invoker: invoker,
		timeout: timeout,
	}
}

// Process drives the state machine for one dequeued submission.
//
// A nil return means the message must be acknowledged: either the job
// reached a terminal state, or the message is a no-op (terminal job,
// unknown id). A non-nil return means the terminal outcome could not be
// recorded and the message should be redelivered.
func (o *Orchestrator) Process(ctx context.Context, jobID string) error {
	tracer := otel.Tracer("orchestrator")
	ctx, span := tracer.Start(ctx, "orchestrator.Process")
	span.SetAttributes(attribute.String("job.id", jobID))
	defer span.End()

	lg := slog.With(slog.String("job_id", jobID))

	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// External submitter bug: the envelope references a job that
			// was never written. Acknowledge; requeueing cannot fix it.
			lg.Warn("submission references unknown job, dropping")
			return nil
		}
		return fmt.Errorf("op=orchestrate.get: %w", err)
	}

	// Redelivery of a terminal job is a no-op acknowledgment.
	if job.Status.Terminal() {
		lg.Info("job already terminal, acknowledging redelivery", slog.String("status", string(job.Status)))
		return nil
	}

	lg = lg.With(slog.String("kind", job.Kind))

	// PENDING -> RUNNING. On redelivery after a crash the job may already
	// be RUNNING; re-enter the algorithm without a transition.
	if job.Status == domain.JobPending {
		if err := o.jobs.SetStatus(ctx, jobID, domain.JobRunning, nil); err != nil {
			if errors.Is(err, domain.ErrIllegalTransition) {
				// Lost the race with a concurrent consumer; whoever won
				// owns the job now.
				lg.Info("lost running transition race, acknowledging")
				return nil
			}
			return fmt.Errorf("op=orchestrate.start: %w", err)
		}
		observability.StartJob(job.Kind)
		lg.Info("job running")
	} else {
		lg.Info("re-entering running job after redelivery")
	}

	started := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	timings := NewTimingSet()
	var agentsInvoked []domain.WorkerName

	// fail writes the partial summary and the failed terminal status.
	// Store writes use the consumer context: the run deadline firing is
	// exactly when these writes must still go through.
	fail := func(msg string) error {
		lg.Error("job failed", slog.String("error", msg))
		summary := o.buildSummary(started, agentsInvoked, timings)
		if err := o.jobs.SetSummary(ctx, jobID, summary); err != nil {
			lg.Error("failed to write partial summary", slog.Any("error", err))
		}
		if err := o.jobs.SetStatus(ctx, jobID, domain.JobFailed, &msg); err != nil {
			if errors.Is(err, domain.ErrIllegalTransition) {
				lg.Warn("terminal transition already taken elsewhere", slog.Any("error", err))
				return nil
			}
			return fmt.Errorf("op=orchestrate.fail: %w", err)
		}
		observability.FailJob(job.Kind, summary.TotalDurationSeconds)
		return nil
	}

	spec, ok := domain.KindSpecs[job.Kind]
	if !ok {
		return fail(fmt.Sprintf("unknown job kind %q", job.Kind))
	}

	// Load the portfolio snapshot (external collaborator read).
	snap, err := domain.ParseSnapshot(job.RequestPayload)
	if err != nil {
		return fail(fmt.Sprintf("invalid request payload: %v", err))
	}

	prereqs, err := o.prereqs.Resolve(runCtx, spec, snap)
	if err != nil {
		return fail(err.Error())
	}

	// Prerequisites run sequentially; any failure is fatal to the job.
	for _, w := range prereqs {
		agentsInvoked = append(agentsInvoked, w)
		if job.HasWorkerPayload(w) {
			lg.Info("skipping prerequisite with filled payload slot", slog.String("worker", string(w)))
			timings.RecordSkipped(w)
			continue
		}
		tspan := timings.Start(w)
		_, err := o.invoker.Invoke(runCtx, w, jobID)
		err = normalizeInvocationError(runCtx, w, err)
		tspan.End(err)
		if err != nil {
			return fail(err.Error())
		}
		lg.Info("prerequisite completed", slog.String("worker", string(w)))
	}

	// Fan-out: skip workers whose payload slot was filled by a previous
	// delivery; their original payload stays untouched.
	var toRun []domain.WorkerName
	for _, w := range spec.FanOut {
		agentsInvoked = append(agentsInvoked, w)
		if job.HasWorkerPayload(w) {
			lg.Info("skipping fan-out worker with filled payload slot", slog.String("worker", string(w)))
			timings.RecordSkipped(w)
			continue
		}
		toRun = append(toRun, w)
	}

	results := ExecuteFanOut(runCtx, o.invoker, jobID, toRun, timings)
	for w, res := range results {
		if res.Err != nil {
			// Fan-out failures are recorded, never fatal.
			lg.Warn("fan-out worker failed", slog.String("worker", string(w)), slog.Any("error", res.Err))
		}
	}

	if runCtx.Err() != nil {
		return fail("orchestrator deadline exceeded")
	}

	summary := o.buildSummary(started, agentsInvoked, timings)
	if err := o.jobs.SetSummary(ctx, jobID, summary); err != nil {
		return fail(fmt.Sprintf("write summary: %v", err))
	}
	if err := o.jobs.SetStatus(ctx, jobID, domain.JobCompleted, nil); err != nil {
		if errors.Is(err, domain.ErrIllegalTransition) {
			// The sweeper or a crash-path writer got there first; the
			// terminal state stands.
			lg.Warn("completed transition rejected, terminal state already taken", slog.Any("error", err))
			return nil
		}
		return fmt.Errorf("op=orchestrate.complete: %w", err)
	}
	observability.CompleteJob(job.Kind, summary.TotalDurationSeconds)
	lg.Info("job completed",
		slog.Float64("total_duration_seconds", summary.TotalDurationSeconds),
		slog.Int("agents_invoked", len(summary.AgentsInvoked)))
	return nil
}

func (o *Orchestrator) buildSummary(started time.Time, agentsInvoked []domain.WorkerName, timings *TimingSet) domain.Summary {
	return domain.Summary{
		TotalDurationSeconds: time.Since(started).Seconds(),
		CompletionTime:       time.Now().UTC(),
		AgentsInvoked:        append([]domain.WorkerName(nil), agentsInvoked...),
		AgentExecutions:      timings.Executions(),
	}
}
