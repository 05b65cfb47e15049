package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/portfolio-agents/internal/domain"
)

// slotColumns whitelists the payload slot column per worker name. The set
// of slots is fixed per kind and known at compile time; anything else is
// an invalid argument, never interpolated SQL.
var slotColumns = map[domain.WorkerName]string{
	domain.WorkerClassifier: "classifier_payload",
	domain.WorkerAnalyzer:   "analyzer_payload",
	domain.WorkerVisualizer: "visualizer_payload",
	domain.WorkerProjector:  "projector_payload",
}

// JobRepo persists and loads jobs from PostgreSQL using a minimal pgx pool.
// Transient backend errors are retried inside each primitive.
type JobRepo struct {
	Pool  PgxPool
	retry Retrier
}

// NewJobRepo constructs a JobRepo with the given pool and retry budget.
func NewJobRepo(p PgxPool, r Retrier) *JobRepo { return &JobRepo{Pool: p, retry: r} }

const jobColumns = `id, owner, kind, status,
	request_payload,
	classifier_payload, analyzer_payload, visualizer_payload, projector_payload,
	summary_payload, COALESCE(error_message,''),
	created_at, started_at, completed_at, updated_at`

// Create inserts a new pending job and returns its id.
func (r *JobRepo) Create(ctx context.Context, j domain.Job) (string, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Create")
	defer span.End()
	id := j.ID
	if id == "" {
		id = uuid.New().String()
	}
	status := j.Status
	if status == "" {
		status = domain.JobPending
	}
	q := `INSERT INTO jobs (id, owner, kind, status, request_payload, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`
	now := time.Now().UTC()
	err := r.retry.Do(ctx, "job.create", func(ctx context.Context) error {
		_, err := r.Pool.Exec(ctx, q, id, j.Owner, j.Kind, status, j.RequestPayload, now, now)
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Get loads the current snapshot of a job by id.
func (r *JobRepo) Get(ctx context.Context, id string) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Get")
	defer span.End()
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE id=$1`
	var j domain.Job
	err := r.retry.Do(ctx, "job.get", func(ctx context.Context) error {
		row := r.Pool.QueryRow(ctx, q, id)
		scanned, err := scanJob(row)
		if err != nil {
			return err
		}
		j = scanned
		return nil
	})
	if err != nil {
		return domain.Job{}, err
	}
	return j, nil
}

func scanJob(row pgx.Row) (domain.Job, error) {
	var j domain.Job
	var classifier, analyzer, visualizer, projector, summary []byte
	if err := row.Scan(
		&j.ID, &j.Owner, &j.Kind, &j.Status,
		&j.RequestPayload,
		&classifier, &analyzer, &visualizer, &projector,
		&summary, &j.ErrorMessage,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Job{}, fmt.Errorf("op=job.get: %w", domain.ErrNotFound)
		}
		return domain.Job{}, fmt.Errorf("op=job.scan: %w", err)
	}
	j.WorkerPayloads = map[domain.WorkerName]json.RawMessage{}
	for w, raw := range map[domain.WorkerName][]byte{
		domain.WorkerClassifier: classifier,
		domain.WorkerAnalyzer:   analyzer,
		domain.WorkerVisualizer: visualizer,
		domain.WorkerProjector:  projector,
	} {
		if len(raw) > 0 {
			j.WorkerPayloads[w] = json.RawMessage(raw)
		}
	}
	if len(summary) > 0 {
		var s domain.Summary
		if err := json.Unmarshal(summary, &s); err != nil {
			return domain.Job{}, fmt.Errorf("op=job.scan_summary: %w", err)
		}
		j.Summary = &s
	}
	return j, nil
}

// SetStatus atomically applies a monotone status transition. started_at is
// set on the first transition out of pending, completed_at on any terminal
// transition, updated_at on every write. A transition the state machine
// does not allow returns domain.ErrIllegalTransition.
func (r *JobRepo) SetStatus(ctx context.Context, id string, status domain.JobStatus, errMsg *string) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.SetStatus")
	defer span.End()

	// The WHERE clause encodes the legal transitions so that two
	// concurrent writers can never both take a terminal transition.
	q := `UPDATE jobs SET
			status=$2,
			error_message=$3,
			started_at = CASE WHEN status='pending' THEN now() ELSE started_at END,
			completed_at = CASE WHEN $2 IN ('completed','failed') THEN now() ELSE completed_at END,
			updated_at = now()
		WHERE id=$1 AND (
			(status='pending' AND $2='running') OR
			(status='running' AND $2 IN ('completed','failed'))
		)`
	return r.retry.Do(ctx, "job.set_status", func(ctx context.Context) error {
		tag, err := r.Pool.Exec(ctx, q, id, status, errMsg)
		if err != nil {
			return err
		}
		if tag.RowsAffected() > 0 {
			return nil
		}
		// Distinguish a missing job from an illegal transition.
		var current domain.JobStatus
		if err := r.Pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id=$1`, id).Scan(&current); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("op=job.set_status: %w", domain.ErrNotFound)
			}
			return err
		}
		return fmt.Errorf("op=job.set_status: %s -> %s: %w", current, status, domain.ErrIllegalTransition)
	})
}

// SetWorkerPayload atomically writes one payload slot. Last writer wins;
// the orchestrator never issues concurrent writes to the same slot.
func (r *JobRepo) SetWorkerPayload(ctx context.Context, id string, worker domain.WorkerName, payload json.RawMessage) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.SetWorkerPayload")
	defer span.End()
	col, ok := slotColumns[worker]
	if !ok {
		return fmt.Errorf("op=job.set_worker_payload: unknown worker %q: %w", worker, domain.ErrInvalidArgument)
	}
	q := fmt.Sprintf(`UPDATE jobs SET %s=$2, updated_at=now() WHERE id=$1`, col)
	return r.retry.Do(ctx, "job.set_worker_payload", func(ctx context.Context) error {
		tag, err := r.Pool.Exec(ctx, q, id, payload)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("op=job.set_worker_payload: %w", domain.ErrNotFound)
		}
		return nil
	})
}

// SetSummary writes the summary payload atomically.
func (r *JobRepo) SetSummary(ctx context.Context, id string, s domain.Summary) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.SetSummary")
	defer span.End()
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("op=job.set_summary: %w", err)
	}
	q := `UPDATE jobs SET summary_payload=$2, updated_at=now() WHERE id=$1`
	return r.retry.Do(ctx, "job.set_summary", func(ctx context.Context) error {
		tag, err := r.Pool.Exec(ctx, q, id, b)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("op=job.set_summary: %w", domain.ErrNotFound)
		}
		return nil
	})
}

// ListStaleRunning returns running jobs whose last write is older than the
// given cutoff, for the stale-job sweeper.
func (r *JobRepo) ListStaleRunning(ctx context.Context, updatedBefore time.Time, limit int) ([]domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.ListStaleRunning")
	defer span.End()
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + jobColumns + ` FROM jobs
		WHERE status='running' AND updated_at < $1
		ORDER BY updated_at ASC LIMIT $2`
	var out []domain.Job
	err := r.retry.Do(ctx, "job.list_stale_running", func(ctx context.Context) error {
		rows, err := r.Pool.Query(ctx, q, updatedBefore.UTC(), limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			j, err := scanJob(rows)
			if err != nil {
				return err
			}
			out = append(out, j)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
