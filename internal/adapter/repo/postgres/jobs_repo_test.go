package postgres_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/portfolio-agents/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/portfolio-agents/internal/domain"
)

// rowStub implements pgx.Row.
type rowStub struct{ scan func(dest ...any) error }

func (r rowStub) Scan(dest ...any) error { return r.scan(dest...) }

// execCall records one Exec invocation.
type execCall struct {
	sql  string
	args []any
}

// poolStub implements postgres.PgxPool with scripted results.
type poolStub struct {
	execTag  pgconn.CommandTag
	execErr  error
	row      rowStub
	execs    []execCall
	queryErr error
}

func (p *poolStub) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.execs = append(p.execs, execCall{sql: sql, args: args})
	return p.execTag, p.execErr
}

func (p *poolStub) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	if p.row.scan == nil {
		return rowStub{scan: func(_ ...any) error { return pgx.ErrNoRows }}
	}
	return p.row
}

func (p *poolStub) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, p.queryErr
}

func testRetrier() postgres.Retrier {
	return postgres.Retrier{MaxAttempts: 1, MaxElapsed: time.Second}
}

func TestJobRepoCreateGeneratesID(t *testing.T) {
	t.Parallel()
	pool := &poolStub{execTag: pgconn.NewCommandTag("INSERT 0 1")}
	repo := postgres.NewJobRepo(pool, testRetrier())

	id, err := repo.Create(context.Background(), domain.Job{
		Owner:          "user-1",
		Kind:           domain.KindPortfolioAnalysis,
		RequestPayload: json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.Len(t, pool.execs, 1)
	assert.Contains(t, pool.execs[0].sql, "INSERT INTO jobs")
	// Empty status defaults to pending at insert time.
	assert.Equal(t, domain.JobPending, pool.execs[0].args[3])
}

func TestJobRepoCreateKeepsProvidedID(t *testing.T) {
	t.Parallel()
	pool := &poolStub{execTag: pgconn.NewCommandTag("INSERT 0 1")}
	repo := postgres.NewJobRepo(pool, testRetrier())

	id, err := repo.Create(context.Background(), domain.Job{ID: "job-7", Status: domain.JobPending})
	require.NoError(t, err)
	assert.Equal(t, "job-7", id)
}

func TestJobRepoCreateError(t *testing.T) {
	t.Parallel()
	pool := &poolStub{execErr: assert.AnError}
	repo := postgres.NewJobRepo(pool, testRetrier())

	_, err := repo.Create(context.Background(), domain.Job{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=job.create")
}

func TestJobRepoGetNotFound(t *testing.T) {
	t.Parallel()
	pool := &poolStub{}
	repo := postgres.NewJobRepo(pool, testRetrier())

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJobRepoSetStatusTransitionApplied(t *testing.T) {
	t.Parallel()
	pool := &poolStub{execTag: pgconn.NewCommandTag("UPDATE 1")}
	repo := postgres.NewJobRepo(pool, testRetrier())

	require.NoError(t, repo.SetStatus(context.Background(), "job-1", domain.JobRunning, nil))
	require.Len(t, pool.execs, 1)
	// The guard lives in the statement itself.
	assert.Contains(t, pool.execs[0].sql, "status='pending' AND $2='running'")
	assert.Contains(t, pool.execs[0].sql, "status='running' AND $2 IN ('completed','failed')")
}

func TestJobRepoSetStatusIllegalTransition(t *testing.T) {
	t.Parallel()
	// Zero rows updated, current status resolves to completed.
	pool := &poolStub{
		execTag: pgconn.NewCommandTag("UPDATE 0"),
		row: rowStub{scan: func(dest ...any) error {
			*(dest[0].(*domain.JobStatus)) = domain.JobCompleted
			return nil
		}},
	}
	repo := postgres.NewJobRepo(pool, testRetrier())

	err := repo.SetStatus(context.Background(), "job-1", domain.JobFailed, nil)
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)
	assert.Contains(t, err.Error(), "completed -> failed")
}

func TestJobRepoSetStatusMissingJob(t *testing.T) {
	t.Parallel()
	pool := &poolStub{execTag: pgconn.NewCommandTag("UPDATE 0")}
	repo := postgres.NewJobRepo(pool, testRetrier())

	err := repo.SetStatus(context.Background(), "missing", domain.JobRunning, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJobRepoSetWorkerPayloadWhitelistsColumns(t *testing.T) {
	t.Parallel()
	pool := &poolStub{execTag: pgconn.NewCommandTag("UPDATE 1")}
	repo := postgres.NewJobRepo(pool, testRetrier())

	require.NoError(t, repo.SetWorkerPayload(context.Background(), "job-1", domain.WorkerAnalyzer, json.RawMessage(`{"risk":"low"}`)))
	require.Len(t, pool.execs, 1)
	assert.Contains(t, pool.execs[0].sql, "analyzer_payload=$2")

	err := repo.SetWorkerPayload(context.Background(), "job-1", domain.WorkerName("evil; DROP TABLE jobs"), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	// No statement was issued for the unknown worker.
	assert.Len(t, pool.execs, 1)
}

func TestJobRepoSetWorkerPayloadMissingJob(t *testing.T) {
	t.Parallel()
	pool := &poolStub{execTag: pgconn.NewCommandTag("UPDATE 0")}
	repo := postgres.NewJobRepo(pool, testRetrier())

	err := repo.SetWorkerPayload(context.Background(), "missing", domain.WorkerProjector, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJobRepoSetSummary(t *testing.T) {
	t.Parallel()
	pool := &poolStub{execTag: pgconn.NewCommandTag("UPDATE 1")}
	repo := postgres.NewJobRepo(pool, testRetrier())

	s := domain.Summary{
		TotalDurationSeconds: 12.5,
		CompletionTime:       time.Now().UTC(),
		AgentsInvoked:        []domain.WorkerName{domain.WorkerAnalyzer},
		AgentExecutions: map[domain.WorkerName]domain.WorkerExecution{
			domain.WorkerAnalyzer: {Status: domain.ExecutionCompleted, DurationSeconds: 12.5},
		},
	}
	require.NoError(t, repo.SetSummary(context.Background(), "job-1", s))

	require.Len(t, pool.execs, 1)
	assert.Contains(t, pool.execs[0].sql, "summary_payload=$2")
	raw, ok := pool.execs[0].args[1].([]byte)
	require.True(t, ok)
	var got domain.Summary
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, s.TotalDurationSeconds, got.TotalDurationSeconds)
	assert.Equal(t, s.AgentsInvoked, got.AgentsInvoked)
}

func TestJobRepoListStaleRunningQueryError(t *testing.T) {
	t.Parallel()
	pool := &poolStub{queryErr: assert.AnError}
	repo := postgres.NewJobRepo(pool, testRetrier())

	_, err := repo.ListStaleRunning(context.Background(), time.Now(), 10)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "op=job.list_stale_running"))
}
