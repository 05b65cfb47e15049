package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/portfolio-agents/internal/domain"
)

type sweeperRepo struct {
	mu         sync.Mutex
	jobs       map[string]domain.Job
	statusErr  error
	summaryErr error
	listCalls  int
}

func newSweeperRepo(seed ...domain.Job) *sweeperRepo {
	r := &sweeperRepo{jobs: map[string]domain.Job{}}
	for _, j := range seed {
		r.jobs[j.ID] = j
	}
	return r
}

func (r *sweeperRepo) Create(_ context.Context, j domain.Job) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.ID] = j
	return j.ID, nil
}

func (r *sweeperRepo) Get(_ context.Context, id string) (domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	return j, nil
}

func (r *sweeperRepo) SetStatus(_ context.Context, id string, status domain.JobStatus, errMsg *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.statusErr != nil {
		return r.statusErr
	}
	j, ok := r.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !j.Status.CanTransitionTo(status) {
		return domain.ErrIllegalTransition
	}
	j.Status = status
	if errMsg != nil {
		j.ErrorMessage = *errMsg
	}
	r.jobs[id] = j
	return nil
}

func (r *sweeperRepo) SetWorkerPayload(context.Context, string, domain.WorkerName, json.RawMessage) error {
	return nil
}

func (r *sweeperRepo) SetSummary(_ context.Context, id string, s domain.Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.summaryErr != nil {
		return r.summaryErr
	}
	j, ok := r.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	j.Summary = &s
	r.jobs[id] = j
	return nil
}

func (r *sweeperRepo) ListStaleRunning(_ context.Context, updatedBefore time.Time, limit int) ([]domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls++
	var out []domain.Job
	for _, j := range r.jobs {
		if j.Status == domain.JobRunning && j.UpdatedAt.Before(updatedBefore) {
			out = append(out, j)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func TestSweepMarksStaleRunningFailed(t *testing.T) {
	t.Parallel()
	old := time.Now().Add(-time.Hour)
	repo := newSweeperRepo(
		domain.Job{ID: "stale", Kind: domain.KindPortfolioAnalysis, Status: domain.JobRunning, UpdatedAt: old},
		domain.Job{ID: "fresh", Kind: domain.KindPortfolioAnalysis, Status: domain.JobRunning, UpdatedAt: time.Now()},
		domain.Job{ID: "done", Kind: domain.KindPortfolioAnalysis, Status: domain.JobCompleted, UpdatedAt: old},
	)

	s := NewStaleJobSweeper(repo, 20*time.Minute, time.Minute)
	s.sweepOnce(context.Background())

	stale, err := repo.Get(context.Background(), "stale")
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, stale.Status)
	assert.Contains(t, stale.ErrorMessage, "marked failed by sweeper")

	// A terminal job is always observable with a summary payload, even
	// when its consumer died before writing one.
	require.NotNil(t, stale.Summary)
	assert.Empty(t, stale.Summary.AgentExecutions)
	assert.False(t, stale.Summary.CompletionTime.IsZero())

	fresh, err := repo.Get(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, domain.JobRunning, fresh.Status)

	done, err := repo.Get(context.Background(), "done")
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, done.Status)
}

func TestSweepKeepsExistingSummary(t *testing.T) {
	t.Parallel()
	old := time.Now().Add(-time.Hour)
	existing := &domain.Summary{
		TotalDurationSeconds: 12.5,
		CompletionTime:       old,
		AgentsInvoked:        []domain.WorkerName{domain.WorkerAnalyzer},
		AgentExecutions: map[domain.WorkerName]domain.WorkerExecution{
			domain.WorkerAnalyzer: {Status: domain.ExecutionCompleted},
		},
	}
	repo := newSweeperRepo(domain.Job{
		ID: "stale", Kind: domain.KindPortfolioAnalysis,
		Status: domain.JobRunning, UpdatedAt: old, Summary: existing,
	})

	NewStaleJobSweeper(repo, 20*time.Minute, time.Minute).sweepOnce(context.Background())

	got, err := repo.Get(context.Background(), "stale")
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, got.Status)
	assert.Equal(t, existing, got.Summary)
}

func TestSweepSummaryWriteFailureLeavesJobRunning(t *testing.T) {
	t.Parallel()
	old := time.Now().Add(-time.Hour)
	repo := newSweeperRepo(domain.Job{
		ID: "stale", Kind: domain.KindPortfolioAnalysis,
		Status: domain.JobRunning, UpdatedAt: old,
	})
	repo.summaryErr = errors.New("summary write refused")

	NewStaleJobSweeper(repo, 20*time.Minute, time.Minute).sweepOnce(context.Background())

	got, err := repo.Get(context.Background(), "stale")
	require.NoError(t, err)
	assert.Equal(t, domain.JobRunning, got.Status, "job must not go terminal without a summary")
	assert.Nil(t, got.Summary)
}

func TestSweepStopsWhenFullPageMakesNoProgress(t *testing.T) {
	t.Parallel()
	old := time.Now().Add(-time.Hour)
	var seed []domain.Job
	for i := 0; i < 100; i++ {
		seed = append(seed, domain.Job{
			ID: fmt.Sprintf("stale-%03d", i), Kind: domain.KindPortfolioAnalysis,
			Status: domain.JobRunning, UpdatedAt: old,
		})
	}
	repo := newSweeperRepo(seed...)
	repo.statusErr = errors.New("store refuses writes")

	NewStaleJobSweeper(repo, 20*time.Minute, time.Minute).sweepOnce(context.Background())

	// A full page with zero transitions would be re-listed verbatim; the
	// sweep must stop and leave the retry to the next tick.
	assert.Equal(t, 1, repo.listCalls)
}

func TestSweeperDefaults(t *testing.T) {
	t.Parallel()
	s := NewStaleJobSweeper(newSweeperRepo(), 0, 0)
	require.NotNil(t, s)
	assert.Equal(t, 20*time.Minute, s.maxProcessingAge)
	assert.Equal(t, time.Minute, s.interval)

	assert.Nil(t, NewStaleJobSweeper(nil, 0, 0))
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewStaleJobSweeper(newSweeperRepo(), time.Minute, time.Hour).Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop on context cancellation")
	}
}
