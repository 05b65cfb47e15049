// Package orchestrator drives a job from dequeue to its terminal state:
// prerequisite resolution, parallel fan-out across worker agents, timing
// capture, and the monotone status transitions in the job store.
package orchestrator

import (
	"sync"
	"time"

	"github.com/fairyhunter13/portfolio-agents/internal/domain"
)

// TimingSet collects per-worker execution records for one job run. The
// aggregate is owned by the orchestrator frame and handed to SetSummary
// in a single write. Distinct worker names may be recorded concurrently;
// the fan-out executor guarantees names are unique within a step.
type TimingSet struct {
	mu         sync.Mutex
	executions map[domain.WorkerName]domain.WorkerExecution
}

// NewTimingSet returns an empty TimingSet.
func NewTimingSet() *TimingSet {
	return &TimingSet{executions: map[domain.WorkerName]domain.WorkerExecution{}}
}

// Span is a scoped timing acquisition for one invocation. End must be
// called on every exit path; defer it immediately after Start.
type Span struct {
	set     *TimingSet
	worker  domain.WorkerName
	started time.Time
	done    bool
}

// Start records the wall-clock start for the named worker and returns the
// scope that finalizes the record.
func (t *TimingSet) Start(w domain.WorkerName) *Span {
	return &Span{set: t, worker: w, started: time.Now()}
}

// End finalizes the execution record. A nil error records a completed
// execution; anything else records a failure with the error string.
// Calling End more than once is a no-op.
func (s *Span) End(err error) {
	if s.done {
		return
	}
	s.done = true
	exec := domain.WorkerExecution{
		Status:          domain.ExecutionCompleted,
		StartedAt:       s.started.UTC(),
		DurationSeconds: time.Since(s.started).Seconds(),
	}
	if err != nil {
		exec.Status = domain.ExecutionFailed
		exec.Error = err.Error()
	}
	s.set.record(s.worker, exec)
}

// RecordSkipped marks a worker whose payload slot was already filled on a
// redelivered message: it is not re-invoked, and its entry carries a zero
// duration with the original payload left untouched.
func (t *TimingSet) RecordSkipped(w domain.WorkerName) {
	t.record(w, domain.WorkerExecution{
		Status:          domain.ExecutionCompleted,
		StartedAt:       time.Now().UTC(),
		DurationSeconds: 0,
	})
}

func (t *TimingSet) record(w domain.WorkerName, exec domain.WorkerExecution) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.executions[w] = exec
}

// Executions returns a copy of the collected records.
func (t *TimingSet) Executions() map[domain.WorkerName]domain.WorkerExecution {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[domain.WorkerName]domain.WorkerExecution, len(t.executions))
	for k, v := range t.executions {
		out[k] = v
	}
	return out
}
