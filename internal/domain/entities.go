// Package domain holds the core entities and ports of the job
// orchestration subsystem. Adapters (Postgres, Redpanda, HTTP workers)
// implement the ports; the orchestrator depends only on this package.
package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrTransient         = errors.New("transient backend error")
	ErrInternal          = errors.New("internal error")
)

// JobStatus is the lifecycle state of a job. Statuses are monotone:
// pending -> running -> (completed | failed). Terminal states absorb.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransitionTo reports whether s -> next is a legal transition.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobRunning
	case JobRunning:
		return next == JobCompleted || next == JobFailed
	default:
		return false
	}
}

// WorkerName identifies an externally implemented worker agent.
type WorkerName string

// Worker agents known to the portfolio_analysis kind.
const (
	WorkerClassifier WorkerName = "classifier"
	WorkerAnalyzer   WorkerName = "analyzer"
	WorkerVisualizer WorkerName = "visualizer"
	WorkerProjector  WorkerName = "projector"
)

// Job kinds. Dispatch within the core is identical for all kinds; the
// kind selects the prerequisite policy and fan-out set.
const (
	KindPortfolioAnalysis = "portfolio_analysis"
)

// Job represents one end-to-end analysis request. The request payload is
// opaque to the core; per-worker payloads are independently writable slots.
type Job struct {
	ID             string
	Owner          string
	Kind           string
	Status         JobStatus
	RequestPayload json.RawMessage
	WorkerPayloads map[WorkerName]json.RawMessage
	Summary        *Summary
	ErrorMessage   string
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	UpdatedAt      time.Time
}

// HasWorkerPayload reports whether the payload slot for the given worker
// is already populated. Used to skip already-finished workers on
// redelivery.
func (j Job) HasWorkerPayload(w WorkerName) bool {
	p, ok := j.WorkerPayloads[w]
	return ok && len(p) > 0 && string(p) != "null"
}

// Execution statuses recorded per worker in the summary.
const (
	ExecutionCompleted = "completed"
	ExecutionFailed    = "failed"
)

// WorkerExecution is the per-worker timing record aggregated into the
// summary payload.
type WorkerExecution struct {
	Status          string    `json:"status"`
	StartedAt       time.Time `json:"started_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	Error           string    `json:"error,omitempty"`
}

// Summary is written exactly once, just before the terminal transition.
// AgentsInvoked preserves dispatch order: prerequisites first, then the
// fan-out set in declaration order.
type Summary struct {
	TotalDurationSeconds float64                        `json:"total_duration_seconds"`
	CompletionTime       time.Time                      `json:"completion_time"`
	AgentsInvoked        []WorkerName                   `json:"agents_invoked"`
	AgentExecutions      map[WorkerName]WorkerExecution `json:"agent_executions"`
}

// SubmissionPayload is the queue message envelope. Extra fields on the
// wire are ignored; the authoritative job data lives in the job store.
type SubmissionPayload struct {
	JobID string `json:"job_id"`
}

// PortfolioSnapshot is the slice of the request payload the core
// understands: the instrument symbols referenced by the portfolio.
type PortfolioSnapshot struct {
	Symbols []string
}

// KindSpec declares, per job kind, which workers fan out and whether the
// classifier prerequisite policy applies. New kinds extend this table;
// dispatch is never inferred at runtime.
type KindSpec struct {
	FanOut              []WorkerName
	ClassifyUnknownSyms bool
}

// KindSpecs is the dispatch table keyed by job kind.
var KindSpecs = map[string]KindSpec{
	KindPortfolioAnalysis: {
		FanOut:              []WorkerName{WorkerAnalyzer, WorkerVisualizer, WorkerProjector},
		ClassifyUnknownSyms: true,
	},
}

// WorkerSlots enumerates every payload slot known at compile time,
// prerequisites included.
var WorkerSlots = []WorkerName{WorkerClassifier, WorkerAnalyzer, WorkerVisualizer, WorkerProjector}

// Repositories (ports)

// JobRepository is the job store port. All writes are per-field atomic;
// SetStatus enforces the monotone transition rules and returns
// ErrIllegalTransition otherwise.
type JobRepository interface {
	Create(ctx context.Context, j Job) (string, error)
	Get(ctx context.Context, id string) (Job, error)
	SetStatus(ctx context.Context, id string, status JobStatus, errMsg *string) error
	SetWorkerPayload(ctx context.Context, id string, worker WorkerName, payload json.RawMessage) error
	SetSummary(ctx context.Context, id string, s Summary) error
	ListStaleRunning(ctx context.Context, updatedBefore time.Time, limit int) ([]Job, error)
}

// InstrumentRepository is the instrument reference set port. The
// classifier worker populates the set; the core only filters against it.
type InstrumentRepository interface {
	FilterUnknown(ctx context.Context, symbols []string) ([]string, error)
}

// Queue (port)

// Queue enqueues submission envelopes onto the work queue.
type Queue interface {
	EnqueueSubmission(ctx context.Context, payload SubmissionPayload) (string, error)
}

// WorkerInvoker (port)

// WorkerInvoker calls a named worker with a job id and returns its opaque
// result. Failures are reported as *InvocationError.
type WorkerInvoker interface {
	Invoke(ctx context.Context, worker WorkerName, jobID string) (json.RawMessage, error)
}
