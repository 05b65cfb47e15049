// Package stub provides a scriptable in-memory worker invoker for local
// development and tests.
package stub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/fairyhunter13/portfolio-agents/internal/domain"
)

// Outcome scripts one worker's behavior.
type Outcome struct {
	// Delay before the invocation settles. Honors context cancellation.
	Delay time.Duration
	// Err, when set, is returned instead of Result.
	Err error
	// Result is the opaque structured value returned on success. Defaults
	// to a small diagnostic echo.
	Result json.RawMessage
	// SideEffect runs after the delay, before returning. Used by tests to
	// emulate a worker persisting its payload slot.
	SideEffect func(ctx context.Context, jobID string)
}

// Invoker returns scripted outcomes per worker name.
type Invoker struct {
	mu       sync.Mutex
	outcomes map[domain.WorkerName]Outcome
	calls    []domain.WorkerName
}

// New constructs a stub Invoker with the given script.
func New(outcomes map[domain.WorkerName]Outcome) *Invoker {
	if outcomes == nil {
		outcomes = map[domain.WorkerName]Outcome{}
	}
	return &Invoker{outcomes: outcomes}
}

// Invoke settles according to the script for the named worker.
func (iv *Invoker) Invoke(ctx context.Context, worker domain.WorkerName, jobID string) (json.RawMessage, error) {
	iv.mu.Lock()
	iv.calls = append(iv.calls, worker)
	out := iv.outcomes[worker]
	iv.mu.Unlock()

	if out.Delay > 0 {
		select {
		case <-time.After(out.Delay):
		case <-ctx.Done():
			return nil, domain.NewInvocationError(worker, domain.InvocationTimeout, "invocation cancelled: "+ctx.Err().Error())
		}
	}
	if out.SideEffect != nil {
		out.SideEffect(ctx, jobID)
	}
	if out.Err != nil {
		return nil, out.Err
	}
	if out.Result != nil {
		return out.Result, nil
	}
	return json.RawMessage(`{"statusCode":200,"body":"ok"}`), nil
}

// Calls returns the workers invoked so far, in dispatch order.
func (iv *Invoker) Calls() []domain.WorkerName {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	return append([]domain.WorkerName(nil), iv.calls...)
}
