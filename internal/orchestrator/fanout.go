package orchestrator

import (
	"context"
	"encoding/json"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/fairyhunter13/portfolio-agents/internal/domain"
)

// FanOutResult is one worker's settled outcome within a fan-out step.
type FanOutResult struct {
	Output json.RawMessage
	Err    error
}

// ExecuteFanOut invokes the given workers concurrently and waits for all
// of them to settle. One worker's failure never cancels the others;
// cancellation arrives only through ctx (the orchestrator deadline), and
// a cancelled invocation settles as a timeout entry. Timing records are
// written into timings on every exit path.
func ExecuteFanOut(ctx context.Context, invoker domain.WorkerInvoker, jobID string, workers []domain.WorkerName, timings *TimingSet) map[domain.WorkerName]FanOutResult {
	results := make(map[domain.WorkerName]FanOutResult, len(workers))
	if len(workers) == 0 {
		return results
	}

	var mu sync.Mutex
	var g errgroup.Group
	for _, w := range workers {
		g.Go(func() error {
			span := timings.Start(w)
			out, err := invoker.Invoke(ctx, w, jobID)
			err = normalizeInvocationError(ctx, w, err)
			span.End(err)
			mu.Lock()
			results[w] = FanOutResult{Output: out, Err: err}
			mu.Unlock()
			// Errors are aggregated per worker, never propagated as a
			// group error: partial success is normal.
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// normalizeInvocationError maps context expiry from invokers that do not
// speak the typed error into an InvocationError timeout, so the summary
// taxonomy stays closed.
func normalizeInvocationError(ctx context.Context, w domain.WorkerName, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := domain.AsInvocationError(err); ok {
		return err
	}
	if ctx.Err() != nil {
		return domain.NewInvocationError(w, domain.InvocationTimeout, "invocation cancelled: "+ctx.Err().Error())
	}
	return domain.NewInvocationError(w, domain.InvocationTransportError, err.Error())
}
