// Package httpinvoke implements the worker invoker over synchronous HTTP.
// Each worker is a short-lived executor reachable at a configured
// endpoint; it reads its inputs from the job store by job id and writes
// its authoritative output to its payload slot before responding.
package httpinvoke

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/portfolio-agents/internal/adapter/observability"
	"github.com/fairyhunter13/portfolio-agents/internal/config"
	"github.com/fairyhunter13/portfolio-agents/internal/domain"
)

// responseEnvelope is the fixed worker response shape. statusCode 200
// means success; body is diagnostic only.
type responseEnvelope struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// Invoker calls workers over HTTP with a per-invocation deadline.
type Invoker struct {
	endpoints config.WorkerEndpoints
	hc        *http.Client
	timeout   time.Duration
}

// New constructs an Invoker. timeout is the per-worker deadline; the
// overall orchestrator deadline arrives through ctx.
func New(endpoints config.WorkerEndpoints, timeout time.Duration) *Invoker {
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	// The otelhttp transport propagates trace context to the worker, so
	// the worker's own spans join the invocation trace.
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("Worker %s %s", r.Method, r.URL.Host)
		}),
	)
	return &Invoker{
		endpoints: endpoints,
		// No client-level timeout: the per-invocation context carries the
		// deadline so cancellation stays cooperative.
		hc:      &http.Client{Transport: transport},
		timeout: timeout,
	}
}

// Invoke posts {job_id} to the named worker and interprets the response
// envelope. Failures surface as *domain.InvocationError.
func (iv *Invoker) Invoke(ctx context.Context, worker domain.WorkerName, jobID string) (json.RawMessage, error) {
	tracer := otel.Tracer("workers.invoker")
	ctx, span := tracer.Start(ctx, "workers.Invoke")
	span.SetAttributes(attribute.String("worker.name", string(worker)), attribute.String("job.id", jobID))
	defer span.End()

	endpoint, ok := iv.endpoints[worker]
	if !ok || endpoint == "" {
		return nil, domain.NewInvocationError(worker, domain.InvocationTransportError,
			fmt.Sprintf("no endpoint configured for worker %q", worker))
	}

	invocationID := ulid.Make().String()
	lg := slog.With(
		slog.String("worker", string(worker)),
		slog.String("job_id", jobID),
		slog.String("invocation_id", invocationID),
	)

	ctx, cancel := context.WithTimeout(ctx, iv.timeout)
	defer cancel()

	body, err := json.Marshal(domain.SubmissionPayload{JobID: jobID})
	if err != nil {
		return nil, domain.NewInvocationError(worker, domain.InvocationTransportError, err.Error())
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewInvocationError(worker, domain.InvocationTransportError, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Invocation-Id", invocationID)

	lg.Info("invoking worker", slog.String("endpoint", endpoint))
	resp, err := iv.hc.Do(req)
	elapsed := time.Since(start)
	observability.WorkerInvocationDuration.WithLabelValues(string(worker)).Observe(elapsed.Seconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(ctx.Err(), context.Canceled) {
			observability.WorkerInvocationsTotal.WithLabelValues(string(worker), "timeout").Inc()
			lg.Warn("worker invocation timed out", slog.Duration("elapsed", elapsed))
			return nil, domain.NewInvocationError(worker, domain.InvocationTimeout,
				fmt.Sprintf("worker %s timed out after %s", worker, elapsed.Round(time.Millisecond)))
		}
		observability.WorkerInvocationsTotal.WithLabelValues(string(worker), "transport_error").Inc()
		lg.Error("worker transport error", slog.Any("error", err))
		return nil, domain.NewInvocationError(worker, domain.InvocationTransportError, err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		observability.WorkerInvocationsTotal.WithLabelValues(string(worker), "transport_error").Inc()
		return nil, domain.NewInvocationError(worker, domain.InvocationTransportError, err.Error())
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		observability.WorkerInvocationsTotal.WithLabelValues(string(worker), "transport_error").Inc()
		return nil, domain.NewInvocationError(worker, domain.InvocationTransportError,
			fmt.Sprintf("worker %s http status %d", worker, resp.StatusCode))
	}

	var env responseEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		observability.WorkerInvocationsTotal.WithLabelValues(string(worker), "transport_error").Inc()
		lg.Error("worker response decode error", slog.Any("error", err))
		return nil, domain.NewInvocationError(worker, domain.InvocationTransportError,
			fmt.Sprintf("decode worker response: %v", err))
	}
	if env.StatusCode != http.StatusOK {
		observability.WorkerInvocationsTotal.WithLabelValues(string(worker), "failed").Inc()
		lg.Warn("worker reported failure",
			slog.Int("status_code", env.StatusCode),
			slog.String("body", env.Body))
		return nil, domain.NewInvocationError(worker, domain.InvocationWorkerFailed, env.Body)
	}

	observability.WorkerInvocationsTotal.WithLabelValues(string(worker), "completed").Inc()
	lg.Info("worker invocation completed", slog.Duration("elapsed", elapsed))
	return json.RawMessage(raw), nil
}
