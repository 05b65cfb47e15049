package postgres

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
)

// InstrumentRepo reads the instrument reference set. The classifier worker
// owns writes; the orchestrator only filters against the set.
type InstrumentRepo struct {
	Pool  PgxPool
	retry Retrier
}

// NewInstrumentRepo constructs an InstrumentRepo with the given pool.
func NewInstrumentRepo(p PgxPool, r Retrier) *InstrumentRepo {
	return &InstrumentRepo{Pool: p, retry: r}
}

// FilterUnknown returns, in input order, the symbols not yet present in
// the reference set.
func (r *InstrumentRepo) FilterUnknown(ctx context.Context, symbols []string) ([]string, error) {
	tracer := otel.Tracer("repo.instruments")
	ctx, span := tracer.Start(ctx, "instruments.FilterUnknown")
	defer span.End()
	if len(symbols) == 0 {
		return nil, nil
	}
	q := `SELECT symbol FROM instruments WHERE symbol = ANY($1)`
	known := map[string]struct{}{}
	err := r.retry.Do(ctx, "instruments.filter_unknown", func(ctx context.Context) error {
		rows, err := r.Pool.Query(ctx, q, symbols)
		if err != nil {
			return err
		}
		defer rows.Close()
		clear(known)
		for rows.Next() {
			var s string
			if err := rows.Scan(&s); err != nil {
				return err
			}
			known[s] = struct{}{}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("op=instruments.filter_unknown: %w", err)
	}
	var unknown []string
	for _, s := range symbols {
		if _, ok := known[s]; !ok {
			unknown = append(unknown, s)
		}
	}
	return unknown, nil
}
