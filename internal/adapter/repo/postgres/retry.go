package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fairyhunter13/portfolio-agents/internal/domain"
)

// Retrier retries transient backend errors with exponential backoff.
// Non-transient errors abort immediately. Exhausting the budget surfaces
// domain.ErrTransient so the caller can fail the job with the backend
// error message.
type Retrier struct {
	MaxAttempts int
	MaxElapsed  time.Duration
}

// DefaultRetrier matches the store contract: at most 5 attempts within 30s.
func DefaultRetrier() Retrier {
	return Retrier{MaxAttempts: 5, MaxElapsed: 30 * time.Second}
}

// Do runs fn, retrying transient failures until the attempt or elapsed
// budget is exhausted.
func (r Retrier) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 100 * time.Millisecond
	expo.MaxInterval = 5 * time.Second
	expo.MaxElapsedTime = r.MaxElapsed

	maxAttempts := r.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(maxAttempts-1)), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		slog.Warn("transient store error, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Any("error", err))
		return err
	}, bo)
	if err == nil {
		return nil
	}
	if IsTransient(err) {
		return fmt.Errorf("op=%s: %w: %v", op, domain.ErrTransient, err)
	}
	return fmt.Errorf("op=%s: %w", op, err)
}

// IsTransient classifies backend errors as retryable. Connection-class and
// serialization-class Postgres errors, dial/read failures, and dropped
// connections are transient; constraint violations and our own sentinels
// are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrIllegalTransition) || errors.Is(err, domain.ErrInvalidArgument) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code := pgErr.Code
		switch {
		case strings.HasPrefix(code, "08"): // connection exception
			return true
		case code == "40001" || code == "40P01": // serialization failure, deadlock
			return true
		case code == "53300" || code == "57P03": // too many connections, cannot connect now
			return true
		default:
			return false
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if pgconn.SafeToRetry(err) {
		return true
	}
	return false
}
