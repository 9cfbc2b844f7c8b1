package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/elixir-ega/dataedge/internal/logctx"
)

// Retrier wraps outbound calls with a bounded exponential backoff policy.
// It is a decorator: callers stay unaware of the backoff math, they only
// mark operations that must not be retried.
type Retrier struct {
	maxTries  uint
	baseDelay time.Duration
}

// NewRetrier creates a Retrier. maxTries counts the first attempt.
func NewRetrier(maxTries int, baseDelay time.Duration) *Retrier {
	if maxTries < 1 {
		maxTries = 1
	}

	if baseDelay <= 0 {
		baseDelay = 250 * time.Millisecond
	}

	return &Retrier{maxTries: uint(maxTries), baseDelay: baseDelay}
}

// Do runs fn under the retry policy. Errors wrapped with Permanent are
// surfaced immediately without further attempts.
func (r *Retrier) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	logger := logctx.LoggerFromContext(ctx)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.baseDelay

	attempt := 0

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++

		if err := fn(ctx); err != nil {
			if attempt < int(r.maxTries) {
				logger.Warn("upstream operation failed", "operation", operation, "attempt", attempt, "err", err)
			}

			return struct{}{}, err
		}

		return struct{}{}, nil
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(r.maxTries))

	return err
}

// Permanent marks err as non-retryable. Used for outcomes that must not
// be attempted twice, such as ticket consumption, and for client errors
// where a retry cannot change the answer.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return backoff.Permanent(err)
}
