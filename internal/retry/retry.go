// Package retry re-invokes transport attempts on retryable failures, with
// bounded exponential backoff. A completed HTTP exchange is never retried
// here, whatever its status code: retries cover network-layer faults only.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhaquet-w6d/opa-httpsend/internal/transport"
)

type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

type Policy struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         float64
}

// Delay returns the backoff before retry number attempt (0-based). The curve
// is exponential, capped at MaxBackoff, with a proportional jitter on top.
func (p Policy) Delay(attempt int, random func() float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}

	backoff := float64(p.InitialBackoff)
	for i := 0; i < attempt; i++ {
		backoff *= p.Multiplier
	}
	if backoff < 0 || backoff > float64(p.MaxBackoff) {
		backoff = float64(p.MaxBackoff)
	}

	if p.Jitter > 0 {
		backoff += backoff * p.Jitter * random()
		if backoff > float64(p.MaxBackoff) {
			backoff = float64(p.MaxBackoff)
		}
	}

	return time.Duration(backoff)
}

// Do runs fn up to attempts times, sleeping between tries. Only transport
// errors marked retryable trigger another attempt; anything else is returned
// as-is. Exhausting the budget wraps the last transport error.
func Do(
	ctx context.Context,
	policy Policy,
	attempts int,
	random func() float64,
	logger *zerolog.Logger,
	fn func(context.Context) (*transport.Result, error),
) (*transport.Result, error) {
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := policy.Delay(attempt-1, random)
			logger.Debug().
				Int("attempt", attempt+1).
				Dur("backoff", delay).
				Msg("retrying after transport failure")

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		var transportErr *transport.Error
		if errors.As(err, &transportErr) && transportErr.Retryable {
			lastErr = err
			continue
		}

		return nil, err
	}

	return nil, &ExhaustedError{attempts, lastErr}
}
