package source

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// permanentError stops a RetryPolicy from trying again.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying (auth failure, quota exhausted).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// RetryPolicy retries a collector call with exponential backoff.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy is used when a source has no explicit policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: 2 * time.Second, MaxBackoff: 30 * time.Second}
}

// Do calls fn until it succeeds, returns a permanent error, the attempts run
// out, or ctx is cancelled.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	wait := p.Backoff

	var (
		err     error
		attempt int
	)
	for attempt = 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if IsPermanent(err) || attempt == attempts {
			break
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		wait *= 2
		if p.MaxBackoff > 0 && wait > p.MaxBackoff {
			wait = p.MaxBackoff
		}
	}
	return fmt.Errorf("after %d attempt(s): %w", attempt, err)
}

// Collect runs src.Collect under the policy.
func (p RetryPolicy) Collect(ctx context.Context, src Source, keywords []Keyword) ([]RawObservation, error) {
	var out []RawObservation
	err := p.Do(ctx, func(ctx context.Context) error {
		obs, err := src.Collect(ctx, keywords)
		if err != nil {
			return err
		}
		out = obs
		return nil
	})
	return out, err
}
