package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/casualjim/toolstream/provider"
)

// ErrRetriesExhausted is returned when a provider kept failing with transient errors.
var ErrRetriesExhausted = errors.New("provider retries exhausted")

// RetryConfig controls how transient provider failures are retried.
type RetryConfig struct {
	MaxAttempts       int           // attempts per turn, including the first
	InitialBackoff    time.Duration // delay before the second attempt
	MaxBackoff        time.Duration // ceiling for any single delay
	BackoffMultiplier float64       // growth per attempt
	Jitter            bool          // add up to 25% random delay
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       4,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        8 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

func (c RetryConfig) Validate() error {
	var err error
	if c.MaxAttempts < 1 {
		err = errors.Join(err, fmt.Errorf("retry attempts must be at least 1, got %d", c.MaxAttempts))
	}
	if c.InitialBackoff < 0 || c.MaxBackoff < 0 {
		err = errors.Join(err, errors.New("retry backoff cannot be negative"))
	}
	if c.BackoffMultiplier < 1 {
		err = errors.Join(err, fmt.Errorf("backoff multiplier must be at least 1, got %v", c.BackoffMultiplier))
	}
	return err
}

// Backoff returns the delay before the given retry, where retry 1 follows the first
// failed attempt. A delay the backend asked for wins when it is longer, but never
// exceeds MaxBackoff.
func (c RetryConfig) Backoff(retry int, retryAfter time.Duration) time.Duration {
	if retry < 1 {
		return 0
	}
	d := time.Duration(float64(c.InitialBackoff) * math.Pow(c.BackoffMultiplier, float64(retry-1)))
	if c.Jitter && d > 0 {
		d += time.Duration(rand.Int64N(int64(d)/4 + 1))
	}
	d = max(d, retryAfter)
	if c.MaxBackoff > 0 && d > c.MaxBackoff {
		d = c.MaxBackoff
	}
	return d
}

// retryAfter extracts the delay a backend asked for from a transient error.
func retryAfter(err error) time.Duration {
	var te *provider.TransientError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
