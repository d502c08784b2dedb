package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Config holds backoff parameters.
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int
	// InitialBackoff is the delay before the second attempt.
	InitialBackoff time.Duration
	// MaxBackoff caps the delay between attempts.
	MaxBackoff time.Duration
	// BackoffMultiplier scales the delay after each failed attempt.
	BackoffMultiplier float64
	// JitterFraction randomizes up to this fraction of the computed delay.
	JitterFraction float64
}

// DefaultConfig is tuned for a local or virtual filesystem read: a couple
// of quick retries, not the multi-second backoff appropriate for a
// networked database.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		InitialBackoff:    25 * time.Millisecond,
		MaxBackoff:        250 * time.Millisecond,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.2,
	}
}

// Do runs operation with exponential backoff on failure, respecting ctx
// cancellation. It returns the last error if every attempt fails.
func Do(ctx context.Context, cfg Config, operation func() error) error {
	var lastErr error
	backoff := cfg.InitialBackoff

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = operation()
		if lastErr == nil {
			return nil
		}

		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}

		if attempt >= cfg.MaxAttempts {
			break
		}

		jitter := time.Duration(float64(backoff) * cfg.JitterFraction * (rand.Float64()*2 - 1))
		sleep := backoff + jitter
		if sleep < 0 {
			sleep = backoff
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		backoff = time.Duration(float64(backoff) * cfg.BackoffMultiplier)
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	return lastErr
}
