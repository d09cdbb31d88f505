package retry

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"time"

	"chatledger/internal/constants"
	"chatledger/internal/models"
)

// Backoff implements exponential backoff with optional jitter. The retry
// driver uses it for outbound seen receipts, rerequests and retract resends.
type Backoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	maxAttempts  int
	jitter       bool
}

// FromConfig builds a Backoff from configuration, filling unset fields with
// defaults.
func FromConfig(cfg models.RetryConfig) *Backoff {
	b := &Backoff{
		initialDelay: time.Duration(cfg.InitialBackoffMs) * time.Millisecond,
		maxDelay:     time.Duration(cfg.MaxBackoffMs) * time.Millisecond,
		multiplier:   cfg.Multiplier,
		maxAttempts:  cfg.MaxAttempts,
		jitter:       cfg.Jitter,
	}
	if b.initialDelay <= 0 {
		b.initialDelay = time.Duration(constants.DefaultRetryBackoffMs) * time.Millisecond
	}
	if b.maxDelay <= 0 {
		b.maxDelay = time.Duration(constants.DefaultMaxBackoffMs) * time.Millisecond
	}
	if b.multiplier < 1 {
		b.multiplier = 2.0
	}
	if b.maxAttempts <= 0 {
		b.maxAttempts = constants.DefaultMaxAttempts
	}
	return b
}

// Retry executes the operation until it succeeds, the attempts are
// exhausted, or the context is cancelled.
func (b *Backoff) Retry(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 1; attempt <= b.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == b.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.delayFor(attempt)):
		}
	}

	return lastErr
}

// delayFor computes the delay before the next attempt.
func (b *Backoff) delayFor(attempt int) time.Duration {
	delay := float64(b.initialDelay) * math.Pow(b.multiplier, float64(attempt-1))
	if delay > float64(b.maxDelay) {
		delay = float64(b.maxDelay)
	}

	if b.jitter {
		// Up to 25% random jitter to spread synchronized retries.
		max := int64(delay / 4)
		if max > 0 {
			if n, err := rand.Int(rand.Reader, big.NewInt(max)); err == nil {
				delay += float64(n.Int64())
			}
		}
	}

	return time.Duration(delay)
}
