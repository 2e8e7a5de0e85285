package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrUnavailable marks a call whose retries are exhausted. Callers treat it
// as absent data and skip the current unit of work rather than aborting.
var ErrUnavailable = errors.New("gateway unavailable")

type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Transient   func(error) bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Transient:   IsTransient,
	}
}

// Do runs fn up to MaxAttempts times with the delay doubling between
// attempts. Non-transient errors fail immediately; exhaustion is reported
// as ErrUnavailable.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := p.BaseDelay
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		last = fn()
		if last == nil {
			return nil
		}
		if p.Transient != nil && !p.Transient(last) {
			return fmt.Errorf("%s: %w", op, last)
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("%s: %w after %d attempts: %v", op, ErrUnavailable, attempts, last)
}

// IsTransient classifies faults worth retrying: network and timeout errors,
// plus anything self-reporting via a Transient() method (rate limits and
// server-side failures from the exchange client).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var classified interface{ Transient() bool }
	if errors.As(err, &classified) {
		return classified.Transient()
	}
	return false
}
