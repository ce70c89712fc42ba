package poller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// StatusError carries an upstream HTTP status for retry classification.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d from %s", e.Code, e.URL)
}

// retryable statuses: rate limiting and transient gateway failures.
// Everything else propagates immediately.
func retryable(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable:
		return true
	}
	return false
}

// Retrier wraps fallible upstream calls with bounded exponential
// backoff. The delay doubles per attempt and is applied before the
// next attempt, never after the last; exhaustion propagates the final
// error to the caller.
type Retrier struct {
	MaxAttempts int
	BaseDelay   time.Duration
	OnRetry     func()
}

// Do runs fn up to MaxAttempts times.
func (r Retrier) Do(ctx context.Context, fn func(context.Context) error) error {
	attempts := r.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := r.BaseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) || attempt >= attempts-1 {
			return err
		}

		if r.OnRetry != nil {
			r.OnRetry()
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
}
