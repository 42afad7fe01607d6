package crawler

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"time"
)

// FetchError describes a failed fetch. StatusCode is zero when no response arrived.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	default:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retryable classifies a fetch error. Errors marked Permanent and HTTP 4xx
// responses other than 408 and 429 are final; everything else, including
// 5xx responses, timeouts and network errors, may be retried.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) && fetchErr.StatusCode != 0 {
		code := fetchErr.StatusCode
		switch {
		case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
			return true
		case code >= 400 && code < 500:
			return false
		}
	}
	return true
}

// RetryPolicy decides the delay before a failed request is re-queued.
type RetryPolicy interface {
	// Backoff returns the wait before the attempt-th retry (attempt starts at 1).
	Backoff(attempt int) time.Duration
}

// ExponentialRetryPolicy doubles the delay per attempt up to a cap and adds
// jitter in the upper half of the window.
type ExponentialRetryPolicy struct {
	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewExponentialRetryPolicy builds a policy from base and cap delays.
func NewExponentialRetryPolicy(base, limit time.Duration) *ExponentialRetryPolicy {
	if base < 0 {
		base = 0
	}
	if limit < base {
		limit = base
	}
	return &ExponentialRetryPolicy{baseDelay: base, maxDelay: limit}
}

// Backoff returns the wait duration before the next attempt. The result is
// never larger than the configured cap.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	if p.baseDelay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := p.randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func (p *ExponentialRetryPolicy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
