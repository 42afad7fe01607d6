package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/crawlwright/internal/crawler"
)

const robotsAttempts = 4

// RobotsFetcher downloads robots.txt over the page fetcher's connection pool.
// Each attempt is a crawler.HTTPRobotsFetcher GET, so the body limit and
// redirect cap match the engine's default fetcher. Timeouts are retried with
// jittered backoff; any other transport error is returned at once and the
// engine fails open for the host.
type RobotsFetcher struct {
	single   *crawler.HTTPRobotsFetcher
	attempts int
	backoff  crawler.RetryPolicy
}

// RobotsFetcher returns the crawler.RobotsFetcher paired with f.
func (f *Fetcher) RobotsFetcher() *RobotsFetcher {
	return newRobotsFetcher(f.transport, f.cfg.UserAgent,
		crawler.NewExponentialRetryPolicy(250*time.Millisecond, 2*time.Second))
}

func newRobotsFetcher(rt http.RoundTripper, userAgent string, backoff crawler.RetryPolicy) *RobotsFetcher {
	return &RobotsFetcher{
		single:   crawler.NewHTTPRobotsFetcher(&http.Client{Transport: rt}, userAgent),
		attempts: robotsAttempts,
		backoff:  backoff,
	}
}

// FetchRobots implements crawler.RobotsFetcher. The returned status is the
// one of the final redirect hop.
func (r *RobotsFetcher) FetchRobots(ctx context.Context, robotsURL string) (int, []byte, error) {
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		status, body, err := r.single.FetchRobots(ctx, robotsURL)
		if err == nil {
			return status, body, nil
		}
		lastErr = err
		if !isTransient(err) {
			return 0, nil, err
		}
		if attempt == r.attempts {
			break
		}
		if err := pause(ctx, r.backoff.Backoff(attempt)); err != nil {
			return 0, nil, err
		}
	}
	return 0, nil, fmt.Errorf("robots.txt gave up after %d attempts: %w", r.attempts, lastErr)
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("robots.txt retry wait: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// isTransient reports timeouts, including TLS handshakes that stall on
// overloaded hosts.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
