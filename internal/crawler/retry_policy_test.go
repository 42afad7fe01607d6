package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryableClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", errors.New("connection reset"), true},
		{"timeout", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"server error", &FetchError{URL: "u", StatusCode: http.StatusBadGateway}, true},
		{"request timeout", &FetchError{URL: "u", StatusCode: http.StatusRequestTimeout}, true},
		{"too many requests", &FetchError{URL: "u", StatusCode: http.StatusTooManyRequests}, true},
		{"not found", &FetchError{URL: "u", StatusCode: http.StatusNotFound}, false},
		{"forbidden wrapped", fmt.Errorf("ctx: %w", &FetchError{URL: "u", StatusCode: http.StatusForbidden}), false},
		{"no status", &FetchError{URL: "u", Err: errors.New("navigation failed")}, true},
		{"permanent", Permanent(errors.New("bad content type")), false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Retryable(tc.err), tc.name)
	}
	require.Nil(t, Permanent(nil))
}

func TestFetchErrorMessage(t *testing.T) {
	t.Parallel()

	inner := errors.New("boom")
	err := &FetchError{URL: "https://e.com/", StatusCode: 503, Err: inner}
	require.Contains(t, err.Error(), "status 503")
	require.ErrorIs(t, err, inner)
	require.Equal(t, "fetch https://e.com/: status 404", (&FetchError{URL: "https://e.com/", StatusCode: 404}).Error())
}

func TestExponentialBackoffIsCappedAndGrows(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(100*time.Millisecond, time.Second)
	for attempt := 1; attempt <= 10; attempt++ {
		d := p.Backoff(attempt)
		require.LessOrEqual(t, d, time.Second)
		ceiling := 100 * time.Millisecond << (attempt - 1)
		if ceiling > time.Second {
			ceiling = time.Second
		}
		require.GreaterOrEqual(t, d, ceiling/2, "attempt %d", attempt)
		require.LessOrEqual(t, d, ceiling, "attempt %d", attempt)
	}

	require.Zero(t, NewExponentialRetryPolicy(0, time.Second).Backoff(3))
}
