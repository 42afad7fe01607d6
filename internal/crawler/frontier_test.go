package crawler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func mustRequest(t *testing.T, raw string) *Request {
	t.Helper()
	req, err := NewRequest(raw, "", nil)
	require.NoError(t, err)
	return req
}

func TestFrontierPushDedupsNormalizedURLs(t *testing.T) {
	t.Parallel()

	f := NewFrontier(nil)
	ok, err := f.Push(mustRequest(t, "https://example.com/a"))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.Push(&Request{URL: "HTTPS://EXAMPLE.com/a#section"})
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 1, f.Len())
	require.Equal(t, int64(1), f.Seen().Duplicates())

	_, err = f.Push(&Request{URL: "not a url"})
	require.ErrorIs(t, err, ErrInvalidURL)
}

func TestFrontierFIFOAndRetryAtTail(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := NewFrontier(nil)
	for _, u := range []string{"https://e.com/1", "https://e.com/2", "https://e.com/3"} {
		_, err := f.Push(mustRequest(t, u))
		require.NoError(t, err)
	}

	first, err := f.Pop(ctx)
	require.NoError(t, err)
	require.Equal(t, "https://e.com/1", first.URL)

	first.Attempt++
	require.NoError(t, f.PushRetry(first))
	f.Done()
	require.Equal(t, StateRetryScheduled, first.State())

	var order []string
	for i := 0; i < 3; i++ {
		req, err := f.Pop(ctx)
		require.NoError(t, err)
		order = append(order, req.URL)
		f.Done()
	}
	require.Equal(t, []string{"https://e.com/2", "https://e.com/3", "https://e.com/1"}, order)

	_, err = f.Pop(ctx)
	require.ErrorIs(t, err, ErrQuiescent)
}

func TestFrontierRetryKeepsIdentity(t *testing.T) {
	t.Parallel()

	f := NewFrontier(nil)
	req, err := NewRequest("https://e.com/p", "PAGE", map[string]any{"cursor": "abc"})
	require.NoError(t, err)
	_, err = f.Push(req)
	require.NoError(t, err)

	popped, err := f.Pop(context.Background())
	require.NoError(t, err)
	popped.Attempt++
	require.NoError(t, f.PushRetry(popped))
	f.Done()

	again, err := f.Pop(context.Background())
	require.NoError(t, err)
	require.Same(t, req, again)
	require.Equal(t, 1, again.Attempt)
	require.Equal(t, "abc", again.Metadata["cursor"])
}

func TestFrontierPopWaitsWhileWorkIsActive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := NewFrontier(nil)
	_, err := f.Push(mustRequest(t, "https://e.com/seed"))
	require.NoError(t, err)
	_, err = f.Pop(ctx)
	require.NoError(t, err)

	got := make(chan *Request, 1)
	go func() {
		req, err := f.Pop(ctx)
		if err == nil {
			got <- req
		}
		close(got)
	}()

	select {
	case <-got:
		t.Fatal("pop must wait while a worker is active")
	case <-time.After(30 * time.Millisecond):
	}

	_, err = f.Push(mustRequest(t, "https://e.com/child"))
	require.NoError(t, err)
	f.Done()

	select {
	case req := <-got:
		require.NotNil(t, req)
		require.Equal(t, "https://e.com/child", req.URL)
	case <-time.After(time.Second):
		t.Fatal("waiting pop was not woken by push")
	}
}

func TestFrontierQuiescenceReleasesAllWaiters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := NewFrontier(nil)
	_, err := f.Push(mustRequest(t, "https://e.com/only"))
	require.NoError(t, err)
	_, err = f.Pop(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.Pop(ctx)
			errs <- err
		}()
	}
	time.Sleep(20 * time.Millisecond)
	f.Done()
	wg.Wait()
	close(errs)
	for err := range errs {
		require.ErrorIs(t, err, ErrQuiescent)
	}

	_, err = f.Push(mustRequest(t, "https://e.com/late"))
	require.ErrorIs(t, err, ErrFrontierClosed)
}

func TestFrontierPopHonorsContext(t *testing.T) {
	t.Parallel()

	f := NewFrontier(nil)
	_, err := f.Push(mustRequest(t, "https://e.com/a"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Pop(ctx)
	require.True(t, errors.Is(err, context.Canceled))

	left := f.Close()
	require.Len(t, left, 1)
	require.Zero(t, f.Len())
}
