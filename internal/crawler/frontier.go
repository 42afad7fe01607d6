package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrQuiescent is returned by Pop once the queue is empty and no worker is active.
	ErrQuiescent = errors.New("frontier quiescent")
	// ErrFrontierClosed is returned by pushes after the frontier has drained.
	ErrFrontierClosed = errors.New("frontier closed")
)

// Frontier is the FIFO queue of pending requests. Fresh pushes pass through
// the dedup set; retries bypass it and land at the tail. The frontier also
// tracks how many popped requests are still being worked on so that Pop can
// tell "wait for more work" apart from "the run is finished".
type Frontier struct {
	mu     sync.Mutex
	queue  []*Request
	seen   *DedupSet
	active int
	closed bool
	// wake is closed and replaced whenever the queue or active count changes.
	wake chan struct{}
}

// NewFrontier returns an empty frontier backed by seen. A nil set gets a fresh one.
func NewFrontier(seen *DedupSet) *Frontier {
	if seen == nil {
		seen = NewDedupSet()
	}
	return &Frontier{
		seen: seen,
		wake: make(chan struct{}),
	}
}

// Push normalizes the request URL and appends it unless the URL was already
// seen. It reports whether the request was accepted; duplicates are not an error.
func (f *Frontier) Push(req *Request) (bool, error) {
	if req == nil {
		return false, errors.New("push nil request")
	}
	normalized, err := NormalizeURL(req.URL)
	if err != nil {
		return false, err
	}
	req.URL = normalized

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false, ErrFrontierClosed
	}
	if !f.seen.MarkIfNew(normalized) {
		return false, nil
	}
	req.state = StatePending
	f.queue = append(f.queue, req)
	f.signalLocked()
	return true, nil
}

// PushRetry re-appends a request that is already marked seen. The caller must
// still hold the request as active; the active slot is released by Done.
func (f *Frontier) PushRetry(req *Request) error {
	if req == nil {
		return errors.New("push nil retry")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("requeue %s: %w", req.URL, ErrFrontierClosed)
	}
	req.state = StateRetryScheduled
	f.queue = append(f.queue, req)
	f.signalLocked()
	return nil
}

// Pop removes and returns the head request, marking it active. When the queue
// is empty it waits while any request is still active. Once the queue is
// empty and nothing is active the frontier closes for good and ErrQuiescent is
// returned. A cancelled ctx stops Pop before it takes new work.
func (f *Frontier) Pop(ctx context.Context) (*Request, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("pop request: %w", err)
		}
		f.mu.Lock()
		if len(f.queue) > 0 {
			req := f.queue[0]
			f.queue[0] = nil
			f.queue = f.queue[1:]
			f.active++
			f.mu.Unlock()
			return req, nil
		}
		if f.closed {
			f.mu.Unlock()
			return nil, ErrQuiescent
		}
		if f.active == 0 {
			f.closed = true
			f.signalLocked()
			f.mu.Unlock()
			return nil, ErrQuiescent
		}
		wake := f.wake
		f.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return nil, fmt.Errorf("pop request: %w", ctx.Err())
		}
	}
}

// Done releases the active slot taken by Pop.
func (f *Frontier) Done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active > 0 {
		f.active--
	}
	f.signalLocked()
}

// Close stops the frontier and returns the requests that were never popped.
func (f *Frontier) Close() []*Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	left := f.queue
	f.queue = nil
	if !f.closed {
		f.closed = true
		f.signalLocked()
	}
	return left
}

// Len returns the number of queued requests.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

// Active returns the number of popped requests not yet released.
func (f *Frontier) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// Seen exposes the dedup set.
func (f *Frontier) Seen() *DedupSet {
	return f.seen
}

func (f *Frontier) signalLocked() {
	close(f.wake)
	f.wake = make(chan struct{})
}
