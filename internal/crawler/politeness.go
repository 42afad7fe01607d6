package crawler

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DedupSet tracks normalized URLs already scheduled in one run. URLs are never
// removed, so a request dropped after exhausting retries stays seen.
type DedupSet struct {
	seen  sync.Map
	size  atomic.Int64
	dupes atomic.Int64
}

// NewDedupSet returns an empty set.
func NewDedupSet() *DedupSet {
	return &DedupSet{}
}

// MarkIfNew stores the URL if it has not been seen before and returns true.
// Check and insert are a single atomic step.
func (d *DedupSet) MarkIfNew(url string) bool {
	if url == "" {
		return false
	}
	_, loaded := d.seen.LoadOrStore(url, struct{}{})
	if loaded {
		d.dupes.Add(1)
		return false
	}
	d.size.Add(1)
	return true
}

// Seen reports membership without inserting.
func (d *DedupSet) Seen(url string) bool {
	_, ok := d.seen.Load(url)
	return ok
}

// Len returns the number of distinct URLs recorded.
func (d *DedupSet) Len() int {
	return int(d.size.Load())
}

// Duplicates returns how many MarkIfNew calls were rejected.
func (d *DedupSet) Duplicates() int64 {
	return d.dupes.Load()
}

// domainBlocker counts terminal fetch failures per host and blocks the host
// once the threshold is reached. A zero threshold disables it.
type domainBlocker struct {
	mu        sync.Mutex
	threshold int
	counts    map[string]int
	blocked   map[string]struct{}
}

func newDomainBlocker(threshold int) *domainBlocker {
	return &domainBlocker{
		threshold: threshold,
		counts:    make(map[string]int),
		blocked:   make(map[string]struct{}),
	}
}

func (b *domainBlocker) IsBlocked(host string) bool {
	if b == nil || b.threshold <= 0 || host == "" {
		return false
	}
	key := strings.ToLower(host)
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.blocked[key]
	return ok
}

// MarkFailure increments the counter for host and returns true once blocked.
func (b *domainBlocker) MarkFailure(host string) bool {
	if b == nil || b.threshold <= 0 || host == "" {
		return false
	}
	key := strings.ToLower(host)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, blocked := b.blocked[key]; blocked {
		return true
	}
	b.counts[key]++
	if b.counts[key] >= b.threshold {
		b.blocked[key] = struct{}{}
		return true
	}
	return false
}

// pause sleeps for delay or until ctx is done, reporting whether the full
// delay elapsed.
func pause(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
