package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// RobotsBodyLimit caps how much of a robots.txt is read. RFC 9309 2.5
	// requires parsing at least 500 KiB.
	RobotsBodyLimit = 500 << 10
	// RobotsMaxRedirects is how many redirect hops a robots.txt fetch
	// follows (RFC 9309 2.3.1.2).
	RobotsMaxRedirects   = 5
	defaultRobotsTimeout = 10 * time.Second
)

// ErrRobotsRedirectLimit is returned when robots.txt redirects more than
// RobotsMaxRedirects times.
var ErrRobotsRedirectLimit = errors.New("robots.txt redirect limit reached")

// HTTPRobotsFetcher performs a single robots.txt GET. The colly-backed
// fetcher wraps it with timeout retries over its pooled transport.
type HTTPRobotsFetcher struct {
	client    *http.Client
	userAgent string
}

// NewHTTPRobotsFetcher builds a fetcher; a nil client gets a 10s timeout
// client. A client without a redirect policy is copied and given one.
func NewHTTPRobotsFetcher(client *http.Client, userAgent string) *HTTPRobotsFetcher {
	if client == nil {
		client = &http.Client{Timeout: defaultRobotsTimeout}
	}
	if client.CheckRedirect == nil {
		c := *client
		c.CheckRedirect = limitRobotsRedirects
		client = &c
	}
	return &HTTPRobotsFetcher{client: client, userAgent: userAgent}
}

func limitRobotsRedirects(_ *http.Request, via []*http.Request) error {
	if len(via) > RobotsMaxRedirects {
		return ErrRobotsRedirectLimit
	}
	return nil
}

// FetchRobots implements RobotsFetcher. The status is that of the final
// redirect hop.
func (f *HTTPRobotsFetcher) FetchRobots(ctx context.Context, robotsURL string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("new robots request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/plain, */*;q=0.5")
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, RobotsBodyLimit))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read robots body: %w", err)
	}
	return resp.StatusCode, body, nil
}

type robotsEntry struct {
	// data is nil when the host is allow-all after a failed fetch.
	data      *robotstxt.RobotsData
	fetchedAt time.Time
}

// RobotsCache answers robots.txt permission checks for one run. Rules are
// fetched lazily on the first request to a host and cached for the run's
// lifetime. Concurrent first lookups for the same host share one fetch.
// When obey is false the cache is inert and allows everything.
type RobotsCache struct {
	obey       bool
	userAgent  string
	fetcher    RobotsFetcher
	timeout    time.Duration
	clock      Clock
	logger     *zap.Logger
	onFailOpen func(host string, err error)

	group   singleflight.Group
	mu      sync.RWMutex
	entries map[string]robotsEntry
	fetches atomic.Int64
}

// NewRobotsCache builds a cache. A nil fetcher falls back to HTTPRobotsFetcher.
func NewRobotsCache(obey bool, userAgent string, fetcher RobotsFetcher, logger *zap.Logger) *RobotsCache {
	if fetcher == nil {
		fetcher = NewHTTPRobotsFetcher(nil, userAgent)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RobotsCache{
		obey:      obey,
		userAgent: userAgent,
		fetcher:   fetcher,
		timeout:   defaultRobotsTimeout,
		logger:    logger,
		entries:   make(map[string]robotsEntry),
	}
}

// Allowed reports whether userAgent may fetch rawURL.
func (r *RobotsCache) Allowed(ctx context.Context, rawURL string) bool {
	if r == nil || !r.obey {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false
	}
	entry := r.load(ctx, parsed)
	if entry.data == nil {
		return true
	}
	group := entry.data.FindGroup(r.userAgent)
	if group == nil {
		return true
	}
	return group.Test(parsed.RequestURI())
}

// Fetches returns how many robots.txt documents were requested.
func (r *RobotsCache) Fetches() int64 {
	return r.fetches.Load()
}

// FetchedAt returns when rules for the host of rawURL were cached.
func (r *RobotsCache) FetchedAt(rawURL string) (time.Time, bool) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return time.Time{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[cacheKey(parsed)]
	return entry.fetchedAt, ok
}

func cacheKey(parsed *url.URL) string {
	return strings.ToLower(parsed.Scheme + "://" + parsed.Host)
}

func (r *RobotsCache) load(ctx context.Context, parsed *url.URL) robotsEntry {
	key := cacheKey(parsed)
	r.mu.RLock()
	entry, ok := r.entries[key]
	r.mu.RUnlock()
	if ok {
		return entry
	}

	v, _, _ := r.group.Do(key, func() (any, error) {
		r.mu.RLock()
		cached, hit := r.entries[key]
		r.mu.RUnlock()
		if hit {
			return cached, nil
		}
		fresh := r.fetch(ctx, parsed)
		r.mu.Lock()
		r.entries[key] = fresh
		r.mu.Unlock()
		return fresh, nil
	})
	loaded, _ := v.(robotsEntry)
	return loaded
}

func (r *RobotsCache) fetch(ctx context.Context, parsed *url.URL) robotsEntry {
	// The shared fetch must not die with whichever caller started it.
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	r.fetches.Add(1)
	entry := robotsEntry{fetchedAt: r.now()}
	target := robotsURL(parsed)
	status, body, err := r.fetcher.FetchRobots(fetchCtx, target)
	if err == nil && status != http.StatusOK {
		err = fmt.Errorf("unexpected status %d", status)
	}
	if err == nil {
		data, perr := robotstxt.FromStatusAndBytes(status, body)
		if perr == nil {
			entry.data = data
			return entry
		}
		err = fmt.Errorf("parse robots: %w", perr)
	}

	host := strings.ToLower(parsed.Host)
	r.logger.Warn("robots fetch failed; allowing all",
		zap.String("host", host),
		zap.String("robots_url", target),
		zap.Error(err),
	)
	if r.onFailOpen != nil {
		r.onFailOpen(host, err)
	}
	return entry
}

func (r *RobotsCache) now() time.Time {
	if r.clock != nil {
		return r.clock.Now()
	}
	return time.Now().UTC()
}
