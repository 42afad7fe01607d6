// Package headless renders pages in headless Chrome for sites whose content
// only exists after scripts run.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/crawlwright/internal/crawler"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultWaitSelector      = "body"
)

// Config controls the browser fetcher.
type Config struct {
	// MaxParallel bounds open tabs across all workers; zero leaves it to the
	// engine's concurrency.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// Headers are sent with every navigation.
	Headers http.Header
	// WaitSelector must be visible in the DOM before the page is captured.
	WaitSelector string
	// SettleDelay is waited after WaitSelector is ready so late scripts can finish.
	SettleDelay time.Duration
}

// Fetcher implements crawler.Fetcher by rendering each request in its own tab
// of one shared Chrome process.
type Fetcher struct {
	cfg         Config
	tabs        *semaphore.Weighted
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp starts the browser allocator. Chrome itself launches lazily on
// the first Fetch.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("headless max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.WaitSelector == "" {
		cfg.WaitSelector = defaultWaitSelector
	}
	cfg.SettleDelay = max(cfg.SettleDelay, 0)

	f := &Fetcher{cfg: cfg}
	if cfg.MaxParallel > 0 {
		f.tabs = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}
	f.allocator, f.allocCancel = chromedp.NewExecAllocator(context.Background(),
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", "new"),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("hide-scrollbars", true),
			chromedp.Flag("enable-automation", false),
		)...,
	)
	return f, nil
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch renders url and returns the serialized DOM. The status and headers
// come from the last document response the tab saw, so redirects report the
// final hop. A failure to reach the page at all is a *crawler.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*crawler.Page, error) {
	if f.tabs != nil {
		if err := f.tabs.Acquire(ctx, 1); err != nil {
			return nil, &crawler.FetchError{URL: url, Err: fmt.Errorf("wait for browser tab: %w", err)}
		}
		defer f.tabs.Release(1)
	}

	tab, closeTab := chromedp.NewContext(f.allocator)
	defer closeTab()
	tab, cancel := context.WithTimeout(tab, f.cfg.NavigationTimeout)
	defer cancel()
	// Close the tab as soon as the caller gives up.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	doc := &documentTracker{}
	chromedp.ListenTarget(tab, doc.observe)

	start := time.Now()
	var html, location string
	if err := chromedp.Run(tab, f.render(url, &html, &location)...); err != nil {
		return nil, &crawler.FetchError{URL: url, Err: fmt.Errorf("render: %w", err)}
	}

	status, headers, finalURL := doc.result()
	if status == 0 {
		// No document response was observed (cached or synthesized page).
		status = http.StatusOK
	}
	if finalURL == "" {
		finalURL = location
	}
	if finalURL == "" {
		finalURL = url
	}
	return &crawler.Page{
		URL:        url,
		FinalURL:   finalURL,
		StatusCode: status,
		Headers:    headers,
		Body:       []byte(html),
		UsedJS:     true,
		Duration:   time.Since(start),
	}, nil
}

func (f *Fetcher) render(url string, html, location *string) []chromedp.Action {
	actions := []chromedp.Action{
		chromedp.ActionFunc(f.prepareTab),
		chromedp.Navigate(url),
		chromedp.WaitReady(f.cfg.WaitSelector, chromedp.ByQuery),
	}
	if f.cfg.SettleDelay > 0 {
		actions = append(actions, chromedp.Sleep(f.cfg.SettleDelay))
	}
	return append(actions,
		chromedp.Location(location),
		chromedp.OuterHTML("html", html, chromedp.ByQuery),
	)
}

// prepareTab enables response events and applies the crawl identity.
func (f *Fetcher) prepareTab(ctx context.Context) error {
	if err := network.Enable().Do(ctx); err != nil {
		return fmt.Errorf("enable network events: %w", err)
	}
	if f.cfg.UserAgent != "" {
		if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("override user agent: %w", err)
		}
	}
	if extra := networkHeaders(f.cfg.Headers); len(extra) > 0 {
		if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
	}
	return nil
}

// documentTracker remembers the newest document response seen by a tab.
// Subresource responses are ignored.
type documentTracker struct {
	mu   sync.Mutex
	last *network.Response
}

func (d *documentTracker) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	d.mu.Lock()
	d.last = resp.Response
	d.mu.Unlock()
}

func (d *documentTracker) result() (int, http.Header, string) {
	d.mu.Lock()
	last := d.last
	d.mu.Unlock()
	if last == nil {
		return 0, http.Header{}, ""
	}
	return int(last.Status), httpHeader(last.Headers), last.URL
}

// httpHeader flattens DevTools headers, whose values may arrive as a string,
// a list, or a newline-joined string for repeated fields.
func httpHeader(src network.Headers) http.Header {
	out := make(http.Header, len(src))
	for key, value := range src {
		switch v := value.(type) {
		case string:
			for _, line := range strings.Split(v, "\n") {
				out.Add(key, line)
			}
		case []string:
			for _, entry := range v {
				out.Add(key, entry)
			}
		case []any:
			for _, entry := range v {
				out.Add(key, fmt.Sprint(entry))
			}
		default:
			out.Add(key, fmt.Sprint(v))
		}
	}
	return out
}

func networkHeaders(h http.Header) network.Headers {
	out := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			out[key] = values[0]
		default:
			out[key] = append([]string(nil), values...)
		}
	}
	return out
}
