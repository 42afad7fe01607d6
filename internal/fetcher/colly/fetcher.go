// Package collyfetcher fetches pages over plain HTTP with gocolly. It is the
// default crawler.Fetcher and the probe stage of the escalating fetcher.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/crawlwright/internal/crawler"
)

const (
	defaultTimeout = 15 * time.Second
	defaultAccept  = "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8"
)

var errNoResponse = errors.New("collector finished without a response")

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// Headers are added to every page request. Accept defaults to HTML.
	Headers http.Header
	// MaxBodySize caps the response body in bytes; zero keeps colly's default.
	MaxBodySize int
}

// Fetcher implements crawler.Fetcher with one cloned collector per request.
// Robots rules belong to the engine, so the collector never reads robots.txt.
type Fetcher struct {
	cfg       Config
	transport *http.Transport
	base      *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	transport := newTransport()
	base := colly.NewCollector(colly.Async(false))
	base.WithTransport(transport)
	return &Fetcher{cfg: cfg, transport: transport, base: base}
}

// Fetch performs a single GET. Transport failures and responses colly treats
// as errors (status >= 400) come back as *crawler.FetchError carrying the
// status, so the engine can decide whether to retry.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*crawler.Page, error) {
	v := &visit{url: url, start: time.Now(), headers: f.requestHeaders()}
	collector := f.collector()
	v.bind(collector)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()
	select {
	case <-ctx.Done():
		return nil, &crawler.FetchError{URL: url, Err: fmt.Errorf("fetch abandoned: %w", ctx.Err())}
	case err := <-done:
		return v.outcome(err)
	}
}

func (f *Fetcher) collector() *colly.Collector {
	c := f.base.Clone()
	if f.cfg.UserAgent != "" {
		c.UserAgent = f.cfg.UserAgent
	}
	c.IgnoreRobotsTxt = true
	// Clones share visit storage; retries must be able to hit the same URL.
	c.AllowURLRevisit = true
	if f.cfg.MaxBodySize > 0 {
		c.MaxBodySize = f.cfg.MaxBodySize
	}
	c.SetRequestTimeout(f.cfg.Timeout)
	c.WithTransport(f.transport)
	return c
}

func (f *Fetcher) requestHeaders() http.Header {
	h := f.cfg.Headers.Clone()
	if h == nil {
		h = http.Header{}
	}
	if h.Get("Accept") == "" {
		h.Set("Accept", defaultAccept)
	}
	return h
}

// visit collects the callbacks of one collector run. Only the collector's
// goroutine writes to it, and Fetch reads it after Visit returns.
type visit struct {
	url     string
	start   time.Time
	headers http.Header
	page    *crawler.Page
	err     error
}

func (v *visit) bind(hooks collectorHooks) {
	hooks.OnRequest(v.onRequest)
	hooks.OnResponse(v.onResponse)
	hooks.OnError(v.onError)
}

func (v *visit) onRequest(r *colly.Request) {
	for key, values := range v.headers {
		r.Headers.Del(key)
		for _, value := range values {
			r.Headers.Add(key, value)
		}
	}
}

func (v *visit) onResponse(r *colly.Response) {
	v.page = &crawler.Page{
		URL:        v.url,
		FinalURL:   r.Request.URL.String(),
		StatusCode: r.StatusCode,
		Headers:    r.Headers.Clone(),
		Body:       append([]byte(nil), r.Body...),
		Duration:   time.Since(v.start),
	}
}

func (v *visit) onError(r *colly.Response, err error) {
	status := 0
	if r != nil {
		status = r.StatusCode
	}
	v.err = &crawler.FetchError{URL: v.url, StatusCode: status, Err: err}
}

func (v *visit) outcome(visitErr error) (*crawler.Page, error) {
	switch {
	case v.err != nil:
		return nil, v.err
	case visitErr != nil:
		return nil, &crawler.FetchError{URL: v.url, Err: fmt.Errorf("colly visit: %w", visitErr)}
	case v.page == nil:
		return nil, &crawler.FetchError{URL: v.url, Err: errNoResponse}
	default:
		return v.page, nil
	}
}

// newTransport is shared by page and robots.txt requests. Crawls revisit the
// same hosts, so more idle connections are kept per host than net/http's
// default of two.
func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
	}
}
