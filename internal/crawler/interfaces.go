package crawler

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Fetcher retrieves a URL and returns its rendered content. Implementations
// must be safe to call again for the same URL and must honor ctx deadlines.
// Errors should be *FetchError where a status code is known; the engine does
// the retry classification.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url string) (*Page, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, url string) (*Page, error) {
	return f(ctx, url)
}

// RobotsFetcher performs the plain GET for a robots.txt document.
type RobotsFetcher interface {
	FetchRobots(ctx context.Context, robotsURL string) (status int, body []byte, err error)
}

// Limiter paces fetches per host.
type Limiter interface {
	Wait(ctx context.Context, host string) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// RunIDGenerator produces run identifiers.
type RunIDGenerator interface {
	NewRunID() (uuid.UUID, error)
}

// Initializer seeds the frontier once per run.
type Initializer interface {
	Init(ctx context.Context, e *Engine) error
}

// LinkExtractor discovers follow-up requests on a fetched page.
type LinkExtractor interface {
	ExtractLinks(ctx context.Context, e *Engine, req *Request, page *Page) error
}

// PageParser extracts records from a fetched page.
type PageParser interface {
	ParsePage(ctx context.Context, e *Engine, req *Request, page *Page) error
}

// Hooks are the extension points invoked by the engine. Any of them may be
// nil. ExtractLinks and ParsePage run synchronously inside a worker and may
// call Engine.AddRequest concurrently with other workers.
type Hooks struct {
	Init         func(ctx context.Context, e *Engine) error
	ExtractLinks func(ctx context.Context, e *Engine, req *Request, page *Page) error
	ParsePage    func(ctx context.Context, e *Engine, req *Request, page *Page) error
}

// HooksFrom builds Hooks from whichever of Initializer, LinkExtractor and
// PageParser v implements.
func HooksFrom(v any) Hooks {
	var h Hooks
	if i, ok := v.(Initializer); ok {
		h.Init = i.Init
	}
	if l, ok := v.(LinkExtractor); ok {
		h.ExtractLinks = l.ExtractLinks
	}
	if p, ok := v.(PageParser); ok {
		h.ParsePage = p.ParsePage
	}
	return h
}
