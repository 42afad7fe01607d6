package crawler

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// Page is the rendered content handed to the hooks. Query helpers are
// read-only; the parsed tree is built once on first use and shared.
type Page struct {
	// URL is the requested URL.
	URL string
	// FinalURL is the URL after redirects; relative links resolve against it.
	FinalURL string
	// StatusCode is the HTTP status of the final response.
	StatusCode int
	// Headers holds the response headers when the fetcher exposes them.
	Headers http.Header
	// Body is the raw (or rendered) document.
	Body []byte
	// UsedJS is true when a browser rendered the page.
	UsedJS bool
	// Duration is the time spent fetching.
	Duration time.Duration

	parseOnce sync.Once
	root      *html.Node
	doc       *goquery.Document
	parseErr  error
}

func (p *Page) parse() {
	p.parseOnce.Do(func() {
		root, err := htmlquery.Parse(bytes.NewReader(p.Body))
		if err != nil {
			p.parseErr = fmt.Errorf("parse html: %w", err)
			return
		}
		p.root = root
		p.doc = goquery.NewDocumentFromNode(root)
	})
}

// Document returns the goquery document for the page body.
func (p *Page) Document() (*goquery.Document, error) {
	p.parse()
	if p.parseErr != nil {
		return nil, p.parseErr
	}
	return p.doc, nil
}

// Select returns the elements matching a CSS selector. A parse failure yields
// an empty selection.
func (p *Page) Select(selector string) *goquery.Selection {
	doc, err := p.Document()
	if err != nil {
		return &goquery.Selection{}
	}
	return doc.Find(selector)
}

// Texts returns the trimmed, non-empty text of every element matching selector.
func (p *Page) Texts(selector string) []string {
	var out []string
	p.Select(selector).Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			out = append(out, text)
		}
	})
	return out
}

// Attrs returns the attribute values of every element matching selector that has attr.
func (p *Page) Attrs(selector, attr string) []string {
	var out []string
	p.Select(selector).Each(func(_ int, s *goquery.Selection) {
		if v, ok := s.Attr(attr); ok {
			out = append(out, strings.TrimSpace(v))
		}
	})
	return out
}

// Title returns the document title.
func (p *Page) Title() string {
	return strings.TrimSpace(p.Select("title").First().Text())
}

// Links returns every a[href] resolved against the final URL with fragments
// stripped. Non-http(s) targets such as mailto: and javascript: are skipped.
func (p *Page) Links() []string {
	var out []string
	for _, href := range p.Attrs("a[href]", "href") {
		if href == "" {
			continue
		}
		abs, err := p.Join(href)
		if err != nil {
			continue
		}
		if !strings.HasPrefix(abs, "http://") && !strings.HasPrefix(abs, "https://") {
			continue
		}
		out = append(out, abs)
	}
	return out
}

// XPath evaluates expr and returns the inner text of each matching node.
func (p *Page) XPath(expr string) ([]string, error) {
	p.parse()
	if p.parseErr != nil {
		return nil, p.parseErr
	}
	nodes, err := htmlquery.QueryAll(p.root, expr)
	if err != nil {
		return nil, fmt.Errorf("evaluate xpath %q: %w", expr, err)
	}
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, strings.TrimSpace(htmlquery.InnerText(n)))
	}
	return out, nil
}

// Join resolves ref against the page's final URL.
func (p *Page) Join(ref string) (string, error) {
	base := p.FinalURL
	if base == "" {
		base = p.URL
	}
	return JoinURL(base, ref)
}
