// Package detector decides when a plainly fetched page needs a browser render.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/JakeFAU/crawlwright/internal/crawler"
)

// DefaultMarkers are body substrings left behind by client-rendered apps.
var DefaultMarkers = []string{
	"__NEXT_DATA__",
	"data-reactroot",
	"ng-app",
	"window.__APOLLO_STATE__",
	`id="root"`,
	`id="app"`,
}

// Heuristic promotes pages that look like an empty shell waiting on scripts.
type Heuristic struct {
	// MinBodyBytes is the size below which a script-heavy body is promoted.
	MinBodyBytes int
	// MinTextBytes is the visible-text size below which a body is promoted.
	MinTextBytes int
	markers      [][]byte
}

// NewHeuristic creates a detector. Zero thresholds and nil markers take defaults.
func NewHeuristic(minBodyBytes, minTextBytes int, markers []string) *Heuristic {
	if minBodyBytes <= 0 {
		minBodyBytes = 2048
	}
	if minTextBytes <= 0 {
		minTextBytes = 64
	}
	if markers == nil {
		markers = DefaultMarkers
	}
	h := &Heuristic{MinBodyBytes: minBodyBytes, MinTextBytes: minTextBytes}
	for _, m := range markers {
		if m = strings.TrimSpace(m); m != "" {
			h.markers = append(h.markers, []byte(strings.ToLower(m)))
		}
	}
	return h
}

// ShouldPromote reports whether page should be fetched again in a browser.
// Only successful HTML responses are candidates.
func (h *Heuristic) ShouldPromote(page *crawler.Page) bool {
	if page == nil || page.StatusCode != http.StatusOK || page.UsedJS {
		return false
	}
	if ct := page.Headers.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return false
	}
	if len(page.Body) == 0 {
		return true
	}
	if len(page.Body) < h.MinBodyBytes && scriptDensityHigh(page.Body) {
		return true
	}
	lower := bytes.ToLower(page.Body)
	for _, marker := range h.markers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return visibleTextLen(page) < h.MinTextBytes
}

func visibleTextLen(page *crawler.Page) int {
	doc := page.Select("body")
	if doc == nil || doc.Length() == 0 {
		return 0
	}
	doc = doc.Clone()
	doc.Find("script,style,noscript,template").Remove()
	return len(strings.TrimSpace(doc.Text()))
}

// scriptDensityHigh reports whether script elements cover a quarter or more
// of the body.
func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	covered := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagEnd := strings.IndexByte(lower[start:], '>')
		if tagEnd == -1 {
			// Unterminated tag runs to the end.
			covered += total - start
			break
		}
		contentStart := start + tagEnd + 1
		next := total
		if end := strings.Index(lower[contentStart:], closeTag); end != -1 {
			next = contentStart + end + len(closeTag)
		}
		covered += next - start
		pos = next
	}
	return covered*100/total >= 25
}
