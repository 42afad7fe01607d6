// Package escalate composes a plain HTTP fetcher with a browser fetcher,
// rendering only the pages a detector flags as client-rendered.
package escalate

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlwright/internal/crawler"
)

// Detector decides whether a probed page needs a browser render.
type Detector interface {
	ShouldPromote(page *crawler.Page) bool
}

// Fetcher probes with a cheap fetcher and promotes to the renderer on demand.
// A failed render falls back to the probe page, so promotion never turns a
// successful fetch into a failure.
type Fetcher struct {
	probe    crawler.Fetcher
	renderer crawler.Fetcher
	detector Detector
	logger   *zap.Logger
}

// New builds an escalating fetcher. A nil renderer or detector disables promotion.
func New(probe, renderer crawler.Fetcher, detector Detector, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{probe: probe, renderer: renderer, detector: detector, logger: logger}
}

// Fetch implements crawler.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*crawler.Page, error) {
	page, err := f.probe.Fetch(ctx, url)
	if err != nil {
		return nil, err //nolint:wrapcheck // classification needs the fetcher's error as-is
	}
	if f.renderer == nil || f.detector == nil || !f.detector.ShouldPromote(page) {
		return page, nil
	}
	rendered, err := f.renderer.Fetch(ctx, url)
	if err != nil {
		f.logger.Warn("headless promotion failed", zap.String("url", url), zap.Error(err))
		return page, nil
	}
	rendered.UsedJS = true
	rendered.Duration += page.Duration
	f.logger.Debug("headless promotion applied", zap.String("url", url))
	return rendered, nil
}
