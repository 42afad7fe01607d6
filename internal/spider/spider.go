// Package spider provides a ready-made crawl definition: it seeds the
// frontier, follows links up to a depth (optionally staying on the seed's
// host) and records each page's title, description and headings.
package spider

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlwright/internal/crawler"
	"github.com/JakeFAU/crawlwright/internal/dataset"
	"github.com/JakeFAU/crawlwright/internal/hash/sha256"
)

// Request labels used by the spider.
const (
	LabelSeed = "SEED"
	LabelPage = "PAGE"
)

// Metadata keys carried on requests.
const (
	MetaDepth  = "depth"
	MetaParent = "parent"
)

// Config controls the spider.
type Config struct {
	Seeds []string `mapstructure:"seeds"`
	// MaxDepth bounds link following; 0 means only the seeds are fetched.
	MaxDepth int `mapstructure:"max_depth"`
	// SameHost restricts discovered links to the host of the page they were found on.
	SameHost bool `mapstructure:"same_host"`
}

// Spider implements crawler.Initializer, crawler.LinkExtractor and
// crawler.PageParser.
type Spider struct {
	cfg    Config
	sink   dataset.Sink
	logger *zap.Logger
	hasher *sha256.Hasher
	now    func() time.Time
}

// New validates cfg and returns a Spider writing to sink.
func New(cfg Config, sink dataset.Sink, logger *zap.Logger) (*Spider, error) {
	if len(cfg.Seeds) == 0 {
		return nil, errors.New("spider: at least one seed is required")
	}
	if cfg.MaxDepth < 0 {
		return nil, errors.New("spider: max_depth must be >= 0")
	}
	if sink == nil {
		return nil, errors.New("spider: dataset sink is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Spider{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		hasher: sha256.New(),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Hooks returns the spider as engine hooks.
func (s *Spider) Hooks() crawler.Hooks {
	return crawler.HooksFrom(s)
}

// Init enqueues the seeds at depth 0. A seed that is not a valid http(s)
// URL fails the run.
func (s *Spider) Init(_ context.Context, e *crawler.Engine) error {
	for _, seed := range s.cfg.Seeds {
		if err := e.AddRequest(seed, LabelSeed, map[string]any{MetaDepth: 0}); err != nil {
			return fmt.Errorf("add seed %q: %w", seed, err)
		}
	}
	return nil
}

// ExtractLinks enqueues the page's links one level deeper.
func (s *Spider) ExtractLinks(_ context.Context, e *crawler.Engine, req *crawler.Request, page *crawler.Page) error {
	depth := Depth(req)
	if depth >= s.cfg.MaxDepth {
		return nil
	}
	origin := hostname(page.FinalURL)
	if origin == "" {
		origin = hostname(req.URL)
	}
	added := 0
	for _, link := range page.Links() {
		if s.cfg.SameHost && hostname(link) != origin {
			continue
		}
		err := e.AddRequest(link, LabelPage, map[string]any{MetaDepth: depth + 1, MetaParent: req.URL})
		if errors.Is(err, crawler.ErrInvalidURL) {
			s.logger.Debug("skipping invalid link", zap.String("link", link), zap.Error(err))
			continue
		}
		if err != nil {
			return fmt.Errorf("enqueue link: %w", err)
		}
		added++
	}
	s.logger.Debug("links extracted", zap.String("url", req.URL), zap.Int("depth", depth), zap.Int("offered", added))
	return nil
}

// ParsePage records the page summary in the dataset.
func (s *Spider) ParsePage(ctx context.Context, _ *crawler.Engine, req *crawler.Request, page *crawler.Page) error {
	data := map[string]any{
		"title":        page.Title(),
		"description":  first(page.Attrs(`meta[name="description"]`, "content")),
		"h1":           page.Texts("h1"),
		"h2":           page.Texts("h2"),
		"links":        len(page.Links()),
		"status":       page.StatusCode,
		"used_js":      page.UsedJS,
		"depth":        Depth(req),
		"content_hash": s.hasher.Sum(page.Body),
		"bytes":        len(page.Body),
	}
	if parent, ok := req.Get(MetaParent); ok {
		data["parent"] = parent
	}
	if page.FinalURL != "" && page.FinalURL != req.URL {
		data["final_url"] = page.FinalURL
	}
	rec := dataset.Record{URL: req.URL, Label: req.Label, Data: data, ScrapedAt: s.now()}
	if err := s.sink.Push(ctx, rec); err != nil {
		return fmt.Errorf("push record: %w", err)
	}
	return nil
}

// Depth reads the request's link depth; requests without one are at depth 0.
func Depth(req *crawler.Request) int {
	v, ok := req.Get(MetaDepth)
	if !ok {
		return 0
	}
	switch d := v.(type) {
	case int:
		return d
	case int64:
		return int(d)
	case float64:
		return int(d)
	default:
		return 0
	}
}

func hostname(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func first(values []string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
