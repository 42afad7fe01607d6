package spider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlwright/internal/crawler"
	"github.com/JakeFAU/crawlwright/internal/dataset"
	collyfetcher "github.com/JakeFAU/crawlwright/internal/fetcher/colly"
)

var site = map[string]string{
	"/": `<html><head><title>Home</title><meta name="description" content="landing"></head>
<body><h1>Welcome</h1><a href="/a">a</a><a href="/b">b</a><a href="https://other.test/x">ext</a></body></html>`,
	"/a": `<html><head><title>A</title></head><body><h2>Section</h2><a href="/b">b</a><a href="/c">c</a></body></html>`,
	"/b": `<html><head><title>B</title></head><body>leaf</body></html>`,
	"/c": `<html><head><title>C</title></head><body><a href="/d">d</a></body></html>`,
	"/d": `<html><head><title>D</title></head><body>deep</body></html>`,
}

func newSiteServer(t *testing.T) (*httptest.Server, *sync.Map) {
	t.Helper()
	var hits sync.Map
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := site[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		n, _ := hits.LoadOrStore(r.URL.Path, new(atomic.Int64))
		n.(*atomic.Int64).Add(1)
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func runSpider(t *testing.T, cfg Config) (*dataset.MemorySink, crawler.Result) {
	t.Helper()
	sink := dataset.NewMemorySink()
	sp, err := New(cfg, sink, zap.NewNop())
	require.NoError(t, err)

	opts := crawler.DefaultOptions()
	opts.RequestsPerSecond = 0
	opts.Concurrency = 3
	opts.RequestTimeout = 5 * time.Second
	fetcher := collyfetcher.New(collyfetcher.Config{UserAgent: opts.UserAgent, Timeout: opts.RequestTimeout})
	engine, err := crawler.NewEngine(opts, fetcher, sp.Hooks(), zap.NewNop())
	require.NoError(t, err)
	res, err := engine.Run(context.Background())
	require.NoError(t, err)
	return sink, res
}

func TestSpiderFollowsSameHostLinksToDepth(t *testing.T) {
	t.Parallel()

	srv, hits := newSiteServer(t)
	sink, res := runSpider(t, Config{Seeds: []string{srv.URL + "/"}, MaxDepth: 2, SameHost: true})

	titles := map[string]map[string]any{}
	for _, rec := range sink.Records() {
		titles[rec.Data["title"].(string)] = rec.Data
	}
	var got []string
	for title := range titles {
		got = append(got, title)
	}
	sort.Strings(got)
	require.Equal(t, []string{"A", "B", "C", "Home"}, got)
	require.Empty(t, res.Failures)
	require.Equal(t, int64(4), res.Stats.Succeeded)

	home := titles["Home"]
	require.Equal(t, "landing", home["description"])
	require.Equal(t, []string{"Welcome"}, home["h1"])
	require.Equal(t, 0, home["depth"])
	require.Equal(t, 2, titles["C"]["depth"])
	require.Equal(t, srv.URL+"/a", titles["C"]["parent"])
	require.True(t, strings.HasPrefix(home["content_hash"].(string), "sha256:"))
	require.NotEqual(t, home["content_hash"], titles["A"]["content_hash"])

	for _, path := range []string{"/", "/a", "/b", "/c"} {
		n, ok := hits.Load(path)
		require.True(t, ok, path)
		require.Equal(t, int64(1), n.(*atomic.Int64).Load(), path)
	}
	_, fetchedDeep := hits.Load("/d")
	require.False(t, fetchedDeep)
}

func TestSpiderSeedsOnly(t *testing.T) {
	t.Parallel()

	srv, _ := newSiteServer(t)
	sink, res := runSpider(t, Config{Seeds: []string{srv.URL + "/", srv.URL + "/b"}})
	require.Equal(t, 2, sink.Len())
	require.Equal(t, int64(2), res.Stats.Enqueued)
	for _, rec := range sink.Records() {
		require.Equal(t, LabelSeed, rec.Label)
	}
}

func TestSpiderInvalidSeedFailsInit(t *testing.T) {
	t.Parallel()

	sp, err := New(Config{Seeds: []string{"ftp://example.com/"}}, dataset.NewMemorySink(), nil)
	require.NoError(t, err)
	opts := crawler.DefaultOptions()
	opts.RequestsPerSecond = 0
	fetcher := crawler.FetcherFunc(func(context.Context, string) (*crawler.Page, error) {
		t.Fatal("no fetch expected")
		return nil, nil
	})
	engine, err := crawler.NewEngine(opts, fetcher, sp.Hooks(), nil)
	require.NoError(t, err)
	_, err = engine.Run(context.Background())
	require.ErrorIs(t, err, crawler.ErrInvalidURL)
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, dataset.NewMemorySink(), nil)
	require.Error(t, err)
	_, err = New(Config{Seeds: []string{"https://example.com/"}, MaxDepth: -1}, dataset.NewMemorySink(), nil)
	require.Error(t, err)
	_, err = New(Config{Seeds: []string{"https://example.com/"}}, nil, nil)
	require.Error(t, err)
}

func TestDepth(t *testing.T) {
	t.Parallel()

	req, err := crawler.NewRequest("https://example.com/", "", map[string]any{MetaDepth: float64(3)})
	require.NoError(t, err)
	require.Equal(t, 3, Depth(req))

	bare, err := crawler.NewRequest("https://example.com/", "", nil)
	require.NoError(t, err)
	require.Equal(t, 0, Depth(bare))
}
