package cmd

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlwright/internal/app"
	"github.com/JakeFAU/crawlwright/internal/storage/memory"
	"github.com/JakeFAU/crawlwright/internal/store"
)

// useTestApp swaps the app factory for one backed by an in-memory journal
// and resets global viper state.
func useTestApp(t *testing.T) *memory.JournalStore {
	t.Helper()
	viper.Reset()
	journal := memory.NewJournalStore()
	orig := newApp
	newApp = func(context.Context, *viper.Viper) (App, error) {
		return &app.App{
			Logger:   zap.NewNop(),
			Registry: prometheus.NewRegistry(),
			Journal:  journal,
		}, nil
	}
	t.Cleanup(func() {
		newApp = orig
		viper.Reset()
	})
	return journal
}

// countingApp records how often the command released its services.
type countingApp struct {
	*app.App
	closes *int
}

func (c countingApp) Close() { *c.closes++ }

func TestFailedCrawlStillClosesApp(t *testing.T) {
	useTestApp(t)
	closes := 0
	newApp = func(context.Context, *viper.Viper) (App, error) {
		return countingApp{
			App: &app.App{
				Logger:   zap.NewNop(),
				Registry: prometheus.NewRegistry(),
				Journal:  memory.NewJournalStore(),
			},
			closes: &closes,
		}, nil
	}

	_, err := executeRoot(t, "crawl")
	require.ErrorContains(t, err, "no seeds configured")
	require.Equal(t, 1, closes)

	srv := siteServer(t)
	_, err = executeRoot(t, "crawl", "--seed", srv.URL+"/", "--max-depth", "0")
	require.NoError(t, err)
	require.Equal(t, 2, closes)
}

func siteServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Home</title></head><body><h1>Welcome</h1><a href="/a">a</a></body></html>`)
	})
	mux.HandleFunc("/a", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>A</title></head><body><a href="/b">b</a></body></html>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root, release := newRootCmd()
	defer release()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCrawlCommandRunsToCompletion(t *testing.T) {
	journal := useTestApp(t)
	srv := siteServer(t)
	output := filepath.Join(t.TempDir(), "out", "records.jsonl")

	out, err := executeRoot(t, "crawl",
		"--seed", srv.URL+"/",
		"--max-depth", "1",
		"--concurrency", "2",
		"--output", output,
	)
	require.NoError(t, err, out)
	assert.Contains(t, out, "succeeded=2")
	assert.Contains(t, out, "records=2")

	f, err := os.Open(output)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines++
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, 2, lines)

	runs, err := journal.ListRuns(context.Background(), nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunSucceeded, runs[0].Status)

	outcomes, err := journal.ListOutcomes(context.Background(), runs[0].ID, store.OutcomeFilter{})
	require.NoError(t, err)
	assert.Len(t, outcomes, 2)
}

func TestCrawlCommandReportsDrops(t *testing.T) {
	useTestApp(t)
	srv := siteServer(t)

	out, err := executeRoot(t, "crawl", "--seed", srv.URL+"/missing", "--max-depth", "0")
	require.NoError(t, err, "drops are not a command failure")
	assert.Contains(t, out, "dropped=1")
	assert.Contains(t, out, srv.URL+"/missing")
}

func TestCrawlCommandConfigErrors(t *testing.T) {
	cases := []struct {
		name string
		args []string
		want string
	}{
		{name: "no seeds", args: []string{"crawl"}, want: "no seeds configured"},
		{name: "bad concurrency", args: []string{"crawl", "--seed", "https://example.com/", "--concurrency", "0"}, want: "concurrency must be > 0"},
		{name: "negative retries", args: []string{"crawl", "--seed", "https://example.com/", "--max-retries", "-1"}, want: "max_retries must be >= 0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			useTestApp(t)
			_, err := executeRoot(t, tc.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestCrawlCommandUnknownFetcherMode(t *testing.T) {
	useTestApp(t)
	cfg := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("fetcher:\n  mode: telnet\n"), 0o600))

	_, err := executeRoot(t, "crawl", "--config", cfg, "--seed", "https://example.com/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown fetcher mode: telnet")
}

func TestCrawlCommandRejectsUnknownCrawlerKeys(t *testing.T) {
	useTestApp(t)
	cfg := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("crawler:\n  concurency: 4\n"), 0o600))

	_, err := executeRoot(t, "crawl", "--config", cfg, "--seed", "https://example.com/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid crawler options")
}

func TestResolveAppMissing(t *testing.T) {
	_, err := resolveApp(context.Background())
	require.Error(t, err)
}
