package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawlwright/internal/crawler"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())

	v := viper.New()
	require.NoError(t, Load(v, ""))
	require.Equal(t, "http", v.GetString("fetcher.mode"))
	require.Equal(t, "memory", v.GetString("journal.driver"))
	require.Equal(t, 20*time.Second, v.GetDuration("headless.navigation_timeout"))

	opts, err := crawler.LoadOptions(v)
	require.NoError(t, err)
	require.Equal(t, crawler.DefaultOptions().Concurrency, opts.Concurrency)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "crawl.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(`
crawler:
  concurrency: 7
  obey_robots_txt: true
spider:
  seeds: ["https://example.com/"]
  max_depth: 3
`), 0o600))
	t.Setenv("CRAWLWRIGHT_JOURNAL_DRIVER", "postgres")

	v := viper.New()
	require.NoError(t, Load(v, cfg))
	require.Equal(t, "postgres", v.GetString("journal.driver"))
	require.Equal(t, []string{"https://example.com/"}, v.GetStringSlice("spider.seeds"))
	require.Equal(t, 3, v.GetInt("spider.max_depth"))

	opts, err := crawler.LoadOptions(v)
	require.NoError(t, err)
	require.Equal(t, 7, opts.Concurrency)
	require.True(t, opts.ObeyRobotsTxt)
	require.Equal(t, crawler.DefaultOptions().MaxRetries, opts.MaxRetries)
}

func TestEnvOverridesCrawlerKeysMissingFromFile(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "crawl.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("crawler:\n  max_retries: 1\n"), 0o600))
	t.Setenv("CRAWLWRIGHT_CRAWLER_CONCURRENCY", "8")
	t.Setenv("CRAWLWRIGHT_CRAWLER_BACKOFF_BASE", "250ms")

	v := viper.New()
	require.NoError(t, Load(v, cfg))
	opts, err := crawler.LoadOptions(v)
	require.NoError(t, err)
	require.Equal(t, 8, opts.Concurrency)
	require.Equal(t, 1, opts.MaxRetries)
	require.Equal(t, 250*time.Millisecond, opts.BackoffBase)
	require.Equal(t, crawler.DefaultOptions().UserAgent, opts.UserAgent)

	t.Setenv("CRAWLWRIGHT_CRAWLER_MAX_RETRIES", "4")
	opts, err = crawler.LoadOptions(v)
	require.NoError(t, err)
	require.Equal(t, 4, opts.MaxRetries)
}

func TestLoadOptionsRejectsUnknownCrawlerKey(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "crawl.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("crawler:\n  max_retires: 1\n"), 0o600))

	v := viper.New()
	require.NoError(t, Load(v, cfg))
	_, err := crawler.LoadOptions(v)
	require.ErrorIs(t, err, crawler.ErrInvalidOptions)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("crawler: [unclosed"), 0o600))

	err := Load(viper.New(), cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "read config")
}
