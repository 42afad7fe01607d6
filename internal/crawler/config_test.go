package crawler

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestParseOptionsDefaultsAndOverrides(t *testing.T) {
	t.Parallel()

	opts, err := ParseOptions(map[string]any{
		"concurrency":     2,
		"obey_robots_txt": true,
		"max_retries":     0,
		"request_timeout": "5s",
		"deny_domains":    []string{"*.ads.example"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, opts.Concurrency)
	require.True(t, opts.ObeyRobotsTxt)
	require.Zero(t, opts.MaxRetries)
	require.Equal(t, 5*time.Second, opts.RequestTimeout)
	require.Equal(t, "crawlwright/0.1", opts.UserAgent)
	require.Equal(t, []string{"*.ads.example"}, opts.DenyDomains)
}

func TestParseOptionsRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	_, err := ParseOptions(map[string]any{"concurrency": 2, "max_depth": 3})
	require.ErrorIs(t, err, ErrInvalidOptions)
	require.Contains(t, err.Error(), "max_depth")
}

func TestOptionsValidate(t *testing.T) {
	t.Parallel()

	mutate := map[string]func(*Options){
		"concurrency":         func(o *Options) { o.Concurrency = 0 },
		"max_retries":         func(o *Options) { o.MaxRetries = -1 },
		"request_timeout":     func(o *Options) { o.RequestTimeout = 0 },
		"requests_per_second": func(o *Options) { o.RequestsPerSecond = -1 },
		"burst":               func(o *Options) { o.Burst = -1 },
		"backoff_max":         func(o *Options) { o.BackoffMax = o.BackoffBase - 1 },
		"max_domain_failures": func(o *Options) { o.MaxDomainFailures = -2 },
	}
	for field, fn := range mutate {
		opts := DefaultOptions()
		fn(&opts)
		err := opts.Validate()
		require.ErrorIs(t, err, ErrInvalidOptions, field)
		require.Contains(t, err.Error(), field)
	}
	require.NoError(t, DefaultOptions().Validate())
}

func TestLoadOptionsFromViper(t *testing.T) {
	t.Parallel()

	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(`
crawler:
  concurrency: 7
  max_retries: 1
  backoff_base: 10ms
  backoff_max: 1s
`)))
	opts, err := LoadOptions(v)
	require.NoError(t, err)
	require.Equal(t, 7, opts.Concurrency)
	require.Equal(t, 1, opts.MaxRetries)
	require.Equal(t, 10*time.Millisecond, opts.BackoffBase)

	bad := viper.New()
	bad.Set("crawler.concurency", 3)
	_, err = LoadOptions(bad)
	require.ErrorIs(t, err, ErrInvalidOptions)

	scalar := viper.New()
	scalar.Set("crawler", 5)
	_, err = LoadOptions(scalar)
	require.ErrorIs(t, err, ErrInvalidOptions)

	empty, err := LoadOptions(viper.New())
	require.NoError(t, err)
	require.Equal(t, DefaultOptions(), empty)
}

func TestSetDefaultsRegistersKeys(t *testing.T) {
	t.Parallel()

	v := viper.New()
	SetDefaults(v, "crawler")
	require.Equal(t, 5, v.GetInt("crawler.concurrency"))
	opts, err := LoadOptions(v)
	require.NoError(t, err)
	require.Equal(t, DefaultOptions().UserAgent, opts.UserAgent)
}
