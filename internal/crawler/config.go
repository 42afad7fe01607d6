package crawler

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalidOptions wraps every configuration error surfaced at construction.
var ErrInvalidOptions = errors.New("invalid crawler options")

// Options captures every knob that influences a crawl run. Values originate
// from Viper so the engine can be configured via files, env vars, or flags.
type Options struct {
	// Concurrency is the number of workers, and so the maximum number of
	// simultaneous fetches.
	Concurrency int `mapstructure:"concurrency"`
	// ObeyRobotsTxt enables the robots.txt check before every fetch.
	ObeyRobotsTxt bool `mapstructure:"obey_robots_txt"`
	// MaxRetries bounds re-queues after a retryable fetch failure.
	MaxRetries int `mapstructure:"max_retries"`

	UserAgent         string        `mapstructure:"user_agent"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	BackoffMax        time.Duration `mapstructure:"backoff_max"`
	MaxDomainFailures int           `mapstructure:"max_domain_failures"`
	DenyDomains       []string      `mapstructure:"deny_domains"`
}

// DefaultOptions returns the defaults applied before user configuration.
func DefaultOptions() Options {
	return Options{
		Concurrency:       5,
		ObeyRobotsTxt:     false,
		MaxRetries:        3,
		UserAgent:         "crawlwright/0.1",
		RequestTimeout:    30 * time.Second,
		RequestsPerSecond: 30,
		Burst:             1,
		BackoffBase:       500 * time.Millisecond,
		BackoffMax:        30 * time.Second,
	}
}

// SetDefaults registers DefaultOptions under prefix (e.g. "crawler") so that
// UnmarshalExact sees every known key.
func SetDefaults(v *viper.Viper, prefix string) {
	d := DefaultOptions()
	key := func(name string) string {
		if prefix == "" {
			return name
		}
		return prefix + "." + name
	}
	v.SetDefault(key("concurrency"), d.Concurrency)
	v.SetDefault(key("obey_robots_txt"), d.ObeyRobotsTxt)
	v.SetDefault(key("max_retries"), d.MaxRetries)
	v.SetDefault(key("user_agent"), d.UserAgent)
	v.SetDefault(key("request_timeout"), d.RequestTimeout)
	v.SetDefault(key("requests_per_second"), d.RequestsPerSecond)
	v.SetDefault(key("burst"), d.Burst)
	v.SetDefault(key("backoff_base"), d.BackoffBase)
	v.SetDefault(key("backoff_max"), d.BackoffMax)
	v.SetDefault(key("max_domain_failures"), d.MaxDomainFailures)
	v.SetDefault(key("deny_domains"), []string{})
}

// LoadOptions reads the "crawler" subtree of v. Every key resolves through
// v's full precedence (env over file over defaults). Unknown keys are an error.
func LoadOptions(v *viper.Viper) (Options, error) {
	tree, ok := v.AllSettings()["crawler"]
	if !ok || tree == nil {
		return ParseOptions(map[string]any{})
	}
	raw, ok := tree.(map[string]any)
	if !ok {
		return Options{}, fmt.Errorf("%w: crawler must be a mapping, got %T", ErrInvalidOptions, tree)
	}
	return ParseOptions(raw)
}

// ParseOptions reads a flat option mapping such as {"concurrency": 4}.
// Unknown keys are an error.
func ParseOptions(raw map[string]any) (Options, error) {
	v := viper.New()
	if err := v.MergeConfigMap(raw); err != nil {
		return Options{}, fmt.Errorf("%w: merge options: %w", ErrInvalidOptions, err)
	}
	return decodeOptions(v)
}

func decodeOptions(v *viper.Viper) (Options, error) {
	opts := DefaultOptions()
	if err := v.UnmarshalExact(&opts); err != nil {
		return Options{}, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// Validate checks ranges. Every failure wraps ErrInvalidOptions.
func (o Options) Validate() error {
	switch {
	case o.Concurrency <= 0:
		return fmt.Errorf("%w: concurrency must be > 0", ErrInvalidOptions)
	case o.MaxRetries < 0:
		return fmt.Errorf("%w: max_retries must be >= 0", ErrInvalidOptions)
	case o.RequestTimeout <= 0:
		return fmt.Errorf("%w: request_timeout must be > 0", ErrInvalidOptions)
	case o.RequestsPerSecond < 0:
		return fmt.Errorf("%w: requests_per_second must be >= 0", ErrInvalidOptions)
	case o.Burst < 0:
		return fmt.Errorf("%w: burst must be >= 0", ErrInvalidOptions)
	case o.BackoffBase < 0:
		return fmt.Errorf("%w: backoff_base must be >= 0", ErrInvalidOptions)
	case o.BackoffMax < o.BackoffBase:
		return fmt.Errorf("%w: backoff_max must be >= backoff_base", ErrInvalidOptions)
	case o.MaxDomainFailures < 0:
		return fmt.Errorf("%w: max_domain_failures must be >= 0", ErrInvalidOptions)
	}
	return nil
}
