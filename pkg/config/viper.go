// Package config is responsible for initializing the application's configuration.
// It uses the Viper library to read settings from a config file, environment
// variables, and command-line flags, providing a unified configuration system.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlwright/internal/crawler"
	"github.com/JakeFAU/crawlwright/internal/headless/detector"
	"github.com/JakeFAU/crawlwright/internal/logging"
)

// EnvPrefix namespaces environment overrides, e.g. CRAWLWRIGHT_CRAWLER_CONCURRENCY=8.
const EnvPrefix = "CRAWLWRIGHT"

// SetDefaults registers every application key on v so that env overrides and
// UnmarshalExact see them even without a config file.
func SetDefaults(v *viper.Viper) {
	crawler.SetDefaults(v, "crawler")

	v.SetDefault("log.development", false)

	v.SetDefault("fetcher.mode", "http")
	v.SetDefault("fetcher.max_body_size", 10*1024*1024)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.navigation_timeout", 20*time.Second)
	v.SetDefault("headless.wait_selector", "body")
	v.SetDefault("headless.settle_delay", 500*time.Millisecond)
	v.SetDefault("detector.min_body_bytes", 2048)
	v.SetDefault("detector.min_text_bytes", 64)
	v.SetDefault("detector.markers", detector.DefaultMarkers)

	v.SetDefault("spider.seeds", []string{})
	v.SetDefault("spider.max_depth", 1)
	v.SetDefault("spider.same_host", true)

	v.SetDefault("output.path", "")

	v.SetDefault("journal.driver", "memory")
	v.SetDefault("journal.dsn", "")
	v.SetDefault("journal.auto_migrate", true)
	v.SetDefault("journal.max_conns", 4)

	v.SetDefault("api.addr", "")
	v.SetDefault("api.api_key", "")
	v.SetDefault("api.request_timeout", 30*time.Second)

	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait", time.Second)
	v.SetDefault("progress.sink_timeout", 5*time.Second)
	v.SetDefault("progress.lifecycle_wait", 2*time.Second)
}

// Load wires defaults, search paths and environment variables into v, then
// reads the config file. cfgFile, when set, replaces the search paths. A
// missing config file in the search paths is not an error.
func Load(v *viper.Viper, cfgFile string) error {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/crawlwright/")
		v.AddConfigPath("$HOME/.crawlwright")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// InitConfig loads the global viper instance. It is meant for
// cobra.OnInitialize and only logs failures; commands surface them again
// when they validate options.
func InitConfig(cfgFile string) {
	if err := Load(viper.GetViper(), cfgFile); err != nil {
		logging.L.Error("Error reading config file", zap.Error(err))
		return
	}
	if used := viper.ConfigFileUsed(); used != "" {
		logging.L.Info("Using config file", zap.String("path", used))
	} else {
		logging.L.Warn("Config file not found; using defaults and environment variables.")
	}
}
