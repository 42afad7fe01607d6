// Package cmd defines and implements the CLI commands for the crawlwright executable.
package cmd

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlwright/internal/app"
	"github.com/JakeFAU/crawlwright/internal/logging"
	"github.com/JakeFAU/crawlwright/internal/store"
	"github.com/JakeFAU/crawlwright/pkg/config"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the services commands use. Tests inject their own.
type App interface {
	Close()
	GetLogger() *zap.Logger
	GetRegistry() *prometheus.Registry
	GetJournal() store.JournalRepository
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, v *viper.Viper) (App, error) {
	return app.NewApp(ctx, v)
}

// newRootCmd creates the root command. The returned release func closes the
// application services after the command finishes. It runs on failure too,
// which a persistent post-run hook would not.
func newRootCmd() (*cobra.Command, func()) {
	var (
		cfgFile  string
		services App
	)
	cmd := &cobra.Command{
		Use:   "crawlwright",
		Short: "A concurrent, polite web crawler.",
		Long: `crawlwright drives a crawl from seed URLs through a deduplicated frontier,
a bounded worker pool and per-domain robots.txt and rate limits, writing
scraped records to a dataset and every request outcome to a run journal.`,
		SilenceUsage: true,

		// Config is loaded before the app so that config errors fail the command.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			v := viper.GetViper()
			if err := config.Load(v, cfgFile); err != nil {
				return err
			}
			appInstance, err := newApp(cmd.Context(), v)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			services = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or $HOME/.crawlwright/config.yaml)")
	cmd.AddCommand(newCrawlCmd())
	release := func() {
		if services != nil {
			services.Close()
			services = nil
		}
	}
	return cmd, release
}

// Execute is the main entry point.
func Execute() {
	logging.InitLogger()

	root, release := newRootCmd()
	err := root.ExecuteContext(context.Background())
	release()
	if err != nil {
		logging.L.Fatal("Command execution failed", zap.Error(err))
	}
}
