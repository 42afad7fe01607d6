// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlwright/internal/logging"
	"github.com/JakeFAU/crawlwright/internal/storage/memory"
	"github.com/JakeFAU/crawlwright/internal/storage/postgres"
	"github.com/JakeFAU/crawlwright/internal/store"
)

// App holds the shared, long-lived services for a crawl process: the logger,
// the metrics registry every collector is registered on, and the run journal.
// It is built once at startup and handed to the commands that need it.
type App struct {
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Journal  store.JournalRepository
}

// GetLogger returns the shared zap logger.
func (a *App) GetLogger() *zap.Logger {
	return a.Logger
}

// GetRegistry returns the prometheus registry for sinks and the ops server.
func (a *App) GetRegistry() *prometheus.Registry {
	return a.Registry
}

// GetJournal returns the run journal repository.
func (a *App) GetJournal() store.JournalRepository {
	return a.Journal
}

// NewApp builds the services described by v. It fails fast when the journal
// backend is misconfigured or unreachable.
func NewApp(ctx context.Context, v *viper.Viper) (*App, error) {
	if v == nil {
		v = viper.GetViper()
	}
	logger, err := logging.Configure(v.GetBool("log.development"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	logger.Info("initializing application services")

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	journal, err := newJournal(ctx, v, logger)
	if err != nil {
		return nil, err
	}

	return &App{
		Logger:   logger,
		Registry: reg,
		Journal:  journal,
	}, nil
}

func newJournal(ctx context.Context, v *viper.Viper, logger *zap.Logger) (store.JournalRepository, error) {
	switch driver := v.GetString("journal.driver"); driver {
	case "", "memory":
		logger.Info("using in-memory run journal")
		return memory.NewJournalStore(), nil
	case "postgres":
		dsn := v.GetString("journal.dsn")
		if dsn == "" {
			return nil, errors.New("journal driver is 'postgres' but journal.dsn is not set")
		}
		logger.Info("connecting run journal to postgres")
		js, err := postgres.NewJournalStore(ctx, postgres.JournalStoreConfig{
			DSN:             dsn,
			MaxConns:        v.GetInt32("journal.max_conns"),
			MinConns:        v.GetInt32("journal.min_conns"),
			MaxConnLifetime: v.GetDuration("journal.max_conn_lifetime"),
		})
		if err != nil {
			return nil, fmt.Errorf("init journal: %w", err)
		}
		if v.GetBool("journal.auto_migrate") {
			if err := js.EnsureSchema(ctx); err != nil {
				js.Close()
				return nil, fmt.Errorf("init journal: %w", err)
			}
		}
		return js, nil
	default:
		return nil, fmt.Errorf("unknown journal driver: %s", driver)
	}
}

// Close releases the journal and flushes the logger. It is called by a cobra
// hook after the command finishes.
func (a *App) Close() {
	logger := a.GetLogger()
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("shutting down application services")
	if c, ok := a.Journal.(interface{ Close() }); ok {
		c.Close()
	}
	// Best effort; stderr sync fails on some terminals.
	_ = logger.Sync()
}
