package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlwright/internal/api"
	"github.com/JakeFAU/crawlwright/internal/crawler"
	"github.com/JakeFAU/crawlwright/internal/dataset"
	collyfetcher "github.com/JakeFAU/crawlwright/internal/fetcher/colly"
	"github.com/JakeFAU/crawlwright/internal/fetcher/escalate"
	"github.com/JakeFAU/crawlwright/internal/fetcher/headless"
	"github.com/JakeFAU/crawlwright/internal/headless/detector"
	"github.com/JakeFAU/crawlwright/internal/progress"
	"github.com/JakeFAU/crawlwright/internal/progress/sinks"
	"github.com/JakeFAU/crawlwright/internal/ratelimit"
	"github.com/JakeFAU/crawlwright/internal/spider"
)

// newCrawlCmd creates the 'crawl' subcommand. It runs one crawl to quiescence
// or until SIGINT/SIGTERM.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs a crawl from the configured seeds",
		Long: `Crawls from the seed URLs, following same-host links up to spider.max_depth.
Flags override the matching config keys. A run that is interrupted or that
drops requests still exits zero; only configuration and init failures do not.`,
		RunE: runCrawlCommand,
	}
	flags := cmd.Flags()
	flags.StringArray("seed", nil, "seed URL (repeatable); overrides spider.seeds")
	flags.Int("concurrency", 0, "number of workers; overrides crawler.concurrency")
	flags.Bool("obey-robots", false, "check robots.txt before every fetch; overrides crawler.obey_robots_txt")
	flags.Int("max-retries", 0, "retries after a retryable fetch failure; overrides crawler.max_retries")
	flags.Int("max-depth", 0, "link depth to follow; overrides spider.max_depth")
	flags.String("output", "", "JSON Lines dataset path; overrides output.path")
	flags.String("api-addr", "", "serve the ops API on this address while crawling; overrides api.addr")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.GetLogger()
	v := viper.GetViper()

	opts, err := crawlerOptions(cmd, v)
	if err != nil {
		return err
	}
	spiderCfg, err := spiderConfig(cmd, v)
	if err != nil {
		return err
	}

	sink, err := buildDataset(cmd, v, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sink.Close(); cerr != nil {
			logger.Warn("Failed to close dataset", zap.Error(cerr))
		}
	}()

	sp, err := spider.New(spiderCfg, sink, logger.Named("spider"))
	if err != nil {
		return fmt.Errorf("init spider: %w", err)
	}

	pageFetcher, robots, closeFetcher, err := buildFetcher(v, opts, logger)
	if err != nil {
		return err
	}
	defer closeFetcher()

	reg := appInstance.GetRegistry()
	limiter := ratelimit.New(ratelimit.Config{RPS: opts.RequestsPerSecond, Burst: opts.Burst})
	if err := limiter.RegisterMetrics(reg); err != nil {
		return fmt.Errorf("register limiter metrics: %w", err)
	}
	hub, err := buildHub(v, appInstance, logger)
	if err != nil {
		return err
	}

	engine, err := crawler.NewEngine(opts, pageFetcher, sp.Hooks(), logger.Named("crawler"),
		crawler.WithEmitter(hub),
		crawler.WithLimiter(limiter),
		crawler.WithRobotsFetcher(robots),
	)
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	apiDone, err := startOpsServer(ctx, cmd, v, appInstance, logger)
	if err != nil {
		return err
	}

	result, runErr := engine.Run(ctx)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := hub.Close(closeCtx); err != nil {
		logger.Warn("Failed to drain progress hub", zap.Error(err))
	}
	stop()
	if apiDone != nil {
		<-apiDone
	}

	printSummary(cmd.OutOrStdout(), result, sink, hub.Dropped())

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("run crawler: %w", runErr)
	}
	logger.Info("Crawl command finished.")
	return nil
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// crawlerOptions reads the crawler subtree and then applies changed flags on
// top, so flags win over file and env values.
func crawlerOptions(cmd *cobra.Command, v *viper.Viper) (crawler.Options, error) {
	opts, err := crawler.LoadOptions(v)
	if err != nil {
		return crawler.Options{}, fmt.Errorf("load crawler options: %w", err)
	}
	flags := cmd.Flags()
	if flags.Changed("concurrency") {
		opts.Concurrency, _ = flags.GetInt("concurrency")
	}
	if flags.Changed("obey-robots") {
		opts.ObeyRobotsTxt, _ = flags.GetBool("obey-robots")
	}
	if flags.Changed("max-retries") {
		opts.MaxRetries, _ = flags.GetInt("max-retries")
	}
	if err := opts.Validate(); err != nil {
		return crawler.Options{}, err
	}
	return opts, nil
}

func spiderConfig(cmd *cobra.Command, v *viper.Viper) (spider.Config, error) {
	cfg := spider.Config{
		Seeds:    v.GetStringSlice("spider.seeds"),
		MaxDepth: v.GetInt("spider.max_depth"),
		SameHost: v.GetBool("spider.same_host"),
	}
	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.Seeds, _ = flags.GetStringArray("seed")
	}
	if flags.Changed("max-depth") {
		cfg.MaxDepth, _ = flags.GetInt("max-depth")
	}
	if len(cfg.Seeds) == 0 {
		return spider.Config{}, errors.New("no seeds configured: pass --seed or set spider.seeds")
	}
	return cfg, nil
}

func buildDataset(cmd *cobra.Command, v *viper.Viper, logger *zap.Logger) (dataset.Sink, error) {
	path := v.GetString("output.path")
	if cmd.Flags().Changed("output") {
		path, _ = cmd.Flags().GetString("output")
	}
	if path == "" {
		return dataset.NewMemorySink(), nil
	}
	sink, err := dataset.NewFileSink(path, logger.Named("dataset"))
	if err != nil {
		return nil, fmt.Errorf("init dataset: %w", err)
	}
	return sink, nil
}

// buildFetcher returns the page fetcher for fetcher.mode. robots.txt is always
// fetched over plain HTTP, even when pages are rendered in a browser.
func buildFetcher(v *viper.Viper, opts crawler.Options, logger *zap.Logger) (crawler.Fetcher, crawler.RobotsFetcher, func(), error) {
	httpFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:   opts.UserAgent,
		Timeout:     opts.RequestTimeout,
		MaxBodySize: v.GetInt("fetcher.max_body_size"),
	})
	robots := httpFetcher.RobotsFetcher()

	mode := v.GetString("fetcher.mode")
	switch mode {
	case "", "http":
		return httpFetcher, robots, func() {}, nil
	case "headless", "auto":
	default:
		return nil, nil, nil, fmt.Errorf("unknown fetcher mode: %s", mode)
	}

	browser, err := headless.NewChromedp(headless.Config{
		MaxParallel:       v.GetInt("headless.max_parallel"),
		UserAgent:         opts.UserAgent,
		NavigationTimeout: v.GetDuration("headless.navigation_timeout"),
		WaitSelector:      v.GetString("headless.wait_selector"),
		SettleDelay:       v.GetDuration("headless.settle_delay"),
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init headless fetcher: %w", err)
	}
	if mode == "headless" {
		return browser, robots, browser.Close, nil
	}
	heuristic := detector.NewHeuristic(
		v.GetInt("detector.min_body_bytes"),
		v.GetInt("detector.min_text_bytes"),
		v.GetStringSlice("detector.markers"),
	)
	return escalate.New(httpFetcher, browser, heuristic, logger.Named("escalate")), robots, browser.Close, nil
}

func buildHub(v *viper.Viper, appInstance App, logger *zap.Logger) (*progress.Hub, error) {
	promSink, err := sinks.NewPrometheusSink(appInstance.GetRegistry())
	if err != nil {
		return nil, fmt.Errorf("init prometheus sink: %w", err)
	}
	hubSinks := []progress.Sink{sinks.NewLogSink(logger.Named("progress")), promSink}
	if journal := appInstance.GetJournal(); journal != nil {
		hubSinks = append(hubSinks, sinks.NewStoreSink(journal, logger.Named("journal")))
	}
	return progress.NewHub(progress.Config{
		BufferSize:     v.GetInt("progress.buffer_size"),
		MaxBatchEvents: v.GetInt("progress.max_batch_events"),
		MaxBatchWait:   v.GetDuration("progress.max_batch_wait"),
		SinkTimeout:    v.GetDuration("progress.sink_timeout"),
		LifecycleWait:  v.GetDuration("progress.lifecycle_wait"),
		Logger:         logger.Named("hub"),
	}, hubSinks...), nil
}

// startOpsServer serves the ops API until ctx is done. The returned channel is
// closed once the server has shut down; it is nil when no address is set.
func startOpsServer(ctx context.Context, cmd *cobra.Command, v *viper.Viper, appInstance App, logger *zap.Logger) (<-chan struct{}, error) {
	addr := v.GetString("api.addr")
	if cmd.Flags().Changed("api-addr") {
		addr, _ = cmd.Flags().GetString("api-addr")
	}
	if addr == "" {
		return nil, nil
	}
	server, err := api.NewServer(api.Config{
		Addr:           addr,
		APIKey:         v.GetString("api.api_key"),
		RequestTimeout: v.GetDuration("api.request_timeout"),
	}, appInstance.GetJournal(), appInstance.GetRegistry(), logger.Named("api"))
	if err != nil {
		return nil, fmt.Errorf("init ops server: %w", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := server.ListenAndServe(ctx); err != nil {
			logger.Error("Ops server failed", zap.Error(err))
		}
	}()
	return done, nil
}

type counted interface {
	Len() int
}

func printSummary(w io.Writer, result crawler.Result, sink dataset.Sink, eventsShed int64) {
	s := result.Stats
	_, _ = fmt.Fprintf(w, "run %s finished in %s\n", result.RunID, result.Duration().Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "  enqueued=%d duplicates=%d fetches=%d retried=%d\n",
		s.Enqueued, s.Duplicates, s.Fetches, s.Retried)
	_, _ = fmt.Fprintf(w, "  succeeded=%d hook_failures=%d dropped=%d policy_blocked=%d\n",
		s.Succeeded, s.HookFailures, s.Dropped, s.PolicyBlocked)
	switch ds := sink.(type) {
	case *dataset.FileSink:
		_, _ = fmt.Fprintf(w, "  records=%d path=%s\n", ds.Count(), ds.Path())
	case counted:
		_, _ = fmt.Fprintf(w, "  records=%d\n", ds.Len())
	}
	if eventsShed > 0 {
		_, _ = fmt.Fprintf(w, "  progress_events_shed=%d\n", eventsShed)
	}
	for _, f := range result.Failures {
		line := fmt.Sprintf("  %s %s reason=%s attempts=%d", f.State, f.URL, f.Reason, f.Attempts)
		if f.LastError != "" {
			line += " error=" + f.LastError
		}
		_, _ = fmt.Fprintln(w, line)
	}
}
