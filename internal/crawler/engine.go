package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlwright/internal/clock"
	idgen "github.com/JakeFAU/crawlwright/internal/id/uuid"
	"github.com/JakeFAU/crawlwright/internal/progress"
	"github.com/JakeFAU/crawlwright/internal/ratelimit"
)

// Engine orchestrates one crawl run: it owns the frontier, dedup set, robots
// cache and worker pool, and drives user hooks until the frontier is quiescent.
// An Engine runs exactly once.
type Engine struct {
	opts    Options
	fetcher Fetcher
	hooks   Hooks
	logger  *zap.Logger

	emitter       progress.Emitter
	retry         RetryPolicy
	limiter       Limiter
	clock         Clock
	ids           RunIDGenerator
	robotsFetcher RobotsFetcher

	runID    uuid.UUID
	frontier *Frontier
	robots   *RobotsCache
	deny     *domainDenyList
	blocker  *domainBlocker

	stats    counters
	failures failureLog
	started  atomic.Bool
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithEmitter routes lifecycle events to emitter (typically a *progress.Hub).
func WithEmitter(emitter progress.Emitter) EngineOption {
	return func(e *Engine) { e.emitter = emitter }
}

// WithRetryPolicy overrides the exponential backoff built from Options.
func WithRetryPolicy(policy RetryPolicy) EngineOption {
	return func(e *Engine) { e.retry = policy }
}

// WithLimiter overrides the per-host limiter built from Options.
func WithLimiter(limiter Limiter) EngineOption {
	return func(e *Engine) { e.limiter = limiter }
}

// WithClock overrides the system clock.
func WithClock(c Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// WithRunIDGenerator overrides the UUID v7 run id source.
func WithRunIDGenerator(ids RunIDGenerator) EngineOption {
	return func(e *Engine) { e.ids = ids }
}

// WithRobotsFetcher overrides the HTTP client used for robots.txt.
func WithRobotsFetcher(fetcher RobotsFetcher) EngineOption {
	return func(e *Engine) { e.robotsFetcher = fetcher }
}

// NewEngine validates opts and wires the run-scoped state. Configuration
// errors are returned here, before any fetch happens.
func NewEngine(opts Options, fetcher Fetcher, hooks Hooks, logger *zap.Logger, options ...EngineOption) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if fetcher == nil {
		return nil, fmt.Errorf("%w: fetcher is required", ErrInvalidOptions)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		opts:    opts,
		fetcher: fetcher,
		hooks:   hooks,
		logger:  logger,
	}
	for _, opt := range options {
		if opt != nil {
			opt(e)
		}
	}
	if e.clock == nil {
		e.clock = clock.NewSystem()
	}
	if e.ids == nil {
		e.ids = idgen.New()
	}
	if e.retry == nil {
		e.retry = NewExponentialRetryPolicy(opts.BackoffBase, opts.BackoffMax)
	}
	if e.limiter == nil && opts.RequestsPerSecond > 0 {
		e.limiter = ratelimit.New(ratelimit.Config{RPS: opts.RequestsPerSecond, Burst: opts.Burst})
	}

	runID, err := e.ids.NewRunID()
	if err != nil {
		return nil, fmt.Errorf("new run id: %w", err)
	}
	e.runID = runID
	e.logger = e.logger.With(zap.String("run_id", runID.String()))

	e.frontier = NewFrontier(NewDedupSet())
	e.robots = NewRobotsCache(opts.ObeyRobotsTxt, opts.UserAgent, e.robotsFetcher, e.logger.Named("robots"))
	e.robots.clock = e.clock
	e.robots.onFailOpen = func(host string, err error) {
		e.emit(progress.Event{Stage: progress.StageRobotsFailOpen, Site: host, Note: err.Error()})
	}
	e.deny = newDomainDenyList(opts.DenyDomains)
	e.blocker = newDomainBlocker(opts.MaxDomainFailures)
	return e, nil
}

// RunID identifies this run in logs, events and the journal.
func (e *Engine) RunID() uuid.UUID {
	return e.runID
}

// Options returns the validated options.
func (e *Engine) Options() Options {
	return e.opts
}

// Stats returns a snapshot of the run counters.
func (e *Engine) Stats() Stats {
	return e.stats.snapshot(e.frontier.Seen().Duplicates())
}

// AddRequest normalizes rawURL and pushes it to the frontier. Already-seen
// URLs are silently discarded. It is safe to call from hooks.
func (e *Engine) AddRequest(rawURL, label string, metadata map[string]any) error {
	req, err := NewRequest(rawURL, label, metadata)
	if err != nil {
		return err
	}
	return e.Enqueue(req)
}

// AddRequests pushes every URL with the same label. Invalid URLs do not stop
// the rest from being added; their errors are joined.
func (e *Engine) AddRequests(urls []string, label string) error {
	var errs []error
	for _, raw := range urls {
		if err := e.AddRequest(raw, label, nil); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Enqueue pushes a prepared request.
func (e *Engine) Enqueue(req *Request) error {
	accepted, err := e.frontier.Push(req)
	if err != nil {
		return fmt.Errorf("enqueue request: %w", err)
	}
	if accepted {
		e.stats.enqueued.Add(1)
	} else {
		e.logger.Debug("duplicate request discarded", zap.String("url", req.URL))
	}
	return nil
}

// JoinURL resolves ref against base. It holds no state.
func (e *Engine) JoinURL(base, ref string) (string, error) {
	return JoinURL(base, ref)
}

// Run calls the Init hook, starts Concurrency workers and blocks until the
// frontier is quiescent or ctx is cancelled. Per-request failures never make
// Run fail; inspect Result.Failures for them. On cancellation the partial
// Result is returned together with an error wrapping ctx.Err().
func (e *Engine) Run(ctx context.Context) (Result, error) {
	if !e.started.CompareAndSwap(false, true) {
		return Result{}, ErrAlreadyRunning
	}
	startedAt := e.clock.Now()
	e.emit(progress.Event{Stage: progress.StageRunStart})
	e.logger.Info("crawl run starting",
		zap.Int("concurrency", e.opts.Concurrency),
		zap.Bool("obey_robots_txt", e.opts.ObeyRobotsTxt),
		zap.Int("max_retries", e.opts.MaxRetries),
	)

	if err := e.callInit(ctx); err != nil {
		e.frontier.Close()
		e.logger.Error("init hook failed", zap.Error(err))
		result := e.result(startedAt)
		e.emit(progress.Event{Stage: progress.StageRunDone, Dur: result.Duration(), Note: err.Error()})
		return result, err
	}

	var wg sync.WaitGroup
	for i := range e.opts.Concurrency {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			e.work(ctx, id)
		}(i)
	}
	wg.Wait()

	e.abandon(e.frontier.Close())
	result := e.result(startedAt)
	if err := ctx.Err(); err != nil {
		e.emit(progress.Event{Stage: progress.StageRunInterrupted, Dur: result.Duration(), Note: err.Error()})
		e.logSummary("crawl run interrupted", result)
		return result, fmt.Errorf("crawl interrupted: %w", err)
	}
	e.emit(progress.Event{Stage: progress.StageRunDone, Dur: result.Duration()})
	e.logSummary("crawl run finished", result)
	return result, nil
}

func (e *Engine) callInit(ctx context.Context) (err error) {
	if e.hooks.Init == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = &HookError{Hook: HookInit, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if hookErr := e.hooks.Init(ctx, e); hookErr != nil {
		return &HookError{Hook: HookInit, Err: hookErr}
	}
	return nil
}

// abandon records requests still queued when the workers stopped.
func (e *Engine) abandon(left []*Request) {
	if len(left) == 0 {
		return
	}
	e.logger.Warn("abandoning queued requests on shutdown", zap.Int("count", len(left)))
	for _, req := range left {
		e.drop(req, ReasonShutdown, nil, req.Attempt)
	}
}

func (e *Engine) result(startedAt time.Time) Result {
	return Result{
		RunID:      e.runID,
		StartedAt:  startedAt,
		FinishedAt: e.clock.Now(),
		Stats:      e.Stats(),
		Failures:   e.failures.list(),
	}
}

func (e *Engine) logSummary(msg string, r Result) {
	e.logger.Info(msg,
		zap.Duration("duration", r.Duration()),
		zap.Int64("enqueued", r.Stats.Enqueued),
		zap.Int64("duplicates", r.Stats.Duplicates),
		zap.Int64("fetches", r.Stats.Fetches),
		zap.Int64("succeeded", r.Stats.Succeeded),
		zap.Int64("hook_failures", r.Stats.HookFailures),
		zap.Int64("retried", r.Stats.Retried),
		zap.Int64("dropped", r.Stats.Dropped),
		zap.Int64("policy_blocked", r.Stats.PolicyBlocked),
	)
}

func (e *Engine) emit(evt progress.Event) {
	if e.emitter == nil {
		return
	}
	evt.RunID = progress.UUIDToBytes(e.runID)
	if evt.TS.IsZero() {
		evt.TS = e.clock.Now()
	}
	e.emitter.Emit(evt)
}
