package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlwright/internal/progress"
)

// work is one worker's loop. It exits on quiescence or when ctx is cancelled.
func (e *Engine) work(ctx context.Context, id int) {
	logger := e.logger.Named("worker").With(zap.Int("worker", id))
	for {
		req, err := e.frontier.Pop(ctx)
		if err != nil {
			if !errors.Is(err, ErrQuiescent) {
				logger.Debug("worker stopping", zap.Error(err))
			}
			return
		}
		e.process(ctx, logger, req)
		e.frontier.Done()
	}
}

// process runs the per-request lifecycle:
// policy checks, pacing, FETCHING, then EXTRACTING and PARSING on success or
// retry evaluation on failure.
func (e *Engine) process(ctx context.Context, logger *zap.Logger, req *Request) {
	host := hostOf(req.URL)
	switch {
	case e.deny.Denies(host):
		e.block(req, ReasonDomainDenied)
		return
	case e.blocker.IsBlocked(host):
		e.block(req, ReasonDomainBlocked)
		return
	case !e.robots.Allowed(ctx, req.URL):
		e.block(req, ReasonRobotsDisallowed)
		return
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, host); err != nil {
			if ctx.Err() != nil {
				logger.Warn("rate limit wait interrupted by shutdown", zap.String("url", req.URL))
				e.drop(req, ReasonShutdown, err, req.Attempt)
				return
			}
			logger.Warn("rate limit wait failed; fetching anyway", zap.String("url", req.URL), zap.Error(err))
		}
	}

	page, err := e.fetch(ctx, req)
	if err != nil {
		e.handleFetchFailure(ctx, logger, req, host, err)
		return
	}
	e.dispatch(ctx, logger, req, page)
}

// fetch performs one attempt. The fetch runs on a context detached from the
// run so shutdown never cuts it off mid-flight; RequestTimeout bounds it.
func (e *Engine) fetch(ctx context.Context, req *Request) (*Page, error) {
	req.state = StateFetching
	e.stats.fetches.Add(1)
	host := hostOf(req.URL)
	e.emit(progress.Event{
		Stage:   progress.StageFetchStart,
		Site:    host,
		URL:     req.URL,
		Label:   req.Label,
		Attempt: req.Attempt,
	})

	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.RequestTimeout)
	defer cancel()
	start := time.Now()
	page, err := e.fetcher.Fetch(fetchCtx, req.URL)
	dur := time.Since(start)

	if err == nil && page == nil {
		err = &FetchError{URL: req.URL, Err: errors.New("fetcher returned no page")}
	}
	if err == nil && page.StatusCode >= 400 {
		err = &FetchError{URL: req.URL, StatusCode: page.StatusCode}
	}
	if err != nil {
		var fetchErr *FetchError
		status := 0
		if errors.As(err, &fetchErr) {
			status = fetchErr.StatusCode
		}
		e.emit(progress.Event{
			Stage:      progress.StageFetchFailed,
			Site:       host,
			URL:        req.URL,
			Label:      req.Label,
			Attempt:    req.Attempt,
			StatusCode: status,
			Dur:        dur,
			Note:       err.Error(),
		})
		return nil, err
	}

	if page.URL == "" {
		page.URL = req.URL
	}
	if page.Duration == 0 {
		page.Duration = dur
	}
	e.emit(progress.Event{
		Stage:      progress.StageFetchDone,
		Site:       host,
		URL:        req.URL,
		Label:      req.Label,
		Attempt:    req.Attempt,
		StatusCode: page.StatusCode,
		Bytes:      int64(len(page.Body)),
		Dur:        dur,
	})
	return page, nil
}

// handleFetchFailure either schedules a retry after backoff or drops the request.
// The worker keeps its active slot while backing off so the frontier cannot
// go quiescent under a pending retry.
func (e *Engine) handleFetchFailure(ctx context.Context, logger *zap.Logger, req *Request, host string, err error) {
	if !Retryable(err) {
		e.drop(req, ReasonPermanentError, err, req.Attempt+1)
		return
	}
	if req.Attempt >= e.opts.MaxRetries {
		e.drop(req, ReasonRetriesExhausted, err, req.Attempt+1)
		if newlyBlocked := e.markDomainFailure(host); newlyBlocked {
			logger.Warn("domain blocked after repeated failures",
				zap.String("host", host),
				zap.Int("max_domain_failures", e.opts.MaxDomainFailures),
			)
		}
		return
	}
	if ctx.Err() != nil {
		logger.Warn("retry abandoned on shutdown", zap.String("url", req.URL), zap.Error(err))
		e.drop(req, ReasonShutdown, err, req.Attempt+1)
		return
	}

	req.Attempt++
	req.state = StateRetryScheduled
	delay := e.retry.Backoff(req.Attempt)
	e.stats.retried.Add(1)
	e.emit(progress.Event{
		Stage:   progress.StageRetryScheduled,
		Site:    host,
		URL:     req.URL,
		Label:   req.Label,
		Attempt: req.Attempt,
		Dur:     delay,
		Note:    err.Error(),
	})
	logger.Info("retry scheduled",
		zap.String("url", req.URL),
		zap.Int("attempt", req.Attempt),
		zap.Duration("delay", delay),
		zap.Error(err),
	)

	if !pause(ctx, delay) {
		logger.Warn("retry backoff interrupted by shutdown", zap.String("url", req.URL))
		e.drop(req, ReasonShutdown, err, req.Attempt)
		return
	}
	if pushErr := e.frontier.PushRetry(req); pushErr != nil {
		e.drop(req, ReasonShutdown, pushErr, req.Attempt)
	}
}

func (e *Engine) markDomainFailure(host string) bool {
	if e.blocker.IsBlocked(host) {
		return false
	}
	return e.blocker.MarkFailure(host)
}

// dispatch runs ExtractLinks then ParsePage against the same page.
func (e *Engine) dispatch(ctx context.Context, logger *zap.Logger, req *Request, page *Page) {
	req.state = StateExtracting
	if err := e.callHook(ctx, HookExtractLinks, e.hooks.ExtractLinks, req, page); err != nil {
		e.hookFailed(logger, req, err)
		return
	}
	req.state = StateParsing
	if err := e.callHook(ctx, HookParsePage, e.hooks.ParsePage, req, page); err != nil {
		e.hookFailed(logger, req, err)
		return
	}
	req.state = StateDone
	e.stats.succeeded.Add(1)
	e.emit(progress.Event{
		Stage:      progress.StageDone,
		Site:       hostOf(req.URL),
		URL:        req.URL,
		Label:      req.Label,
		Attempt:    req.Attempt,
		StatusCode: page.StatusCode,
	})
}

type pageHook func(ctx context.Context, e *Engine, req *Request, page *Page) error

func (e *Engine) callHook(ctx context.Context, name string, hook pageHook, req *Request, page *Page) (err error) {
	if hook == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = &HookError{Hook: name, URL: req.URL, Label: req.Label, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if hookErr := hook(ctx, e, req, page); hookErr != nil {
		return &HookError{Hook: name, URL: req.URL, Label: req.Label, Err: hookErr}
	}
	return nil
}

func (e *Engine) hookFailed(logger *zap.Logger, req *Request, err error) {
	req.state = StateDoneWithError
	e.stats.hookFailures.Add(1)
	hook := ""
	var hookErr *HookError
	if errors.As(err, &hookErr) {
		hook = hookErr.Hook
	}
	logger.Error("hook failed",
		zap.String("url", req.URL),
		zap.String("label", req.Label),
		zap.String("hook", hook),
		zap.Error(err),
	)
	e.failures.add(TerminalFailure{
		URL:       req.URL,
		Label:     req.Label,
		State:     StateDoneWithError,
		Reason:    ReasonHookError,
		Attempts:  req.Attempt + 1,
		LastError: err.Error(),
		At:        e.clock.Now(),
	})
	e.emit(progress.Event{
		Stage:   progress.StageDoneWithError,
		Site:    hostOf(req.URL),
		URL:     req.URL,
		Label:   req.Label,
		Attempt: req.Attempt,
		Note:    err.Error(),
	})
}

// block drops a request for a policy reason without fetching it.
func (e *Engine) block(req *Request, reason DropReason) {
	req.state = StateDropped
	e.stats.policyBlocked.Add(1)
	e.logger.Info("request blocked by policy",
		zap.String("url", req.URL),
		zap.String("label", req.Label),
		zap.String("reason", string(reason)),
	)
	e.failures.add(TerminalFailure{
		URL:      req.URL,
		Label:    req.Label,
		State:    StateDropped,
		Reason:   reason,
		Attempts: req.Attempt,
		At:       e.clock.Now(),
	})
	e.emit(progress.Event{
		Stage:   progress.StagePolicyBlocked,
		Site:    hostOf(req.URL),
		URL:     req.URL,
		Label:   req.Label,
		Attempt: req.Attempt,
		Note:    string(reason),
	})
}

// drop records a request that will not be fetched again. attempts is the
// number of fetches actually made.
func (e *Engine) drop(req *Request, reason DropReason, err error, attempts int) {
	req.state = StateDropped
	e.stats.dropped.Add(1)
	lastErr := ""
	if err != nil {
		lastErr = err.Error()
	}
	e.logger.Warn("request dropped",
		zap.String("url", req.URL),
		zap.String("label", req.Label),
		zap.String("reason", string(reason)),
		zap.Int("attempts", attempts),
		zap.String("last_error", lastErr),
	)
	e.failures.add(TerminalFailure{
		URL:       req.URL,
		Label:     req.Label,
		State:     StateDropped,
		Reason:    reason,
		Attempts:  attempts,
		LastError: lastErr,
		At:        e.clock.Now(),
	})
	note := string(reason)
	if lastErr != "" {
		note += ": " + lastErr
	}
	e.emit(progress.Event{
		Stage:   progress.StageDropped,
		Site:    hostOf(req.URL),
		URL:     req.URL,
		Label:   req.Label,
		Attempt: req.Attempt,
		Note:    note,
	})
}
