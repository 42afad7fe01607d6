package crawler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Stats summarizes a run. Counters are totals over the whole run.
type Stats struct {
	// Enqueued counts distinct requests accepted by the frontier.
	Enqueued int64 `json:"enqueued"`
	// Duplicates counts pushes discarded by the dedup set.
	Duplicates int64 `json:"duplicates"`
	// Fetches counts fetch attempts, including retries.
	Fetches int64 `json:"fetches"`
	// Succeeded counts requests that reached DONE.
	Succeeded int64 `json:"succeeded"`
	// HookFailures counts requests that reached DONE_WITH_ERROR.
	HookFailures int64 `json:"hook_failures"`
	// Retried counts retry re-queues.
	Retried int64 `json:"retried"`
	// Dropped counts requests dropped after fetch failures or shutdown.
	Dropped int64 `json:"dropped"`
	// PolicyBlocked counts requests dropped by robots, deny list or domain blocking.
	PolicyBlocked int64 `json:"policy_blocked"`
}

// TerminalFailure records a request that did not end in DONE.
type TerminalFailure struct {
	URL       string     `json:"url"`
	Label     string     `json:"label,omitempty"`
	State     State      `json:"state"`
	Reason    DropReason `json:"reason"`
	Attempts  int        `json:"attempts"`
	LastError string     `json:"last_error,omitempty"`
	At        time.Time  `json:"at"`
}

// Result is returned by Engine.Run.
type Result struct {
	RunID      uuid.UUID         `json:"run_id"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Stats      Stats             `json:"stats"`
	Failures   []TerminalFailure `json:"failures"`
}

// Duration is the run's wall time.
func (r Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

type counters struct {
	enqueued      atomic.Int64
	fetches       atomic.Int64
	succeeded     atomic.Int64
	hookFailures  atomic.Int64
	retried       atomic.Int64
	dropped       atomic.Int64
	policyBlocked atomic.Int64
}

func (c *counters) snapshot(duplicates int64) Stats {
	return Stats{
		Enqueued:      c.enqueued.Load(),
		Duplicates:    duplicates,
		Fetches:       c.fetches.Load(),
		Succeeded:     c.succeeded.Load(),
		HookFailures:  c.hookFailures.Load(),
		Retried:       c.retried.Load(),
		Dropped:       c.dropped.Load(),
		PolicyBlocked: c.policyBlocked.Load(),
	}
}

type failureLog struct {
	mu      sync.Mutex
	entries []TerminalFailure
}

func (l *failureLog) add(f TerminalFailure) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, f)
}

func (l *failureLog) list() []TerminalFailure {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]TerminalFailure(nil), l.entries...)
}
