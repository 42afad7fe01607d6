package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("journal record not found")

// RunStatus mirrors the crawl_runs status column.
type RunStatus string

// Run statuses persisted in crawl_runs.status.
const (
	RunRunning     RunStatus = "running"
	RunSucceeded   RunStatus = "success"
	RunInterrupted RunStatus = "interrupted"
	RunError       RunStatus = "error"
)

// Run models the crawl_runs table for API responses.
type Run struct {
	// ID is the engine run id.
	ID uuid.UUID `json:"id"`
	// StartedAt captures when the run emitted RUN_START.
	StartedAt time.Time `json:"started_at"`
	// FinishedAt is nil until the run is marked finished.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	// Status is running/success/interrupted/error.
	Status RunStatus `json:"status"`
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string `json:"error_message,omitempty"`
}

// Outcome is the terminal record of one request within a run.
type Outcome struct {
	RunID uuid.UUID `json:"run_id"`
	URL   string    `json:"url"`
	Label string    `json:"label,omitempty"`
	// State is DONE, DONE_WITH_ERROR or DROPPED.
	State string `json:"state"`
	// Reason is empty for DONE and a drop reason otherwise.
	Reason string `json:"reason,omitempty"`
	// Retries counts the retries scheduled before the request terminated.
	Retries int       `json:"retries"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// SiteStats captures per-site fetch aggregation for a run.
type SiteStats struct {
	RunID      uuid.UUID `json:"run_id"`
	Site       string    `json:"site"`
	LastUpdate time.Time `json:"last_update"`
	// Fetches counts fetch attempts that received a response.
	Fetches    int64 `json:"fetches"`
	BytesTotal int64 `json:"bytes_total"`
	Fetch2xx   int64 `json:"fetch_2xx"`
	Fetch3xx   int64 `json:"fetch_3xx"`
	Fetch4xx   int64 `json:"fetch_4xx"`
	Fetch5xx   int64 `json:"fetch_5xx"`
}

// OutcomeFilter narrows ListOutcomes. Zero values mean no filter.
type OutcomeFilter struct {
	State  string
	Limit  int
	Offset int
}

// JournalRepository records crawl runs and their terminal request outcomes.
// The journal is write-only from the engine's point of view: it never feeds
// deduplication.
type JournalRepository interface {
	// StartRun inserts (or idempotently updates) a running run.
	StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error
	// CompleteRun marks the run finished with the provided status and error.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// RecordOutcomes appends terminal request outcomes.
	RecordOutcomes(ctx context.Context, outcomes []Outcome) error
	// UpsertSiteStats applies fetch/byte deltas per (run, site, statusClass).
	UpsertSiteStats(
		ctx context.Context,
		runID uuid.UUID,
		site string,
		deltaFetches int64,
		deltaBytes int64,
		statusClass string,
		at time.Time,
	) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns runs filtered by optional status plus limit/offset.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
	// ListOutcomes returns the outcomes of one run in record order.
	ListOutcomes(ctx context.Context, runID uuid.UUID, filter OutcomeFilter) ([]Outcome, error)
	// ListRunSites returns aggregated site stats for one run.
	ListRunSites(ctx context.Context, runID uuid.UUID, limit, offset int) ([]SiteStats, error)
}
