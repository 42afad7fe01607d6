// Package memory keeps the crawl run journal in-memory for development.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/crawlwright/internal/store"
)

// JournalStore provides an in-memory store.JournalRepository for development
// and tests.
type JournalStore struct {
	mu       sync.RWMutex
	runs     map[uuid.UUID]store.Run
	outcomes map[uuid.UUID][]store.Outcome
	sites    map[uuid.UUID]map[string]*store.SiteStats
}

var _ store.JournalRepository = (*JournalStore)(nil)

// NewJournalStore constructs a JournalStore.
func NewJournalStore() *JournalStore {
	return &JournalStore{
		runs:     make(map[uuid.UUID]store.Run),
		outcomes: make(map[uuid.UUID][]store.Outcome),
		sites:    make(map[uuid.UUID]map[string]*store.SiteStats),
	}
}

// StartRun records a running run. Repeated starts keep the first timestamp.
func (s *JournalStore) StartRun(_ context.Context, runID uuid.UUID, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[runID]; exists {
		return nil
	}
	s.runs[runID] = store.Run{ID: runID, StartedAt: startedAt, Status: store.RunRunning}
	return nil
}

// CompleteRun marks a run finished.
func (s *JournalStore) CompleteRun(
	_ context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	run.FinishedAt = pointerTime(finishedAt)
	run.Status = status
	if errMsg != nil {
		msg := *errMsg
		run.ErrorMessage = &msg
	}
	s.runs[runID] = run
	return nil
}

// RecordOutcomes appends outcomes to their runs.
func (s *JournalStore) RecordOutcomes(_ context.Context, outcomes []store.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range outcomes {
		if o.RunID == uuid.Nil {
			return errors.New("outcome run id is required")
		}
		s.outcomes[o.RunID] = append(s.outcomes[o.RunID], o)
	}
	return nil
}

// UpsertSiteStats applies deltas to the (run, site) aggregate.
func (s *JournalStore) UpsertSiteStats(
	_ context.Context,
	runID uuid.UUID,
	site string,
	deltaFetches int64,
	deltaBytes int64,
	statusClass string,
	at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bySite := s.sites[runID]
	if bySite == nil {
		bySite = make(map[string]*store.SiteStats)
		s.sites[runID] = bySite
	}
	stat := bySite[site]
	if stat == nil {
		stat = &store.SiteStats{RunID: runID, Site: site}
		bySite[site] = stat
	}
	switch statusClass {
	case "2xx":
		stat.Fetch2xx += deltaFetches
	case "3xx":
		stat.Fetch3xx += deltaFetches
	case "4xx":
		stat.Fetch4xx += deltaFetches
	case "5xx":
		stat.Fetch5xx += deltaFetches
	default:
		return errors.New("unknown status class: " + statusClass)
	}
	stat.Fetches += deltaFetches
	stat.BytesTotal += deltaBytes
	if at.After(stat.LastUpdate) {
		stat.LastUpdate = at
	}
	return nil
}

// GetRun fetches a run by ID.
func (s *JournalStore) GetRun(_ context.Context, runID uuid.UUID) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *JournalStore) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	s.mu.RLock()
	runs := make([]store.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		runs = append(runs, run)
	}
	s.mu.RUnlock()
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	return page(runs, limit, offset), nil
}

// ListOutcomes returns a copy of a run's outcomes in record order.
func (s *JournalStore) ListOutcomes(
	_ context.Context,
	runID uuid.UUID,
	filter store.OutcomeFilter,
) ([]store.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.runs[runID]; !ok {
		return nil, store.ErrNotFound
	}
	out := make([]store.Outcome, 0, len(s.outcomes[runID]))
	for _, o := range s.outcomes[runID] {
		if filter.State != "" && o.State != filter.State {
			continue
		}
		out = append(out, o)
	}
	return page(out, filter.Limit, filter.Offset), nil
}

// ListRunSites returns site aggregates ordered by last update, newest first.
func (s *JournalStore) ListRunSites(_ context.Context, runID uuid.UUID, limit, offset int) ([]store.SiteStats, error) {
	s.mu.RLock()
	out := make([]store.SiteStats, 0, len(s.sites[runID]))
	for _, stat := range s.sites[runID] {
		out = append(out, *stat)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastUpdate.Equal(out[j].LastUpdate) {
			return out[i].Site < out[j].Site
		}
		return out[i].LastUpdate.After(out[j].LastUpdate)
	})
	return page(out, limit, offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return []T{}
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
