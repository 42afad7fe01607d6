package sinks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlwright/internal/progress"
	"github.com/JakeFAU/crawlwright/internal/store"
)

// StoreSink writes the run journal via a store.JournalRepository. Terminal
// request events become outcome rows; fetch completions are collapsed into
// site-level deltas to reduce write amplification.
type StoreSink struct {
	repo   store.JournalRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.JournalRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards the batch to the repository in event order: pending
// outcomes are flushed before each run event so a completed run never
// precedes its own outcomes. It returns any repository errors verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	stats := make(map[statsKey]*statsDelta)
	var pending []store.Outcome

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := s.repo.RecordOutcomes(ctx, pending); err != nil {
			return fmt.Errorf("record outcomes: %w", err)
		}
		pending = nil
		return nil
	}

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch {
		case evt.Stage.IsRunStage():
			if err := flush(); err != nil {
				return err
			}
			if err := s.handleRunEvent(ctx, runID, evt); err != nil {
				return err
			}
		case evt.Stage.IsTerminal():
			pending = append(pending, outcomeFromEvent(runID, evt))
		case evt.Stage == progress.StageFetchDone || evt.Stage == progress.StageFetchFailed:
			s.recordSiteStats(stats, runID, evt)
		}
	}
	if err := flush(); err != nil {
		return err
	}

	for key, delta := range stats {
		if delta.fetches == 0 {
			continue
		}
		if err := s.repo.UpsertSiteStats(
			ctx,
			key.runID,
			key.site,
			delta.fetches,
			delta.bytes,
			key.statusClass,
			delta.at,
		); err != nil {
			return fmt.Errorf("upsert site stats: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) handleRunEvent(ctx context.Context, runID uuid.UUID, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageRunStart:
		if err := s.repo.StartRun(ctx, runID, evt.TS); err != nil {
			return fmt.Errorf("start run: %w", err)
		}
		return nil
	case progress.StageRunDone:
		status := store.RunSucceeded
		if evt.Note != "" {
			status = store.RunError
		}
		return s.completeRun(ctx, runID, evt, status)
	case progress.StageRunInterrupted:
		return s.completeRun(ctx, runID, evt, store.RunInterrupted)
	}
	return nil
}

func (s *StoreSink) completeRun(ctx context.Context, runID uuid.UUID, evt progress.Event, status store.RunStatus) error {
	var note *string
	if evt.Note != "" {
		note = &evt.Note
	}
	if err := s.repo.CompleteRun(ctx, runID, evt.TS, status, note); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

func outcomeFromEvent(runID uuid.UUID, evt progress.Event) store.Outcome {
	o := store.Outcome{
		RunID:   runID,
		URL:     evt.URL,
		Label:   evt.Label,
		State:   string(evt.Stage),
		Retries: evt.Attempt,
		At:      evt.TS,
	}
	switch evt.Stage {
	case progress.StageDoneWithError:
		o.Reason = "hook_error"
		o.Error = evt.Note
	case progress.StagePolicyBlocked:
		o.State = string(progress.StageDropped)
		o.Reason = evt.Note
	case progress.StageDropped:
		o.Reason, o.Error, _ = strings.Cut(evt.Note, ": ")
	}
	return o
}

func (s *StoreSink) recordSiteStats(stats map[statsKey]*statsDelta, runID uuid.UUID, evt progress.Event) {
	if evt.Site == "" || evt.StatusCode == 0 {
		return
	}
	class := progress.ClassifyStatus(evt.StatusCode)
	if class == progress.StatusOther {
		s.logger.Debug("skipping site stats for unclassified status",
			zap.String("site", evt.Site),
			zap.Int("status", evt.StatusCode),
		)
		return
	}
	key := statsKey{
		runID:       runID,
		site:        evt.Site,
		statusClass: string(class),
	}
	stat := stats[key]
	if stat == nil {
		stat = &statsDelta{}
		stats[key] = stat
	}
	stat.fetches++
	stat.bytes += evt.Bytes
	if evt.TS.After(stat.at) || stat.at.IsZero() {
		stat.at = evt.TS
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type statsKey struct {
	runID       uuid.UUID
	site        string
	statusClass string
}

type statsDelta struct {
	fetches int64
	bytes   int64
	at      time.Time
}
