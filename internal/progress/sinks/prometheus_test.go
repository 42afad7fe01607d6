package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawlwright/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart},
		{
			RunID:      runID,
			TS:         now.Add(10 * time.Second),
			Stage:      progress.StageFetchDone,
			Site:       "example.com",
			URL:        "https://example.com/",
			Bytes:      1024,
			StatusCode: 200,
			Dur:        200 * time.Millisecond,
		},
		{
			RunID:      runID,
			TS:         now.Add(11 * time.Second),
			Stage:      progress.StageFetchFailed,
			Site:       "example.com",
			URL:        "https://example.com/x",
			StatusCode: 503,
		},
		{RunID: runID, TS: now, Stage: progress.StageRetryScheduled, Site: "example.com", URL: "https://example.com/x"},
		{RunID: runID, TS: now, Stage: progress.StageDone, URL: "https://example.com/"},
		{RunID: runID, TS: now, Stage: progress.StageDropped, URL: "https://example.com/x", Note: "retries_exhausted: 503"},
		{RunID: runID, TS: now, Stage: progress.StagePolicyBlocked, URL: "https://example.com/admin", Note: "robots_disallowed"},
		{RunID: runID, TS: now, Stage: progress.StageRobotsFailOpen, Site: "other.org"},
		{RunID: runID, TS: now.Add(15 * time.Second), Stage: progress.StageRunDone, Dur: 15 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))

	require.InDelta(t, 1.0, testutil.ToFloat64(sink.fetchRequests.WithLabelValues("example.com", "2xx")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.fetchRequests.WithLabelValues("example.com", "5xx")), 1e-9)
	require.InDelta(t, 1024.0, testutil.ToFloat64(sink.fetchBytes.WithLabelValues("example.com")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.fetchDuration, "crawlwright_fetch_duration_seconds"))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.retries.WithLabelValues("example.com")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.outcomes.WithLabelValues("DONE", "")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.outcomes.WithLabelValues("DROPPED", "retries_exhausted")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.outcomes.WithLabelValues("DROPPED", "robots_disallowed")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.robotsFailOpen.WithLabelValues("other.org")))
}

func TestPrometheusSinkInterruptedRun(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)
	runID := progress.UUIDToBytes(uuid.New())

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: time.Now(), Stage: progress.StageRunStart},
		{RunID: runID, TS: time.Now(), Stage: progress.StageRunStart},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsRunning))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: time.Now(), Stage: progress.StageRunInterrupted, Dur: time.Second},
	}))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("interrupted")))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
