package sinks

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/crawlwright/internal/progress"
)

// metricsNamespace prefixes every crawl metric name.
const metricsNamespace = "crawlwright"

// PrometheusSink exports crawl progress metrics via Prometheus. It owns all
// collectors for runs started/completed/running, per-site fetch counters and
// request outcomes.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runRuntime    *prometheus.HistogramVec

	fetchRequests *prometheus.CounterVec
	fetchBytes    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec

	retries        *prometheus.CounterVec
	outcomes       *prometheus.CounterVec
	robotsFailOpen *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "runs_started_total",
			Help:      "Total crawl runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "runs_completed_total",
			Help:      "Total crawl runs completed partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "runs_running",
			Help:      "Current number of running crawl runs.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "run_runtime_seconds",
			Help:      "Wall time per completed run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		fetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "fetch_requests_total",
			Help:      "Fetch completions partitioned by site and status class.",
		}, []string{"site", "status_class"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "fetch_bytes_total",
			Help:      "Bytes downloaded per site.",
		}, []string{"site"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "fetch_duration_seconds",
			Help:      "Fetch duration partitioned by site and status class.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"site", "status_class"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "retries_scheduled_total",
			Help:      "Retries scheduled per site.",
		}, []string{"site"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "request_outcomes_total",
			Help:      "Terminal request outcomes partitioned by state and reason.",
		}, []string{"state", "reason"}),
		robotsFailOpen: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "robots_fail_open_total",
			Help:      "Hosts whose robots.txt could not be obtained and were treated as allow-all.",
		}, []string{"site"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runRuntime,
		s.fetchRequests,
		s.fetchBytes,
		s.fetchDuration,
		s.retries,
		s.outcomes,
		s.robotsFailOpen,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart, progress.StageRunDone, progress.StageRunInterrupted:
		s.handleRunEvent(evt)
	case progress.StageFetchDone, progress.StageFetchFailed:
		s.handleFetchEvent(evt)
	case progress.StageRetryScheduled:
		s.retries.WithLabelValues(siteLabel(evt.Site)).Inc()
	case progress.StageDone:
		s.outcomes.WithLabelValues(string(evt.Stage), "").Inc()
	case progress.StageDoneWithError:
		s.outcomes.WithLabelValues(string(evt.Stage), "hook_error").Inc()
	case progress.StageDropped, progress.StagePolicyBlocked:
		s.outcomes.WithLabelValues(string(progress.StageDropped), dropReason(evt.Note)).Inc()
	case progress.StageRobotsFailOpen:
		s.robotsFailOpen.WithLabelValues(siteLabel(evt.Site)).Inc()
	}
}

func (s *PrometheusSink) handleRunEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
		return
	case progress.StageRunDone:
		result := "success"
		if evt.Note != "" {
			result = "error"
		}
		s.runsCompleted.WithLabelValues(result).Inc()
		s.observeRuntime(evt, result)
	case progress.StageRunInterrupted:
		s.runsCompleted.WithLabelValues("interrupted").Inc()
		s.observeRuntime(evt, "interrupted")
	}
	if s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleFetchEvent(evt progress.Event) {
	site := siteLabel(evt.Site)
	statusClass := string(progress.ClassifyStatus(evt.StatusCode))
	s.fetchRequests.WithLabelValues(site, statusClass).Inc()
	if evt.Bytes > 0 {
		s.fetchBytes.WithLabelValues(site).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(site, statusClass).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func siteLabel(site string) string {
	if site == "" {
		return "unknown"
	}
	return site
}

// dropReason extracts the reason from a DROPPED or POLICY_BLOCKED note,
// which is either "reason" or "reason: last error".
func dropReason(note string) string {
	reason, _, _ := strings.Cut(note, ": ")
	return reason
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
