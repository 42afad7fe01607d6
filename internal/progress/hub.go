package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config tunes the Hub.
//   - BufferSize: capacity of the event queue (default 4096).
//   - MaxBatchEvents: flush once a batch holds this many events (default 1000).
//   - MaxBatchWait: longest time the oldest queued event waits for a flush (default 500ms).
//   - SinkTimeout: per-sink deadline for a single delivery (default 10s).
//   - LifecycleWait: how long Emit may block to enqueue run and terminal
//     events when the queue is full (default 2s, negative disables).
//   - Logger: receives drop and sink failure warnings.
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	LifecycleWait  time.Duration
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 1000
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	defaultLifecycleWait  = 2 * time.Second
	dropLogInterval       = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = defaultMaxBatchEvents
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = defaultMaxBatchWait
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.LifecycleWait == 0 {
		c.LifecycleWait = defaultLifecycleWait
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub batches crawl events on a background goroutine and fans every batch out
// to its sinks in registration order. Fetch-level events never block the
// emitting worker and are shed under backpressure. Run and terminal events
// feed the journal's outcome rows, so Emit waits up to LifecycleWait for
// queue space before giving up on them.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	stopCh chan struct{}
	doneCh chan struct{}
	logger *zap.Logger

	closed    atomic.Bool
	inflight  atomic.Int64
	closeOnce sync.Once
	closeCtx  context.Context

	dropped      atomic.Int64
	sinceWarn    atomic.Int64
	warnSometime rate.Sometimes
}

// NewHub starts a Hub delivering to sinks. Nil sinks are skipped.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:          cfg,
		events:       make(chan Event, cfg.BufferSize),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
		logger:       cfg.Logger,
		warnSometime: rate.Sometimes{Interval: dropLogInterval},
	}
	for _, sink := range sinks {
		if sink != nil {
			h.sinks = append(h.sinks, sink)
		}
	}
	go h.loop()
	return h
}

// Emit queues evt for delivery. Invalid events and events emitted after Close
// are discarded.
func (h *Hub) Emit(evt Event) {
	if h == nil {
		return
	}
	// Registered before the closed check so shutdown waits for this send.
	h.inflight.Add(1)
	defer h.inflight.Add(-1)
	if h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid crawl event", zap.String("stage", string(evt.Stage)), zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
		return
	default:
	}
	if (evt.Stage.IsRunStage() || evt.Stage.IsTerminal()) && h.waitEnqueue(evt) {
		return
	}
	h.shed(evt)
}

// Dropped reports how many events were shed because the queue was full.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

func (h *Hub) waitEnqueue(evt Event) bool {
	if h.cfg.LifecycleWait <= 0 {
		return false
	}
	timer := time.NewTimer(h.cfg.LifecycleWait)
	defer timer.Stop()
	select {
	case h.events <- evt:
		return true
	case <-h.stopCh:
		return false
	case <-timer.C:
		return false
	}
}

func (h *Hub) shed(evt Event) {
	h.dropped.Add(1)
	h.sinceWarn.Add(1)
	h.warnSometime.Do(func() {
		h.logger.Warn("crawl events shed under backpressure",
			zap.Int64("dropped", h.sinceWarn.Swap(0)),
			zap.String("last_stage", string(evt.Stage)),
		)
	})
}

// Close stops intake, delivers whatever is queued, closes every sink with ctx
// and waits for the background goroutine. Repeated calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closeCtx = ctx
		h.closed.Store(true)
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

// loop owns the pending batch. The flush deadline is armed by the first event
// of a batch, so a steady trickle cannot postpone delivery indefinitely.
func (h *Hub) loop() {
	defer close(h.doneCh)

	pending := make([]Event, 0, h.cfg.MaxBatchEvents)
	var (
		deadline *time.Timer
		due      <-chan time.Time
	)
	disarm := func() {
		if deadline != nil {
			deadline.Stop()
		}
		deadline, due = nil, nil
	}
	flush := func() {
		disarm()
		if len(pending) == 0 {
			return
		}
		h.deliver(pending)
		pending = pending[:0]
	}

	for {
		select {
		case evt := <-h.events:
			pending = append(pending, evt)
			if len(pending) >= h.cfg.MaxBatchEvents {
				flush()
			} else if due == nil {
				deadline = time.NewTimer(h.cfg.MaxBatchWait)
				due = deadline.C
			}
		case <-due:
			deadline, due = nil, nil
			flush()
		case <-h.stopCh:
			drain := func() {
				for {
					select {
					case evt := <-h.events:
						pending = append(pending, evt)
						if len(pending) >= h.cfg.MaxBatchEvents {
							flush()
						}
					default:
						return
					}
				}
			}
			// Emits that passed the closed check before Close are still
			// delivered; their sends land before inflight drops to zero.
			for drain(); h.inflight.Load() > 0; drain() {
				time.Sleep(time.Millisecond)
			}
			drain()
			flush()
			h.closeSinks()
			return
		}
	}
}

// deliver hands each sink its own copy of the batch. A failing or panicking
// sink is logged and the remaining sinks still receive the batch.
func (h *Hub) deliver(batch []Event) {
	for _, sink := range h.sinks {
		owned := append([]Event(nil), batch...)
		if err := h.consume(sink, owned); err != nil {
			h.logger.Warn("progress sink consume failed",
				zap.String("sink", fmt.Sprintf("%T", sink)),
				zap.Int("events", len(owned)),
				zap.Error(err),
			)
		}
	}
}

func (h *Hub) consume(sink Sink, batch []Event) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return sink.Consume(ctx, batch)
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed",
				zap.String("sink", fmt.Sprintf("%T", sink)),
				zap.Error(err),
			)
		}
	}
}
