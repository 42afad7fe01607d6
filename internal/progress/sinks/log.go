package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/crawlwright/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. It is useful
// during development or audits where a durable store is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields. Fetch starts
// are logged at debug level; everything else at info.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.Time("ts", evt.TS),
		}
		if evt.Site != "" {
			fields = append(fields, zap.String("site", evt.Site))
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL), zap.Int("attempt", evt.Attempt))
		}
		if evt.Label != "" {
			fields = append(fields, zap.String("label", evt.Label))
		}
		if evt.StatusCode != 0 {
			fields = append(fields,
				zap.Int("status", evt.StatusCode),
				zap.String("status_class", string(progress.ClassifyStatus(evt.StatusCode))),
			)
		}
		if evt.Bytes > 0 {
			fields = append(fields, zap.Int64("bytes", evt.Bytes))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		level := zapcore.InfoLevel
		if evt.Stage == progress.StageFetchStart {
			level = zapcore.DebugLevel
		}
		s.logger.Log(level, "progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
