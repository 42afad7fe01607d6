package progress

import "context"

// Sink receives ordered batches of crawl events from a Hub. Consume is
// called from a single goroutine per Hub; a sink shared between hubs must
// synchronize itself.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter is the engine-facing side of the Hub.
type Emitter interface {
	Emit(evt Event)
}

// SinkFunc adapts a plain function into a Sink with a no-op Close.
type SinkFunc func(ctx context.Context, batch []Event) error

// Consume calls f.
func (f SinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

// Close implements Sink.
func (SinkFunc) Close(context.Context) error {
	return nil
}
