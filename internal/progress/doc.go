// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces that the crawl engine uses to report request lifecycle changes. It
// batches events on a background goroutine and fans them out to pluggable sinks
// such as structured logs, Prometheus metrics or the run journal.
package progress
