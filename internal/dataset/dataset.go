// Package dataset collects records produced by parse_page hooks.
package dataset

import (
	"context"
	"sync"
	"time"
)

// Record is one extracted item.
type Record struct {
	URL       string         `json:"url"`
	Label     string         `json:"label,omitempty"`
	Data      map[string]any `json:"data"`
	ScrapedAt time.Time      `json:"scraped_at"`
}

// Sink persists records. Implementations must be safe for concurrent Push
// calls from multiple workers.
type Sink interface {
	Push(ctx context.Context, rec Record) error
	Close() error
}

// MemorySink keeps records in-memory for development and tests.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

// NewMemorySink constructs an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Push appends rec.
func (s *MemorySink) Push(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of the stored records in push order.
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Len reports the number of stored records.
func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Close implements Sink; it performs no action.
func (s *MemorySink) Close() error {
	return nil
}
