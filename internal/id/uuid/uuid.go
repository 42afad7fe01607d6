// Package uuid mints crawl run identifiers.
package uuid

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrExhausted is returned by a Sequence with no IDs left.
var ErrExhausted = errors.New("run id sequence exhausted")

// Generator mints UUIDv7 run IDs, which sort by start time.
type Generator struct{}

// New returns a Generator.
func New() Generator {
	return Generator{}
}

// NewRunID implements crawler.RunIDGenerator.
func (Generator) NewRunID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("mint run id: %w", err)
	}
	return id, nil
}

// Sequence hands out a fixed list of run IDs in order, then ErrExhausted.
// It pins run IDs in tests and replays.
type Sequence struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

// NewSequence returns a Sequence over ids.
func NewSequence(ids ...uuid.UUID) *Sequence {
	return &Sequence{ids: append([]uuid.UUID(nil), ids...)}
}

// NewRunID implements crawler.RunIDGenerator.
func (s *Sequence) NewRunID() (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ids) == 0 {
		return uuid.Nil, ErrExhausted
	}
	id := s.ids[0]
	s.ids = s.ids[1:]
	return id, nil
}
