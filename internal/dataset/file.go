package dataset

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// FileSink appends records to a JSON Lines file.
type FileSink struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	buf    *bufio.Writer
	count  int64
	closed bool
	logger *zap.Logger
}

// NewFileSink opens (or creates) path for appending. Parent directories are
// created as needed.
func NewFileSink(path string, logger *zap.Logger) (*FileSink, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("dataset path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create dataset dir for %s: %w", path, err)
	}
	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open dataset %s: %w", path, err)
	}
	return &FileSink{
		path:   path,
		file:   f,
		buf:    bufio.NewWriter(f),
		logger: logger,
	}, nil
}

// Push writes rec as one JSON line.
func (s *FileSink) Push(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("dataset sink closed")
	}
	if _, err := s.buf.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("write record to %s: %w", s.path, err)
	}
	s.count++
	return nil
}

// Count reports the number of records written.
func (s *FileSink) Count() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Path returns the file location.
func (s *FileSink) Path() string {
	return s.path
}

// Close flushes buffered records and closes the file. It is idempotent.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	flushErr := s.buf.Flush()
	closeErr := s.file.Close()
	if err := errors.Join(flushErr, closeErr); err != nil {
		return fmt.Errorf("close dataset %s: %w", s.path, err)
	}
	s.logger.Info("dataset closed", zap.String("path", s.path), zap.Int64("records", s.count))
	return nil
}
