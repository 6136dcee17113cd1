package telemetry

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// FileSink appends events as JSON lines. One event per line keeps the file
// greppable and loadable by log shippers.
type FileSink struct {
	mu  sync.Mutex
	f   *os.File
	buf *bufio.Writer
}

func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open telemetry file: %w", err)
	}
	return &FileSink{f: f, buf: bufio.NewWriter(f)}, nil
}

func (s *FileSink) Write(_ context.Context, events []UsageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	enc := json.NewEncoder(s.buf)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("encode usage event: %w", err)
		}
	}
	return s.buf.Flush()
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.buf.Flush(); err != nil {
		_ = s.f.Close()
		return err
	}
	return s.f.Close()
}
