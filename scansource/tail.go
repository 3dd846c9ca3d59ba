package scansource

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/hpcloud/tail"
	"go.uber.org/zap"

	"github.com/alexandrut83/sentinel/sentinel"
)

// TailSource follows a JSONL file of observed events, e.g. a capture written
// by a radio bridge or a recorded drive replayed for testing.
type TailSource struct {
	mu       sync.Mutex
	path     string
	fromHead bool
	tail     *tail.Tail
	done     chan struct{}
	logger   *zap.Logger
}

// NewTailSource creates a source following path. With fromHead the existing
// contents are replayed before following new lines.
func NewTailSource(path string, fromHead bool, logger *zap.Logger) *TailSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TailSource{
		path:     path,
		fromHead: fromHead,
		logger:   logger.Named("tail-source"),
	}
}

// Start begins following the file
func (s *TailSource) Start(sink sentinel.ScanSink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tail != nil {
		return errors.New("tail source already started")
	}

	cfg := tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Logger:    tail.DiscardingLogger,
	}
	if !s.fromHead {
		cfg.Location = &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd}
	}

	t, err := tail.TailFile(s.path, cfg)
	if err != nil {
		return fmt.Errorf("failed to tail %s: %w", s.path, err)
	}
	s.tail = t
	s.done = make(chan struct{})

	go s.follow(t, sink, s.done)
	s.logger.Info("following scan capture", zap.String("path", s.path))
	return nil
}

func (s *TailSource) follow(t *tail.Tail, sink sentinel.ScanSink, done chan struct{}) {
	defer close(done)

	for line := range t.Lines {
		if line.Err != nil {
			sink.SourceError(line.Err)
			continue
		}

		text := strings.TrimSpace(line.Text)
		if text == "" {
			continue
		}

		var event sentinel.ObservedEvent
		if err := json.Unmarshal([]byte(text), &event); err != nil {
			s.logger.Warn("malformed event", zap.Error(err))
			continue
		}
		sink.Observe(event)
	}
}

// Stop stops following the file
func (s *TailSource) Stop() error {
	s.mu.Lock()
	t, done := s.tail, s.done
	s.tail = nil
	s.mu.Unlock()

	if t == nil {
		return nil
	}
	err := t.Stop()
	t.Cleanup()
	<-done
	return err
}
