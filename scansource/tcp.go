package scansource

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/alexandrut83/sentinel/sentinel"
)

// maxLineSize bounds a single JSON line from a radio bridge
const maxLineSize = 64 * 1024

// TCPSource accepts radio bridge connections that push observed events as
// newline-delimited JSON objects.
type TCPSource struct {
	mu       sync.Mutex
	addr     string
	listener net.Listener
	sink     sentinel.ScanSink
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	logger   *zap.Logger
}

// NewTCPSource creates a source that listens on addr once started
func NewTCPSource(addr string, logger *zap.Logger) *TCPSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TCPSource{
		addr:   addr,
		conns:  make(map[net.Conn]struct{}),
		logger: logger.Named("tcp-source"),
	}
}

// Start begins accepting bridge connections
func (s *TCPSource) Start(sink sentinel.ScanSink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return errors.New("tcp source already started")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	s.sink = sink

	s.wg.Add(1)
	go s.acceptConnections(listener, sink)

	s.logger.Info("accepting radio bridges", zap.String("addr", listener.Addr().String()))
	return nil
}

// Addr returns the bound address, or nil before Start
func (s *TCPSource) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *TCPSource) acceptConnections(listener net.Listener, sink sentinel.ScanSink) {
	defer s.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			sink.SourceError(fmt.Errorf("accept bridge connection: %w", err))
			time.Sleep(100 * time.Millisecond)
			continue
		}

		s.mu.Lock()
		if s.listener != listener {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(conn, sink)
	}
}

// handleConnection decodes one event per line until the bridge disconnects.
func (s *TCPSource) handleConnection(conn net.Conn, sink sentinel.ScanSink) {
	defer s.wg.Done()
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	remote := conn.RemoteAddr().String()
	s.logger.Debug("bridge connected", zap.String("remote", remote))

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var event sentinel.ObservedEvent
		if err := json.Unmarshal(line, &event); err != nil {
			s.logger.Warn("malformed event", zap.String("remote", remote), zap.Error(err))
			continue
		}
		sink.Observe(event)
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		sink.SourceError(fmt.Errorf("bridge %s: %w", remote, err))
	}
	s.logger.Debug("bridge disconnected", zap.String("remote", remote))
}

// Stop closes the listener and every bridge connection
func (s *TCPSource) Stop() error {
	s.mu.Lock()
	listener := s.listener
	s.listener = nil
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	if listener == nil {
		return nil
	}
	err := listener.Close()
	s.wg.Wait()
	return err
}
