package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/skypro1111/sales-intake-service/internal/config"
	"github.com/skypro1111/sales-intake-service/internal/metrics"
	"github.com/skypro1111/sales-intake-service/internal/session"
)

// maxAcceptDelay caps the back-off after consecutive accept errors
const maxAcceptDelay = time.Second

// ConnHandler serves one accepted connection and closes it
type ConnHandler interface {
	Serve(conn net.Conn) error
}

// TCPServer accepts branch connections and hands each one to the
// session handler on its own goroutine
type TCPServer struct {
	listener   net.Listener
	config     *config.ServerConfig
	logger     *slog.Logger
	handler    ConnHandler
	sessionMgr *session.Manager
	metrics    *metrics.Metrics

	// Concurrency management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	slots  chan struct{} // nil when max_sessions is 0

	// Counters
	connectionsAccepted uint64
	acceptErrors        uint64
	mu                  sync.RWMutex
}

// ServerStatistics represents listener counters
type ServerStatistics struct {
	Address             string `json:"address"`
	ConnectionsAccepted uint64 `json:"connections_accepted"`
	AcceptErrors        uint64 `json:"accept_errors"`
	ActiveSessions      int    `json:"active_sessions"`
	MaxSessions         int    `json:"max_sessions"`
}

// NewTCPServer creates a new TCP server instance. m may be nil.
func NewTCPServer(cfg *config.ServerConfig, logger *slog.Logger, handler ConnHandler, sessionMgr *session.Manager, m *metrics.Metrics) *TCPServer {
	ctx, cancel := context.WithCancel(context.Background())

	s := &TCPServer{
		config:     cfg,
		logger:     logger,
		handler:    handler,
		sessionMgr: sessionMgr,
		metrics:    m,
		ctx:        ctx,
		cancel:     cancel,
	}
	if cfg.MaxSessions > 0 {
		s.slots = make(chan struct{}, cfg.MaxSessions)
	}

	return s
}

// Listen binds the listening socket
func (s *TCPServer) Listen() error {
	listener, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address(), err)
	}

	s.listener = listener

	s.logger.Info("TCP server started",
		slog.String("address", listener.Addr().String()),
		slog.Int("frame_size", s.config.FrameSize),
		slog.Int("max_sessions", s.config.MaxSessions),
	)

	return nil
}

// Serve runs the accept loop until Close is called. Listen must have
// succeeded first.
func (s *TCPServer) Serve() error {
	if s.listener == nil {
		return errors.New("server is not listening")
	}

	var delay time.Duration

	for {
		if !s.acquireSlot() {
			return nil
		}

		conn, err := s.listener.Accept()
		if err != nil {
			s.releaseSlot()

			select {
			case <-s.ctx.Done():
				return nil
			default:
			}

			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("listener closed: %w", err)
			}

			s.mu.Lock()
			s.acceptErrors++
			s.mu.Unlock()
			if s.metrics != nil {
				s.metrics.RecordAcceptError()
			}

			if delay == 0 {
				delay = 5 * time.Millisecond
			} else if delay *= 2; delay > maxAcceptDelay {
				delay = maxAcceptDelay
			}

			s.logger.Error("Failed to accept connection",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", delay),
			)

			select {
			case <-time.After(delay):
			case <-s.ctx.Done():
				return nil
			}
			continue
		}
		delay = 0

		s.mu.Lock()
		s.connectionsAccepted++
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Start binds the listener and runs the accept loop in the background
func (s *TCPServer) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Serve(); err != nil {
			s.logger.Error("Accept loop stopped", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Close stops accepting connections and waits for sessions in flight
func (s *TCPServer) Close() error {
	s.logger.Info("Stopping TCP server...")

	s.cancel()

	var err error
	if s.listener != nil {
		if err = s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Warn("Error closing listener", slog.String("error", err.Error()))
		} else {
			err = nil
		}
	}

	s.wg.Wait()

	stats := s.GetStatistics()
	s.logger.Info("TCP server stopped",
		slog.Uint64("connections_accepted", stats.ConnectionsAccepted),
		slog.Uint64("accept_errors", stats.AcceptErrors),
	)

	return err
}

// Addr returns the bound address, nil before Listen
func (s *TCPServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// GetStatistics returns current server statistics
func (s *TCPServer) GetStatistics() ServerStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := ServerStatistics{
		Address:             s.config.Address(),
		ConnectionsAccepted: s.connectionsAccepted,
		AcceptErrors:        s.acceptErrors,
		MaxSessions:         s.config.MaxSessions,
	}
	if s.listener != nil {
		stats.Address = s.listener.Addr().String()
	}
	if s.sessionMgr != nil {
		stats.ActiveSessions = s.sessionMgr.GetActiveSessionCount()
	}

	return stats
}

func (s *TCPServer) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.releaseSlot()

	// The handler logs its own failures.
	_ = s.handler.Serve(conn)
}

// acquireSlot blocks until a session slot is free. It returns false when
// the server is closing.
func (s *TCPServer) acquireSlot() bool {
	if s.slots == nil {
		return true
	}

	select {
	case s.slots <- struct{}{}:
		return true
	default:
	}

	s.logger.Debug("Session limit reached, waiting for a free slot",
		slog.Int("max_sessions", s.config.MaxSessions),
	)

	select {
	case s.slots <- struct{}{}:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *TCPServer) releaseSlot() {
	if s.slots != nil {
		<-s.slots
	}
}
